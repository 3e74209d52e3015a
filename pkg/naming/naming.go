// Package naming derives default DynamoDB attribute names from Go struct
// field names.
package naming

import (
	"strings"
	"unicode"
)

// DefaultAttrName converts an exported field name to its wire attribute
// name by lowering the leading run of upper-case letters as one unit, so
// initialisms survive intact: "OrderID" becomes "orderID", "UUID" becomes
// "uuid", "HTTPCode" becomes "httpCode". The single-table key names PK and
// SK pass through unchanged. Tag overrides take precedence over this
// default and are handled by the metadata registry.
func DefaultAttrName(name string) string {
	switch name {
	case "", "PK", "SK":
		return name
	}

	runes := []rune(name)
	boundary := 1
	for boundary < len(runes) && unicode.IsUpper(runes[boundary]) {
		if boundary+1 < len(runes) && !unicode.IsUpper(runes[boundary+1]) {
			break
		}
		boundary++
	}
	return strings.ToLower(string(runes[:boundary])) + string(runes[boundary:])
}
