package naming

import "testing"

func TestDefaultAttrName(t *testing.T) {
	tests := map[string]string{
		"Name":       "name",
		"CreatedAt":  "createdAt",
		"URLValue":   "urlValue",
		"ID":         "id",
		"UUID":       "uuid",
		"HTTPCode":   "httpCode",
		"CustomerID": "customerID",
		"PK":         "PK",
		"SK":         "SK",
		"X":          "x",
		"":           "",
	}

	for input, expected := range tests {
		if got := DefaultAttrName(input); got != expected {
			t.Errorf("DefaultAttrName(%q) = %q, want %q", input, got, expected)
		}
	}
}
