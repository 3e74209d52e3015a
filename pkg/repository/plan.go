// Package repository compiles method names into executable plans and binds
// them onto repository struct func fields.
package repository

import (
	"context"
	"fmt"
	"reflect"

	"github.com/dynafind/dynafind/pkg/core"
	"github.com/dynafind/dynafind/pkg/errors"
	"github.com/dynafind/dynafind/pkg/index"
	"github.com/dynafind/dynafind/pkg/method"
	"github.com/dynafind/dynafind/pkg/model"
)

var (
	ctxType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType   = reflect.TypeOf((*error)(nil)).Elem()
	pagesType = reflect.TypeOf((*core.Pages)(nil)).Elem()
	boolType  = reflect.TypeOf(false)
	countType = reflect.TypeOf(int64(0))
)

// shape is the result adaptation a plan performs.
type shape int

const (
	shapeSingle shape = iota // *T, absent as nil
	shapeSlice               // []T or []*T, drained across pages
	shapePages               // core.Pages, lazily consumed by the caller
	shapeBool                // exists
	shapeCount               // int64
	shapeDelete              // error only
	shapeDeleteCount         // (int64, error): deleted-item count
)

// Plan is the immutable compilation product for one repository method:
// parsed tree, resolved access path and result adaptation. Plans are built
// once at bind time and shared read-only across concurrent invocations.
type Plan struct {
	Tree  *method.Tree
	Path  *index.Path
	Meta  *model.Metadata
	Flags index.Flags

	shape shape
	elem  reflect.Type // slice element type for shapeSlice
}

// Compile parses, resolves and signature-checks one method. Every failure
// here is a configuration error: it fires once at bind time, never during
// calls.
func Compile(name string, fn reflect.Type, meta *model.Metadata, flags index.Flags) (*Plan, error) {
	tree, err := method.Parse(name)
	if err != nil {
		return nil, err
	}
	path, err := index.Resolve(tree, meta, flags)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Tree: tree, Path: path, Meta: meta, Flags: flags}
	if err := plan.checkSignature(fn); err != nil {
		return nil, err
	}
	return plan, nil
}

// CompileDynamic builds a plan for the name-and-arguments surface, where no
// func type constrains the result: find methods yield a slice, the other
// kinds their natural scalar.
func CompileDynamic(name string, meta *model.Metadata, flags index.Flags) (*Plan, error) {
	tree, err := method.Parse(name)
	if err != nil {
		return nil, err
	}
	path, err := index.Resolve(tree, meta, flags)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Tree: tree, Path: path, Meta: meta, Flags: flags}
	switch tree.Kind {
	case method.KindFind:
		plan.shape = shapeSlice
		plan.elem = meta.Type
	case method.KindCount:
		plan.shape = shapeCount
	case method.KindExists:
		plan.shape = shapeBool
	case method.KindDelete:
		plan.shape = shapeDelete
	}
	return plan, nil
}

// checkSignature validates the func field's type against the tree: context
// first, one parameter per bound predicate value, and a result shape that
// matches the method kind.
func (p *Plan) checkSignature(fn reflect.Type) error {
	if fn.Kind() != reflect.Func {
		return fmt.Errorf("%w: not a func", errors.ErrInvalidSignature)
	}
	if fn.IsVariadic() {
		return fmt.Errorf("%w: variadic methods are not supported", errors.ErrInvalidSignature)
	}
	if fn.NumIn() == 0 || fn.In(0) != ctxType {
		return fmt.Errorf("%w: first parameter must be context.Context", errors.ErrInvalidSignature)
	}

	want := p.Tree.ArgumentCount()
	if got := fn.NumIn() - 1; got != want {
		return fmt.Errorf("%w: %s binds %d value(s), method takes %d", errors.ErrParameterCount, p.Tree.Method, want, got)
	}

	if fn.NumOut() == 0 || fn.Out(fn.NumOut()-1) != errType {
		return fmt.Errorf("%w: last return must be error", errors.ErrInvalidSignature)
	}

	switch p.Tree.Kind {
	case method.KindDelete:
		switch {
		case fn.NumOut() == 1:
			p.shape = shapeDelete
		case fn.NumOut() == 2 && fn.Out(0) == countType:
			p.shape = shapeDeleteCount
		default:
			return fmt.Errorf("%w: delete methods return error or (int64, error)", errors.ErrInvalidSignature)
		}
		return nil

	case method.KindCount:
		if fn.NumOut() != 2 || fn.Out(0) != countType {
			return fmt.Errorf("%w: count methods return (int64, error)", errors.ErrInvalidSignature)
		}
		p.shape = shapeCount
		return nil

	case method.KindExists:
		if fn.NumOut() != 2 || fn.Out(0) != boolType {
			return fmt.Errorf("%w: exists methods return (bool, error)", errors.ErrInvalidSignature)
		}
		p.shape = shapeBool
		return nil
	}

	if fn.NumOut() != 2 {
		return fmt.Errorf("%w: find methods return (result, error)", errors.ErrInvalidSignature)
	}
	out := fn.Out(0)
	switch {
	case out == pagesType:
		p.shape = shapePages
	case out.Kind() == reflect.Ptr && out.Elem() == p.Meta.Type:
		p.shape = shapeSingle
	case out.Kind() == reflect.Slice && out.Elem() == p.Meta.Type:
		p.shape = shapeSlice
		p.elem = out.Elem()
	case out.Kind() == reflect.Slice && out.Elem().Kind() == reflect.Ptr && out.Elem().Elem() == p.Meta.Type:
		p.shape = shapeSlice
		p.elem = out.Elem()
	default:
		return fmt.Errorf("%w: find methods return *%[2]s, []%[2]s, []*%[2]s or core.Pages", errors.ErrInvalidSignature, p.Meta.Type.Name())
	}
	return nil
}

// returnType is the concrete first return value type for the plan.
func (p *Plan) returnType() reflect.Type {
	switch p.shape {
	case shapeSingle:
		return reflect.PtrTo(p.Meta.Type)
	case shapeSlice:
		return reflect.SliceOf(p.elem)
	case shapePages:
		return pagesType
	case shapeBool:
		return boolType
	case shapeCount, shapeDeleteCount:
		return countType
	default:
		return nil
	}
}
