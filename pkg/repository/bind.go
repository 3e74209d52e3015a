package repository

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/dynafind/dynafind/pkg/core"
	"github.com/dynafind/dynafind/pkg/errors"
	"github.com/dynafind/dynafind/pkg/index"
	"github.com/dynafind/dynafind/pkg/model"
)

// Bind populates every exported func field of a repository struct with an
// implementation derived from the field's name. The entity fixes the table
// and key metadata for all of the struct's methods. Binding fails on the
// first misdeclared method, so configuration mistakes surface at startup
// rather than on some later call.
//
// Field tags select per-method switches:
//
//	FindByName  func(...) ([]User, error) `dynafind:"scan"`
//	CountByName func(...) (int64, error)  `dynafind:"scancount"`
//	FindByID    func(...) (*User, error)  `dynafind:"consistent"`
//
// A field tagged `dynafind:"-"` is left untouched.
func Bind(repo, entity any, registry *model.Registry, ops core.Operations, opts ...Option) error {
	cfg := newSettings(opts)

	rv := reflect.ValueOf(repo)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: repository must be a non-nil pointer to struct", errors.ErrInvalidSignature)
	}

	if err := registry.Register(entity); err != nil {
		return err
	}
	meta, err := registry.GetMetadata(entity)
	if err != nil {
		return err
	}

	sv := rv.Elem()
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if !field.IsExported() || field.Type.Kind() != reflect.Func {
			continue
		}
		tag := field.Tag.Get("dynafind")
		if tag == "-" {
			continue
		}

		flags, err := parseFlags(tag)
		if err != nil {
			return errors.New("bind", st.Name()+"."+field.Name, err)
		}
		plan, err := Compile(field.Name, field.Type, meta, flags)
		if err != nil {
			return errors.New("bind", st.Name()+"."+field.Name, err)
		}
		cfg.log.Debug("plan compiled",
			zap.String("method", field.Name),
			zap.String("kind", string(plan.Path.Kind)),
			zap.String("index", plan.Path.IndexName))
		sv.Field(i).Set(plan.bind(field.Type, ops))
	}
	return nil
}

// bind wraps the plan as a callable of the field's exact type.
func (p *Plan) bind(fn reflect.Type, ops core.Operations) reflect.Value {
	return reflect.MakeFunc(fn, func(in []reflect.Value) []reflect.Value {
		ctx := in[0].Interface().(context.Context)
		args := make([]any, 0, len(in)-1)
		for _, v := range in[1:] {
			args = append(args, v.Interface())
		}

		result, err := p.run(ctx, ops, args)

		out := make([]reflect.Value, 0, fn.NumOut())
		if fn.NumOut() == 2 {
			if !result.IsValid() {
				result = reflect.Zero(fn.Out(0))
			}
			out = append(out, result)
		}
		errVal := reflect.Zero(errType)
		if err != nil {
			errVal = reflect.ValueOf(err)
		}
		return append(out, errVal)
	})
}

// parseFlags reads the comma-separated dynafind tag options.
func parseFlags(tag string) (index.Flags, error) {
	var flags index.Flags
	if tag == "" {
		return flags, nil
	}
	for _, part := range strings.Split(tag, ",") {
		switch strings.TrimSpace(part) {
		case "scan":
			flags.ScanEnabled = true
		case "scancount":
			flags.ScanCountEnabled = true
		case "consistent":
			flags.ConsistentRead = true
		case "":
		default:
			return flags, fmt.Errorf("%w: unknown option %q", errors.ErrInvalidTag, part)
		}
	}
	return flags, nil
}
