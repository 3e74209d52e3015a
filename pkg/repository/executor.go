package repository

import (
	"context"
	"reflect"

	"github.com/dynafind/dynafind/pkg/core"
	"github.com/dynafind/dynafind/pkg/index"
	"github.com/dynafind/dynafind/pkg/request"
)

// run executes one invocation: bind arguments, dispatch to the storage
// collaborator, adapt the result to the plan's shape. Storage errors pass
// through unchanged; nothing here retries.
func (p *Plan) run(ctx context.Context, ops core.Operations, args []any) (reflect.Value, error) {
	if p.Path.Kind == index.DirectLoad {
		return p.runLoad(ctx, ops, args)
	}

	req, err := request.Build(p.Meta, p.Tree, p.Path, args, p.Flags)
	if err != nil {
		return reflect.Value{}, err
	}

	switch p.shape {
	case shapeCount:
		n, err := ops.Count(ctx, req)
		return reflect.ValueOf(n), err
	case shapePages:
		pages := p.open(ctx, ops, req)
		if p.Tree.Limit > 0 {
			pages = &limitPages{pages: pages, remaining: p.Tree.Limit}
		}
		return pagesValue(pages), nil
	case shapeSingle:
		return p.firstItem(ctx, ops, req)
	case shapeSlice:
		return p.drain(ctx, ops, req)
	case shapeBool:
		ok, err := p.anyItem(ctx, ops, req)
		return reflect.ValueOf(ok), err
	case shapeDeleteCount:
		n, err := p.deleteAll(ctx, ops, req)
		return reflect.ValueOf(n), err
	default:
		_, err := p.deleteAll(ctx, ops, req)
		return reflect.Value{}, err
	}
}

// runLoad adapts a single-item load to every result shape.
func (p *Plan) runLoad(ctx context.Context, ops core.Operations, args []any) (reflect.Value, error) {
	req, err := request.BuildLoad(p.Meta, p.Tree, p.Path, args, p.Flags)
	if err != nil {
		return reflect.Value{}, err
	}

	if p.shape == shapeDelete {
		return reflect.Value{}, ops.DeleteKey(ctx, req)
	}

	dest := reflect.New(p.Meta.Type)
	found, err := ops.Load(ctx, req, dest.Interface())
	if err != nil {
		return reflect.Value{}, err
	}

	if p.shape == shapeDeleteCount {
		var n int64
		if found {
			if err := ops.DeleteKey(ctx, req); err != nil {
				return reflect.Value{}, err
			}
			n = 1
		}
		return reflect.ValueOf(n), nil
	}

	switch p.shape {
	case shapeSingle:
		if !found {
			return reflect.Zero(reflect.PtrTo(p.Meta.Type)), nil
		}
		return dest, nil
	case shapeSlice:
		slice := reflect.MakeSlice(reflect.SliceOf(p.elem), 0, 1)
		if found {
			if p.elem.Kind() == reflect.Ptr {
				slice = reflect.Append(slice, dest)
			} else {
				slice = reflect.Append(slice, dest.Elem())
			}
		}
		return slice, nil
	case shapePages:
		if !found {
			return pagesValue(&loadedPages{}), nil
		}
		return pagesValue(&loadedPages{item: dest}), nil
	case shapeBool:
		return reflect.ValueOf(found), nil
	default: // shapeCount
		var n int64
		if found {
			n = 1
		}
		return reflect.ValueOf(n), nil
	}
}

// open dispatches the compiled request to the matching entry point.
func (p *Plan) open(ctx context.Context, ops core.Operations, req *core.Request) core.Pages {
	if req.Operation == core.OpScan {
		return ops.Scan(ctx, req)
	}
	return ops.Query(ctx, req)
}

// drain collects every page into one slice. When the method carries a
// result limit the drain stops as soon as it is reached; the wire limit
// alone cannot be trusted since pagination may keep producing items.
func (p *Plan) drain(ctx context.Context, ops core.Operations, req *core.Request) (reflect.Value, error) {
	pages := p.open(ctx, ops, req)
	result := reflect.MakeSlice(reflect.SliceOf(p.elem), 0, 0)
	page := reflect.New(reflect.SliceOf(p.elem))

	for {
		ok, err := pages.Next(ctx, page.Interface())
		if err != nil {
			return reflect.Value{}, err
		}
		if !ok {
			return result, nil
		}
		result = reflect.AppendSlice(result, page.Elem())
		if p.Tree.Limit > 0 && result.Len() >= p.Tree.Limit {
			return result.Slice(0, p.Tree.Limit), nil
		}
	}
}

// firstItem returns the first item of the first non-empty page, absent as
// a nil pointer.
func (p *Plan) firstItem(ctx context.Context, ops core.Operations, req *core.Request) (reflect.Value, error) {
	pages := p.open(ctx, ops, req)
	page := reflect.New(reflect.SliceOf(p.Meta.Type))

	for {
		ok, err := pages.Next(ctx, page.Interface())
		if err != nil {
			return reflect.Value{}, err
		}
		if !ok {
			return reflect.Zero(reflect.PtrTo(p.Meta.Type)), nil
		}
		if page.Elem().Len() > 0 {
			item := reflect.New(p.Meta.Type)
			item.Elem().Set(page.Elem().Index(0))
			return item, nil
		}
	}
}

// anyItem short-circuits on the first non-empty page.
func (p *Plan) anyItem(ctx context.Context, ops core.Operations, req *core.Request) (bool, error) {
	pages := p.open(ctx, ops, req)
	page := reflect.New(reflect.SliceOf(p.Meta.Type))

	for {
		ok, err := pages.Next(ctx, page.Interface())
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if page.Elem().Len() > 0 {
			return true, nil
		}
	}
}

// deleteAll walks the key-projected result set and deletes each item by
// its primary key, reporting how many items were removed.
func (p *Plan) deleteAll(ctx context.Context, ops core.Operations, req *core.Request) (int64, error) {
	pages := p.open(ctx, ops, req)
	page := reflect.New(reflect.SliceOf(p.Meta.Type))

	var deleted int64
	for {
		ok, err := pages.Next(ctx, page.Interface())
		if err != nil {
			return deleted, err
		}
		if !ok {
			return deleted, nil
		}
		for i := 0; i < page.Elem().Len(); i++ {
			key, err := request.Key(p.Meta, page.Elem().Index(i).Interface())
			if err != nil {
				return deleted, err
			}
			del := &core.LoadRequest{TableName: p.Meta.TableName, Key: key}
			if err := ops.DeleteKey(ctx, del); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
}

// pagesValue types a pager as the core.Pages interface for reflect returns.
func pagesValue(pages core.Pages) reflect.Value {
	v := reflect.New(pagesType).Elem()
	v.Set(reflect.ValueOf(pages))
	return v
}

// limitPages truncates an underlying page sequence to a total item count.
type limitPages struct {
	pages     core.Pages
	remaining int
}

func (l *limitPages) Next(ctx context.Context, dest any) (bool, error) {
	if l.remaining <= 0 {
		return false, nil
	}
	ok, err := l.pages.Next(ctx, dest)
	if err != nil || !ok {
		return ok, err
	}
	rv := reflect.ValueOf(dest).Elem()
	if rv.Len() >= l.remaining {
		rv.Set(rv.Slice(0, l.remaining))
		l.remaining = 0
	} else {
		l.remaining -= rv.Len()
	}
	return true, nil
}

// loadedPages adapts a direct load to the Pages contract: at most one page
// holding at most one item.
type loadedPages struct {
	item reflect.Value // *T, invalid when the item was absent
	done bool
}

func (s *loadedPages) Next(ctx context.Context, dest any) (bool, error) {
	if s.done {
		return false, nil
	}
	s.done = true
	if !s.item.IsValid() {
		return false, nil
	}

	rv := reflect.ValueOf(dest).Elem()
	page := reflect.MakeSlice(rv.Type(), 0, 1)
	if rv.Type().Elem().Kind() == reflect.Ptr {
		page = reflect.Append(page, s.item)
	} else {
		page = reflect.Append(page, s.item.Elem())
	}
	rv.Set(page)
	return true, nil
}
