package function

import (
	"context"
	"strings"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/flowstore"
)

// Source tells how a reference was resolved
type Source string

// Resolution sources, in lookup order
const (
	SourceName    Source = "name"
	SourceID      Source = "id"
	SourceLiteral Source = "literal"
)

// Resolved is a function body ready to invoke
type Resolved struct {
	Body   string
	Name   string
	Params []string
	Source Source
}

// Call invokes the resolved body through ev
func (r *Resolved) Call(ctx context.Context, ev Evaluator, args []any, input any) (any, error) {
	return ev.Invoke(ctx, r.Body, args, input, r.Params...)
}

// Resolver looks up function references in the function store
type Resolver struct {
	store flowstore.FunctionStore
}

// NewResolver creates a resolver. A nil store resolves everything literally.
func NewResolver(store flowstore.FunctionStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks ref up by exact name, then by id. When neither matches, ref
// itself is the body.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Resolved, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Resolver", "Resolve", "function reference check")
	}
	if r.store != nil {
		fn, err := r.store.FindFunctionByName(ctx, ref)
		switch {
		case err == nil:
			return resolved(fn, SourceName), nil
		case !flowstore.IsNotFound(err):
			return nil, errors.Wrap(err, "Resolver", "Resolve", "find function by name")
		}

		fn, err = r.store.FindFunctionByID(ctx, ref)
		switch {
		case err == nil:
			return resolved(fn, SourceID), nil
		case !flowstore.IsNotFound(err):
			return nil, errors.Wrap(err, "Resolver", "Resolve", "find function by id")
		}
	}
	return &Resolved{Body: ref, Source: SourceLiteral}, nil
}

func resolved(fn *flowstore.ReusableFunction, src Source) *Resolved {
	return &Resolved{Body: fn.Body, Name: fn.Name, Params: fn.ParamNames(), Source: src}
}
