package indfile

import (
	"context"
	"fmt"
)

// Method names of the two module operations.
const (
	MethodCreateEncryptedFile = "createEncryptedFile"
	MethodViewEncryptedFile   = "viewEncryptedFile"
)

// Request is a tagged module call. CreateRequest and ViewRequest implement it.
type Request interface {
	Method() string
}

// Response is the result of Handle: a CreateResponse or a ViewResponse.
type Response interface {
	Method() string
}

func (CreateRequest) Method() string { return MethodCreateEncryptedFile }
func (ViewRequest) Method() string { return MethodViewEncryptedFile }
func (CreateResponse) Method() string { return MethodCreateEncryptedFile }
func (ViewResponse) Method() string { return MethodViewEncryptedFile }

// Handle dispatches req to the matching operation.
func (f *Files) Handle(ctx context.Context, req Request) (Response, error) {
	switch r := req.(type) {
	case CreateRequest:
		resp, err := f.CreateEncryptedFile(ctx, r)
		if err != nil {
			return nil, err
		}
		return resp, nil
	case *CreateRequest:
		if r == nil {
			return nil, f.fail(InvalidInput, "dispatch", fmt.Errorf("no request"))
		}
		return f.Handle(ctx, *r)
	case ViewRequest:
		resp, err := f.ViewEncryptedFile(ctx, r)
		if err != nil {
			return nil, err
		}
		return resp, nil
	case *ViewRequest:
		if r == nil {
			return nil, f.fail(InvalidInput, "dispatch", fmt.Errorf("no request"))
		}
		return f.Handle(ctx, *r)
	}

	if req == nil {
		return nil, f.fail(InvalidInput, "dispatch", fmt.Errorf("no request"))
	}
	return nil, f.fail(InvalidInput, "dispatch", fmt.Errorf("unsupported method %q", req.Method()))
}
