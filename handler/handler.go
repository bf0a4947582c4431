// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package handler adapts ordinary Go functions to the jrpcpeer.Handler
// interface, handling JSON encoding and decoding of parameters and results
// so server methods can be written as plain synchronous functions.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"

	"github.com/tinymesh/jrpcpeer"
	"github.com/tinymesh/jrpcpeer/code"
)

// New adapts a function to a jrpcpeer.Handler. The concrete value of fn must
// be a function accepted by Check. The resulting Handler runs fn
// synchronously to completion and reports its outcome through its done
// callback before Handle itself returns, except when fn already has the
// native func(context.Context, *jrpcpeer.Request, jrpcpeer.Done) shape: that
// function is used as is and calls done whenever it chooses.
//
// New is intended for use during program initialization, and will panic if
// the type of fn does not have one of the accepted forms. Programs that need
// to check for possible errors should call handler.Check directly, and use
// the Wrap method of the resulting FuncInfo to obtain the wrapper.
func New(fn any) jrpcpeer.Handler {
	fi, err := Check(fn)
	if err != nil {
		panic(err)
	}
	return fi.Wrap()
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem() // type context.Context
	errType = reflect.TypeOf((*error)(nil)).Elem()           // type error
	reqType = reflect.TypeOf((*jrpcpeer.Request)(nil))       // type *jrpcpeer.Request

	strictType = reflect.TypeOf((*interface{ DisallowUnknownFields() })(nil)).Elem()

	errNoParameters = &jrpcpeer.Error{Code: code.InvalidParams, Message: "no parameters accepted"}
)

// FuncInfo captures type signature information from a valid handler function.
type FuncInfo struct {
	Type         reflect.Type // the complete function type
	Argument     reflect.Type // the non-context argument type, or nil
	Result       reflect.Type // the non-error result type, or nil
	ReportsError bool         // true if the function reports an error

	strictFields bool     // enforce strict field checking
	posNames     []string // positional field names

	fn any // the original function value
}

// SetStrict sets the flag on fi that determines whether the wrapper it
// generates will enforce strict field checking. If set true, the wrapper
// will report an error when unmarshaling an object into a struct if the
// object contains fields unknown to the struct. Strict field checking has no
// effect for non-struct arguments.
func (fi *FuncInfo) SetStrict(strict bool) *FuncInfo { fi.strictFields = strict; return fi }

// Wrap adapts the function represented by fi to a jrpcpeer.Handler. The
// wrapped function runs synchronously and calls done exactly once before
// Handle returns, bridging an ordinary (ctx, args) -> (result, error)
// function into the peer's fully-async handler contract. A function that
// already has the native async Handler shape is returned unwrapped.
//
// This method panics if fi == nil or if it does not represent a valid
// function type. A FuncInfo returned by a successful call to Check is
// always valid.
func (fi *FuncInfo) Wrap() jrpcpeer.Handler {
	if fi == nil || fi.fn == nil {
		panic("handler: invalid FuncInfo value")
	}

	// Although it is not possible to completely eliminate reflection, the
	// intent here is to hoist as much work as possible out of the body of
	// the constructed wrapper, since that runs on every invocation.
	//
	// "Pre-compile" helper closures to unmarshal JSON into the input
	// arguments (newInput) and to convert the results from reflectors back
	// into values (decodeOut), so the wrapper does only as much reflection
	// as the function's own shape requires.

	// Special case: a function already shaped like the native async
	// Handler.Handle signature needs no adaptation at all.
	if f, ok := fi.fn.(func(context.Context, *jrpcpeer.Request, jrpcpeer.Done)); ok {
		return jrpcpeer.HandlerFunc(f)
	}
	if f, ok := fi.fn.(jrpcpeer.Handler); ok {
		return f
	}

	// If strict field checking or positional decoding are enabled, ensure
	// arguments are wrapped with the appropriate decoder stubs.
	wrapArg := fi.argWrapper()

	var newInput func(ctx reflect.Value, req *jrpcpeer.Request) ([]reflect.Value, error)

	arg := fi.Argument
	switch {
	case arg == nil:
		// Case 1: The function does not want any request parameters.
		// Nothing needs to be decoded, but verify no parameters were passed.
		newInput = func(ctx reflect.Value, req *jrpcpeer.Request) ([]reflect.Value, error) {
			if req.HasParams() {
				return nil, errNoParameters
			}
			return []reflect.Value{ctx}, nil
		}

	case arg == reqType:
		// Case 2: The function wants the underlying *jrpcpeer.Request value.
		newInput = func(ctx reflect.Value, req *jrpcpeer.Request) ([]reflect.Value, error) {
			return []reflect.Value{ctx, reflect.ValueOf(req)}, nil
		}

	case arg.Kind() == reflect.Ptr:
		// Case 3a: The function wants a pointer to its argument value.
		newInput = func(ctx reflect.Value, req *jrpcpeer.Request) ([]reflect.Value, error) {
			in := reflect.New(arg.Elem())
			if err := req.UnmarshalParams(wrapArg(in)); err != nil {
				return nil, peerError(code.InvalidParams, "invalid parameters: %v", err)
			}
			return []reflect.Value{ctx, in}, nil
		}
	default:
		// Case 3b: The function wants a bare argument value.
		newInput = func(ctx reflect.Value, req *jrpcpeer.Request) ([]reflect.Value, error) {
			in := reflect.New(arg) // we still need a pointer to unmarshal
			if err := req.UnmarshalParams(wrapArg(in)); err != nil {
				return nil, peerError(code.InvalidParams, "invalid parameters: %v", err)
			}
			// Indirect the pointer back off for the callee.
			return []reflect.Value{ctx, in.Elem()}, nil
		}
	}

	var decodeOut func([]reflect.Value) (any, error)

	switch {
	case fi.Result == nil:
		// The function returns only an error, the result is always nil.
		decodeOut = func(vals []reflect.Value) (any, error) {
			oerr := vals[0].Interface()
			if oerr != nil {
				return nil, oerr.(error)
			}
			return nil, nil
		}
	case !fi.ReportsError:
		// The function returns only a single non-error: err is always nil.
		decodeOut = func(vals []reflect.Value) (any, error) {
			return vals[0].Interface(), nil
		}
	default:
		// The function returns both a value and an error.
		decodeOut = func(vals []reflect.Value) (any, error) {
			if oerr := vals[1].Interface(); oerr != nil {
				return nil, oerr.(error)
			}
			return vals[0].Interface(), nil
		}
	}

	call := reflect.ValueOf(fi.fn).Call
	return jrpcpeer.HandlerFunc(func(ctx context.Context, req *jrpcpeer.Request, done jrpcpeer.Done) {
		args, ierr := newInput(reflect.ValueOf(ctx), req)
		if ierr != nil {
			done(nil, ierr)
			return
		}
		out, oerr := decodeOut(call(args))
		done(out, oerr)
	})
}

// Check checks whether fn can serve as a jrpcpeer Handler. The concrete
// value of fn must be a function with one of the following type signature
// schemes, for JSON-marshalable types X and Y:
//
//	func(context.Context) error
//	func(context.Context) Y
//	func(context.Context) (Y, error)
//	func(context.Context, X) error
//	func(context.Context, X) Y
//	func(context.Context, X) (Y, error)
//	func(context.Context, *jrpcpeer.Request) error
//	func(context.Context, *jrpcpeer.Request) Y
//	func(context.Context, *jrpcpeer.Request) (Y, error)
//	func(context.Context, *jrpcpeer.Request, jrpcpeer.Done)
//
// If fn does not have one of these forms, Check reports an error.
//
// If the type of X is a struct or a pointer to a struct, the generated
// wrapper accepts JSON parameters as either an object or an array. Array
// parameters are mapped to the fields of X in declaration order, save that
// unexported fields, fields tagged `json:"-"`, and untagged anonymous fields
// are skipped.
//
// For other (non-struct) argument types, the accepted format is whatever
// json.Unmarshal can decode into the value. For more complex positional
// signatures, see handler.Positional.
func Check(fn any) (*FuncInfo, error) {
	if fn == nil {
		return nil, errors.New("nil function")
	}
	if _, ok := fn.(func(context.Context, *jrpcpeer.Request, jrpcpeer.Done)); ok {
		return &FuncInfo{Type: reflect.TypeOf(fn), Argument: reqType, fn: fn}, nil
	}

	info := &FuncInfo{Type: reflect.TypeOf(fn), fn: fn}
	if info.Type.Kind() != reflect.Func {
		return nil, errors.New("not a function")
	}

	switch np := info.Type.NumIn(); {
	case np == 0 || np > 2:
		return nil, errors.New("wrong number of parameters")
	case info.Type.In(0) != ctxType:
		return nil, errors.New("first parameter is not context.Context")
	case info.Type.IsVariadic():
		return nil, errors.New("variadic functions are not supported")
	case np == 2:
		info.Argument = info.Type.In(1)
	}

	if ok, names := structFieldNames(info.Argument); ok {
		info.posNames = names
	}

	no := info.Type.NumOut()
	if no < 1 || no > 2 {
		return nil, errors.New("wrong number of results")
	} else if no == 2 && info.Type.Out(1) != errType {
		return nil, errors.New("result is not of type error")
	}
	info.ReportsError = info.Type.Out(no-1) == errType
	if no == 2 || !info.ReportsError {
		info.Result = info.Type.Out(0)
	}
	return info, nil
}

// arrayStub is a wrapper for an arbitrary value that handles translation of
// JSON arrays into a corresponding object format.
type arrayStub struct {
	v        any
	posNames []string
}

// translate translates the raw JSON data into the correct format for
// unmarshaling into s.v.
//
// If s.posNames is set and data encodes an array, the array is rewritten to
// an equivalent object with field names assigned by the positional names.
// Otherwise, data is returned as-is without error.
func (s *arrayStub) translate(data []byte) ([]byte, error) {
	if firstByte(data) != '[' {
		return data, nil // not an array
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, err
	} else if len(arr) != len(s.posNames) {
		return nil, jrpcpeer.Errorf(code.InvalidParams, "got %d parameters, want %d",
			len(arr), len(s.posNames))
	}

	obj := make(map[string]json.RawMessage, len(s.posNames))
	for i, name := range s.posNames {
		obj[name] = arr[i]
	}
	return json.Marshal(obj)
}

func (s *arrayStub) UnmarshalJSON(data []byte) error {
	actual, err := s.translate(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(actual, s.v)
}

// strictStub is a wrapper for an arbitrary value that enforces strict field
// checking when unmarshaling from JSON.
type strictStub struct{ v any }

func (s *strictStub) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(s.v)
}

func (fi *FuncInfo) argWrapper() func(reflect.Value) any {
	strict := fi.strictFields && fi.Argument != nil && !fi.Argument.Implements(strictType)
	names := fi.posNames // capture so the wrapper does not pin fi
	array := len(names) != 0
	switch {
	case strict && array:
		return func(v reflect.Value) any {
			return &arrayStub{v: &strictStub{v: v.Interface()}, posNames: names}
		}
	case strict:
		return func(v reflect.Value) any {
			return &strictStub{v: v.Interface()}
		}
	case array:
		return func(v reflect.Value) any {
			return &arrayStub{v: v.Interface(), posNames: names}
		}
	default:
		return reflect.Value.Interface
	}
}

func peerError(c code.Code, tag string, err error) error {
	var perr *jrpcpeer.Error
	if errors.As(err, &perr) {
		return perr
	}
	return jrpcpeer.Errorf(c, tag, err)
}

// firstByte returns the first non-whitespace byte of data, or 0 if empty.
func firstByte(data []byte) byte {
	clean := bytes.TrimSpace(data)
	if len(clean) == 0 {
		return 0
	}
	return clean[0]
}
