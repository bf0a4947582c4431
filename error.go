// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpcpeer

import (
	"encoding/json"
	"fmt"

	"github.com/tinymesh/jrpcpeer/code"
)

// Error is the concrete type of errors carried in a JSON-RPC error response.
// It also represents the JSON encoding of the JSON-RPC error object.
type Error struct {
	Code    code.Code       `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error returns a human-readable description of e.
func (e *Error) Error() string { return fmt.Sprintf("[%d] %s", e.Code, e.Message) }

// ErrCode satisfies the code.ErrCoder interface for an *Error.
func (e *Error) ErrCode() code.Code { return e.Code }

// WithData marshals v as JSON and returns a copy of e whose Data field
// includes the result. If v == nil or marshaling v fails, e is returned
// unmodified.
func (e *Error) WithData(v any) *Error {
	if v == nil {
		return e
	}
	data, err := json.Marshal(v)
	if err != nil {
		return e
	}
	return &Error{Code: e.Code, Message: e.Message, Data: data}
}

// Errorf builds an *Error with the given code and a formatted message.
func Errorf(c code.Code, msg string, args ...any) *Error {
	return &Error{Code: c, Message: fmt.Sprintf(msg, args...)}
}

// Sentinel wire errors shared by the codec, registry, and dispatcher for
// conditions that do not carry a caller-supplied error envelope of their own.
var (
	errEmptyMethod = &Error{Code: code.InvalidRequest, Message: "empty method name"}

	errInvalidRequest = &Error{Code: code.InvalidRequest, Message: code.InvalidRequest.String()}

	errInvalidParams = &Error{Code: code.InvalidParams, Message: code.InvalidParams.String()}

	errInternalError = &Error{Code: code.InternalError, Message: code.InternalError.String()}

	errMethodNotFound = &Error{Code: code.MethodNotFound, Message: code.MethodNotFound.String()}

	errTooManyInFlight = &Error{Code: code.TooManyInFlight, Message: code.TooManyInFlight.String()}

	errInputTooLong = &Error{Code: code.InputTooLong, Message: code.InputTooLong.String()}

	errParseError = &Error{Code: code.ParseError, Message: code.ParseError.String()}
)
