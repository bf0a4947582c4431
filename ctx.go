// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpcpeer

import "context"

type inboundRequestKey struct{}

// InboundRequest returns the inbound request associated with the context
// passed to a Handler, or nil if ctx does not carry one. A *Server populates
// this value for every handler context it creates.
//
// This is mainly useful to handlers adapted by the handler package that do
// not receive the *Request as an explicit parameter.
func InboundRequest(ctx context.Context) *Request {
	if v := ctx.Value(inboundRequestKey{}); v != nil {
		return v.(*Request)
	}
	return nil
}

type serverKey struct{}

// ServerFromContext returns the server associated with the context passed
// to a Handler by a *Server. It panics if ctx was not derived from a
// handler invocation.
//
// It is safe to retain the server and invoke its methods beyond the
// lifetime of the context from which it was extracted.
func ServerFromContext(ctx context.Context) *Server { return ctx.Value(serverKey{}).(*Server) }
