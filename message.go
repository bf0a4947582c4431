// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpcpeer

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Version is the JSON-RPC protocol version this package implements.
const Version = "2.0"

// An IDValue is the tagged union of request identifiers permitted by
// JSON-RPC 2.0: a number, a string, or null. The zero IDValue is "absent",
// meaning the envelope has no id field at all (a notification).
type IDValue struct {
	raw json.RawMessage
}

// NumberID constructs an IDValue holding the unsigned integer n. The client
// registry only ever generates IDs of this form.
func NumberID(n uint32) IDValue {
	return IDValue{raw: json.RawMessage(strconv.FormatUint(uint64(n), 10))}
}

// StringID constructs an IDValue holding the string s.
func StringID(s string) IDValue {
	b, _ := json.Marshal(s)
	return IDValue{raw: b}
}

// NullID constructs an IDValue holding the JSON null literal, used for error
// responses whose request could not be correlated (e.g. parse errors).
func NullID() IDValue { return IDValue{raw: json.RawMessage("null")} }

// IsAbsent reports whether id has no value at all (a notification).
func (id IDValue) IsAbsent() bool { return id.raw == nil }

// IsNull reports whether id is the JSON null literal.
func (id IDValue) IsNull() bool { return isNull(id.raw) }

// Raw returns the JSON encoding of id, or nil if id is absent.
func (id IDValue) Raw() json.RawMessage { return id.raw }

// Uint32 reports the numeric value of id and whether id decodes as an
// unsigned integer in [0, 2^32).
func (id IDValue) Uint32() (uint32, bool) {
	if id.raw == nil || len(id.raw) == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(string(id.raw), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// String returns the JSON text of id, or "" if id is absent.
func (id IDValue) String() string { return string(id.raw) }

// cloneRaw returns a defensive copy of a caller-supplied JSON subtree, so
// the codec constructors never alias memory the caller might reuse.
func cloneRaw(msg json.RawMessage) json.RawMessage {
	if msg == nil {
		return nil
	}
	cp := make(json.RawMessage, len(msg))
	copy(cp, msg)
	return cp
}

// buildEnvelope assembles one of the four wire shapes described by the
// codec: exactly one of method or errv or a result value is populated by
// the caller; id is included verbatim (even "null") when non-nil.
func buildEnvelope(id json.RawMessage, method string, params, result json.RawMessage, errv *Error) ([]byte, error) {
	var sb bytes.Buffer
	sb.WriteString(`{"jsonrpc":"2.0"`)
	if id != nil {
		sb.WriteString(`,"id":`)
		sb.Write(id)
	}
	switch {
	case method != "":
		m, err := json.Marshal(method)
		if err != nil {
			return nil, err
		}
		sb.WriteString(`,"method":`)
		sb.Write(m)
		if len(params) != 0 {
			sb.WriteString(`,"params":`)
			sb.Write(params)
		}
	case errv != nil:
		e, err := json.Marshal(errv)
		if err != nil {
			return nil, err
		}
		sb.WriteString(`,"error":`)
		sb.Write(e)
	default:
		sb.WriteString(`,"result":`)
		if len(result) == 0 {
			sb.WriteString("null")
		} else {
			sb.Write(result)
		}
	}
	sb.WriteByte('}')
	return sb.Bytes(), nil
}

// NewRequest builds a Request envelope for method with the given id and
// parameters. Params may be nil.
func NewRequest(id IDValue, method string, params json.RawMessage) ([]byte, error) {
	if method == "" {
		return nil, errEmptyMethod
	}
	return buildEnvelope(id.raw, method, cloneRaw(params), nil, nil)
}

// NewNotification builds a Notification envelope: a request with no id.
func NewNotification(method string, params json.RawMessage) ([]byte, error) {
	if method == "" {
		return nil, errEmptyMethod
	}
	return buildEnvelope(nil, method, cloneRaw(params), nil, nil)
}

// NewResult builds a Result envelope carrying the given id and result value.
func NewResult(id IDValue, result json.RawMessage) ([]byte, error) {
	return buildEnvelope(id.raw, "", nil, cloneRaw(result), nil)
}

// NewErrorResponse builds an ErrorResponse envelope. If id is absent, the
// wire id is "null", as required for errors that precede request parsing.
func NewErrorResponse(id IDValue, errv *Error) ([]byte, error) {
	idRaw := id.raw
	if idRaw == nil {
		idRaw = json.RawMessage("null")
	}
	return buildEnvelope(idRaw, "", nil, nil, errv)
}

// envelope is the parsed form of any of the four wire shapes, used
// internally to validate and classify inbound payloads.
type envelope struct {
	V  string
	ID json.RawMessage
	M  string
	P  json.RawMessage
	R  json.RawMessage
	E  *Error

	hasM, hasR, hasE, hasID bool
}

// parseEnvelope decodes data into its field set without judging validity;
// validity is checked separately by IsValidRequest/IsValidResponse,
// mirroring the codec's split between parsing and validation.
func parseEnvelope(data []byte) (*envelope, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, false
	}
	e := new(envelope)
	if raw, ok := obj["jsonrpc"]; ok {
		json.Unmarshal(raw, &e.V)
	}
	if raw, ok := obj["id"]; ok {
		e.hasID = true
		if !isNull(raw) {
			e.ID = raw
		}
	}
	if raw, ok := obj["method"]; ok {
		e.hasM = true
		json.Unmarshal(raw, &e.M)
	}
	if raw, ok := obj["params"]; ok && !isNull(raw) {
		e.P = raw
	}
	if raw, ok := obj["result"]; ok {
		e.hasR = true
		e.R = raw
	}
	if raw, ok := obj["error"]; ok {
		e.hasE = true
		// An error object whose code is missing, null, or not an integer
		// that fits code.Code leaves E nil.
		var fields map[string]json.RawMessage
		json.Unmarshal(raw, &fields)
		if c, has := fields["code"]; !has || isNull(c) || json.Unmarshal(raw, &e.E) != nil {
			e.E = nil
		}
	}
	return e, true
}

// IsValidRequest reports whether raw is a well-formed Request or
// Notification envelope: jsonrpc=="2.0", method is a string, and id
// (if present) is a number, string, or null. It returns the method name, the
// id (absent for a notification), and whether the payload is a notification.
func IsValidRequest(raw json.RawMessage) (method string, id IDValue, isNotification bool, ok bool) {
	e, parsed := parseEnvelope(raw)
	if !parsed || e.V != Version || !e.hasM || e.M == "" {
		return "", IDValue{}, false, false
	}
	if e.hasID && e.ID != nil && !isValidIDLiteral(e.ID) {
		return "", IDValue{}, false, false
	}
	if e.ID == nil {
		// Absent, or a literal "null" id, are both treated as a notification;
		// some implementations emit "null" as an id vestigially.
		return e.M, IDValue{}, true, true
	}
	return e.M, IDValue{raw: e.ID}, false, true
}

// IsValidResponse reports whether raw is a well-formed Result or
// ErrorResponse envelope: jsonrpc=="2.0", id is a number in
// [0, 2^32), and exactly one of result or error is present. If error is
// present its code must be an integer and its message a non-empty string.
func IsValidResponse(raw json.RawMessage) (id IDValue, result json.RawMessage, errResp *Error, ok bool) {
	e, parsed := parseEnvelope(raw)
	if !parsed || e.V != Version {
		return IDValue{}, nil, nil, false
	}
	if !e.hasID || e.ID == nil {
		return IDValue{}, nil, nil, false
	}
	if _, isNum := (IDValue{raw: e.ID}).Uint32(); !isNum {
		return IDValue{}, nil, nil, false
	}
	if e.hasR == e.hasE {
		return IDValue{}, nil, nil, false // must have exactly one
	}
	if e.hasE && (e.E == nil || e.E.Message == "") {
		return IDValue{}, nil, nil, false
	}
	return IDValue{raw: e.ID}, e.R, e.E, true
}

// isValidIDLiteral reports whether v is a legal JSON encoding of a request
// ID: a string, a number, or null.
func isValidIDLiteral(v json.RawMessage) bool {
	if len(v) == 0 || isNull(v) {
		return true
	}
	if v[0] == '"' || v[0] == '-' || (v[0] >= '0' && v[0] <= '9') {
		return true
	}
	return false
}

// isNull reports whether msg is exactly the JSON "null" literal.
func isNull(msg json.RawMessage) bool {
	return len(msg) == 4 && msg[0] == 'n' && msg[1] == 'u' && msg[2] == 'l' && msg[3] == 'l'
}

// firstByte returns the first non-whitespace byte of data, or 0 if empty.
func firstByte(data []byte) byte {
	clean := bytes.TrimSpace(data)
	if len(clean) == 0 {
		return 0
	}
	return clean[0]
}

// joinArray concatenates pre-built envelope byte slices into a JSON array.
func joinArray(items []json.RawMessage) json.RawMessage {
	var sb bytes.Buffer
	sb.WriteByte('[')
	for i, it := range items {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.Write(it)
	}
	sb.WriteByte(']')
	return sb.Bytes()
}

// Request is a request or notification message delivered to a server
// handler.
type Request struct {
	id     json.RawMessage
	method string
	params json.RawMessage

	notify bool
}

// IsNotification reports whether the request is a notification, and thus
// does not require a value response.
func (r *Request) IsNotification() bool { return r.notify }

// ID returns the request identifier as encoded JSON, or "" for a
// notification.
func (r *Request) ID() string { return string(r.id) }

// Method reports the method name for the request.
func (r *Request) Method() string { return r.method }

// HasParams reports whether the request carries non-empty parameters.
func (r *Request) HasParams() bool { return len(r.params) != 0 }

// ParamString returns the encoded request parameters as a string, or "" if
// the request has no parameters.
func (r *Request) ParamString() string { return string(r.params) }

// ParseRequest parses raw as a single Request or Notification envelope and
// returns the corresponding *Request, or ok == false if raw does not pass
// IsValidRequest. This is the same conversion Server.Call applies to each
// single-request payload it dispatches; it is exported so a Handler (or a
// handler-adapter wrapper) can be driven directly from a raw envelope
// without routing it through a full Server.
func ParseRequest(raw json.RawMessage) (req *Request, ok bool) {
	method, id, notify, ok := IsValidRequest(raw)
	if !ok {
		return nil, false
	}
	env, _ := parseEnvelope(raw)
	return &Request{id: id.Raw(), method: method, params: env.P, notify: notify}, true
}

// UnmarshalParams decodes the request parameters into v. If the request has
// no parameters, it returns nil without modifying v. Malformed parameters
// report an InvalidParams *Error.
func (r *Request) UnmarshalParams(v any) error {
	if len(r.params) == 0 {
		return nil
	}
	if raw, ok := v.(*json.RawMessage); ok {
		*raw = cloneRaw(r.params)
		return nil
	}
	if err := json.Unmarshal(r.params, v); err != nil {
		return errInvalidParams.WithData(err.Error())
	}
	return nil
}

// sink is the subset of a transport channel needed to emit a serialized
// envelope. The concrete transport (WebSocket, serial, pipe...) lives
// outside this package; see the channel package for generic framings.
type sink interface {
	Send([]byte) error
}

// OutputFunc hands a serialized envelope to the outbound transport. It
// returns nil iff the payload was accepted for transmission; the peer never
// assumes synchronous delivery.
type OutputFunc func(data []byte) error

// Send implements the sink interface so an OutputFunc can stand in directly
// for a channel.Channel when only Send is required.
func (f OutputFunc) Send(data []byte) error { return f(data) }
