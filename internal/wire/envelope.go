// Package wire encodes and decodes the typed envelope exchanged over the
// session websocket: a google.protobuf.Any whose payload is either a
// google.rpc.Status or a vtr message.
package wire

import (
	"strings"

	statuspb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"pkt.systems/vtview/schema"
)

// TypeURLPrefix precedes every message name in an envelope type URL.
const TypeURLPrefix = "type.googleapis.com/"

// Message names carried in envelopes.
const (
	TypeStatus           = "google.rpc.Status"
	TypeSubscribeEvent   = "vtr.SubscribeEvent"
	TypeSubscribeRequest = "vtr.SubscribeRequest"
	TypeSendTextRequest  = "vtr.SendTextRequest"
	TypeSendKeyRequest   = "vtr.SendKeyRequest"
	TypeSendBytesRequest = "vtr.SendBytesRequest"
	TypeResizeRequest    = "vtr.ResizeRequest"
)

// Message is the closed set of envelope payloads. Status and Event flow from
// server to client; the request kinds flow from client to server.
type Message interface {
	TypeName() string
	marshal() ([]byte, error)
}

// Status is a remote status report.
type Status struct {
	Code    codes.Code
	Message string
}

// Event is a session data event.
type Event schema.SubscribeEvent

// Subscribe is the connection handshake.
type Subscribe schema.SubscribeRequest

// SendText carries text input.
type SendText schema.SendTextRequest

// SendKey carries a named key.
type SendKey schema.SendKeyRequest

// SendBytes carries raw input bytes.
type SendBytes schema.SendBytesRequest

// Resize carries new terminal dimensions.
type Resize schema.ResizeRequest

func (*Status) TypeName() string    { return TypeStatus }
func (*Event) TypeName() string     { return TypeSubscribeEvent }
func (*Subscribe) TypeName() string { return TypeSubscribeRequest }
func (*SendText) TypeName() string  { return TypeSendTextRequest }
func (*SendKey) TypeName() string   { return TypeSendKeyRequest }
func (*SendBytes) TypeName() string { return TypeSendBytesRequest }
func (*Resize) TypeName() string    { return TypeResizeRequest }

// Err converts the status into a grpc status error.
func (s *Status) Err() error {
	if s == nil || s.Code == codes.OK {
		return nil
	}
	return status.Error(s.Code, s.Message)
}

// Terminal reports whether the status should stop reconnection.
func (s *Status) Terminal() bool {
	return s != nil && IsTerminalCode(s.Code)
}

func (s *Status) marshal() ([]byte, error) {
	return proto.Marshal(&statuspb.Status{Code: int32(s.Code), Message: s.Message})
}

func (e *Event) marshal() ([]byte, error) {
	return marshalSubscribeEvent(schema.SubscribeEvent(*e)), nil
}

func (m *Subscribe) marshal() ([]byte, error) {
	return marshalSubscribeRequest(schema.SubscribeRequest(*m)), nil
}

func (m *SendText) marshal() ([]byte, error) {
	b := appendMessageField(nil, 1, marshalSessionRef(m.Session))
	return appendStringField(b, 2, m.Text), nil
}

func (m *SendKey) marshal() ([]byte, error) {
	b := appendMessageField(nil, 1, marshalSessionRef(m.Session))
	return appendStringField(b, 2, m.Key), nil
}

func (m *SendBytes) marshal() ([]byte, error) {
	b := appendMessageField(nil, 1, marshalSessionRef(m.Session))
	return appendBytesField(b, 2, m.Data), nil
}

func (m *Resize) marshal() ([]byte, error) {
	b := appendMessageField(nil, 1, marshalSessionRef(m.Session))
	b = appendInt32Field(b, 2, m.Cols)
	return appendInt32Field(b, 3, m.Rows), nil
}

// Encode wraps msg in an Any envelope.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, &UnsupportedKindError{}
	}
	payload, err := msg.marshal()
	if err != nil {
		return nil, err
	}
	return proto.Marshal(&anypb.Any{
		TypeUrl: TypeURLPrefix + msg.TypeName(),
		Value:   payload,
	})
}

// Decode unwraps an envelope. Unknown kinds yield an *UnsupportedKindError.
func Decode(data []byte) (Message, error) {
	var env anypb.Any
	if err := proto.Unmarshal(data, &env); err != nil {
		return nil, malformed("envelope", err)
	}
	name := string(env.MessageName())
	if name == "" {
		name = strings.TrimPrefix(env.GetTypeUrl(), TypeURLPrefix)
	}
	value := env.GetValue()
	switch name {
	case TypeStatus:
		var st statuspb.Status
		if err := proto.Unmarshal(value, &st); err != nil {
			return nil, malformed(name, err)
		}
		msg := st.GetMessage()
		return &Status{Code: codes.Code(st.GetCode()), Message: msg}, nil
	case TypeSubscribeEvent:
		ev, err := unmarshalSubscribeEvent(value)
		if err != nil {
			return nil, malformed(name, err)
		}
		out := Event(ev)
		return &out, nil
	case TypeSubscribeRequest:
		req, err := unmarshalSubscribeRequest(value)
		if err != nil {
			return nil, malformed(name, err)
		}
		out := Subscribe(req)
		return &out, nil
	case TypeSendTextRequest, TypeSendKeyRequest, TypeSendBytesRequest, TypeResizeRequest:
		p, err := unmarshalSessionPayload(value, name)
		if err != nil {
			return nil, malformed(name, err)
		}
		return p.message(name), nil
	default:
		return nil, &UnsupportedKindError{TypeURL: env.GetTypeUrl()}
	}
}

func (p sessionPayload) message(name string) Message {
	switch name {
	case TypeSendTextRequest:
		return &SendText{Session: p.session, Text: p.text}
	case TypeSendKeyRequest:
		return &SendKey{Session: p.session, Key: p.text}
	case TypeSendBytesRequest:
		return &SendBytes{Session: p.session, Data: p.data}
	default:
		return &Resize{Session: p.session, Cols: p.cols, Rows: p.rows}
	}
}

// StatusFromError converts an error into a Status, using the grpc status
// code when the error carries one.
func StatusFromError(err error) *Status {
	if err == nil {
		return &Status{Code: codes.OK}
	}
	st := status.Convert(err)
	return &Status{Code: st.Code(), Message: st.Message()}
}
