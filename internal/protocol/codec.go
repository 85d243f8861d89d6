// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package protocol

import (
	"encoding/json"

	"github.com/signalk-go/signalk-server/internal/skerr"
)

// ClientMessageKind discriminates a parsed ClientMessage.
type ClientMessageKind int

const (
	ClientMessageSubscribe ClientMessageKind = iota
	ClientMessageUnsubscribe
	ClientMessagePut
)

// ClientMessage is the untagged union of the three message shapes a client
// may send (spec §4.B). Presence of fields decides the kind: "subscribe"
// means Subscribe, "unsubscribe" means Unsubscribe, "requestId"+"put"
// means Put. Any other shape fails to parse.
type ClientMessage struct {
	Kind        ClientMessageKind
	Subscribe   *SubscribeRequest
	Unsubscribe *UnsubscribeRequest
	Put         *PutRequest
}

// probe captures every field the three message shapes might carry, purely
// to test for presence before committing to a concrete type.
type probe struct {
	Context     *string          `json:"context"`
	Subscribe   []SubscribeEntry `json:"subscribe"`
	Unsubscribe json.RawMessage  `json:"unsubscribe"`
	RequestID   *string          `json:"requestId"`
	Put         json.RawMessage  `json:"put"`
}

// ParseClientMessage decodes raw JSON into a ClientMessage, discriminating
// by field presence as spec §4.B requires. Malformed JSON or a shape that
// matches none of the three known message types returns
// skerr.MalformedMessageError; callers log it and keep the session open.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return ClientMessage{}, skerr.MalformedMessageError{Reason: err.Error()}
	}

	switch {
	case p.Subscribe != nil:
		var sub SubscribeRequest
		if err := json.Unmarshal(data, &sub); err != nil {
			return ClientMessage{}, skerr.MalformedMessageError{Reason: err.Error()}
		}
		return ClientMessage{Kind: ClientMessageSubscribe, Subscribe: &sub}, nil

	case p.Unsubscribe != nil:
		var unsub UnsubscribeRequest
		if err := json.Unmarshal(data, &unsub); err != nil {
			return ClientMessage{}, skerr.MalformedMessageError{Reason: err.Error()}
		}
		return ClientMessage{Kind: ClientMessageUnsubscribe, Unsubscribe: &unsub}, nil

	case p.RequestID != nil && p.Put != nil:
		var put PutRequest
		if err := json.Unmarshal(data, &put); err != nil {
			return ClientMessage{}, skerr.MalformedMessageError{Reason: err.Error()}
		}
		return ClientMessage{Kind: ClientMessagePut, Put: &put}, nil

	default:
		return ClientMessage{}, skerr.MalformedMessageError{Reason: "message matches neither subscribe, unsubscribe, nor put"}
	}
}

// ServerMessageKind discriminates an outbound ServerMessage for receivers
// that need to branch on it locally (the wire encoding itself is untagged:
// receivers discriminate by field presence, same as ClientMessage).
type ServerMessageKind int

const (
	ServerMessageHello ServerMessageKind = iota
	ServerMessageDelta
	ServerMessagePutResponse
)

// ServerMessage is the untagged union of outbound shapes (spec §4.B):
// receivers discriminate Hello by "self"/"roles", Delta by "updates", and
// a PUT response by "requestId"+"state".
type ServerMessage struct {
	Kind        ServerMessageKind
	Hello       *Hello
	Delta       *Delta
	PutResponse *PutResponse
}

// MarshalJSON serializes whichever concrete shape is set, untagged.
func (m ServerMessage) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case ServerMessageHello:
		return json.Marshal(m.Hello)
	case ServerMessageDelta:
		return json.Marshal(m.Delta)
	case ServerMessagePutResponse:
		return json.Marshal(m.PutResponse)
	default:
		return json.Marshal(struct{}{})
	}
}

// NewHelloMessage wraps a Hello as a ServerMessage.
func NewHelloMessage(h Hello) ServerMessage {
	return ServerMessage{Kind: ServerMessageHello, Hello: &h}
}

// NewDeltaMessage wraps a Delta as a ServerMessage.
func NewDeltaMessage(d Delta) ServerMessage {
	return ServerMessage{Kind: ServerMessageDelta, Delta: &d}
}

// NewPutResponseMessage wraps a PutResponse as a ServerMessage.
func NewPutResponseMessage(r PutResponse) ServerMessage {
	return ServerMessage{Kind: ServerMessagePutResponse, PutResponse: &r}
}
