// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package protocol

import "strconv"

// SelfContext is the special context value that resolves to the server's
// configured self-URN on apply (spec §3, §4.C).
const SelfContext = "vessels.self"

// AllContext is the subscription wildcard context that matches any delta.
const AllContext = "*"

// SpecVersion is the Signal K specification version this server reports
// in Hello and the discovery document.
const SpecVersion = "1.7.0"

// Source is the structured descriptor of an update's origin. All fields
// are optional. NMEA-specific sub-keys (pgn, sentence, talker, ...) a
// provider may include are unknown fields to this core and are ignored
// on read, per spec §4.B.
type Source struct {
	Label string `json:"label,omitempty"`
	Type  string `json:"type,omitempty"`
}

// PathValue is a single {path, value} pair inside an Update.
type PathValue struct {
	Path  string `json:"path"`
	Value Value  `json:"value"`
}

// PathMeta is a single {path, value} pair inside an Update's meta list.
// Value carries units/display/zone information with no fixed shape (spec
// §9's tagged-variant-tree guidance applied uniformly to meta, not just
// values): the core stores and filters meta opaquely, the same way it
// does a PathValue's Value, and performs no schema validation on it
// (spec §1 Non-goals).
type PathMeta struct {
	Path  string `json:"path"`
	Value Value  `json:"value"`
}

// Update is one batch of values (and optionally meta) from a single
// source, applied to a Delta's context.
type Update struct {
	SourceRef *string     `json:"$source,omitempty"`
	Source    *Source     `json:"source,omitempty"`
	Timestamp *string     `json:"timestamp,omitempty"`
	Values    []PathValue `json:"values,omitempty"`
	Meta      []PathMeta  `json:"meta,omitempty"`
}

// Delta is the ingress/egress unit: one or more Updates against a single
// context. An absent Context means the server's self-context.
type Delta struct {
	Context *string  `json:"context,omitempty"`
	Updates []Update `json:"updates"`
}

// ResolvedContext returns the delta's context, substituting selfURN for an
// absent context or the literal "vessels.self" alias (spec §4.C step 1).
func (d Delta) ResolvedContext(selfURN string) string {
	if d.Context == nil || *d.Context == "" || *d.Context == SelfContext {
		return selfURN
	}
	return *d.Context
}

// Hello is emitted once, on session open (spec §6).
type Hello struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Self      string   `json:"self"`
	Roles     []string `json:"roles"`
	Timestamp string   `json:"timestamp"`
}

// PutState is the lifecycle state of a PUT request's response.
type PutState string

const (
	PutCompleted PutState = "COMPLETED"
	PutPending   PutState = "PENDING"
	PutFailed    PutState = "FAILED"
)

// PutResponse answers a PutRequest. This core always answers FAILED/501
// (spec §4.F, §7: PutNotImplemented) — the shape exists so transports can
// surface PUT requests uniformly regardless of whether a plugin ever
// implements them.
type PutResponse struct {
	RequestID  string   `json:"requestId"`
	State      PutState `json:"state"`
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message,omitempty"`
}

// SubscribeEntry is one {path, period?, minPeriod?, format?, policy?}
// entry of a SubscribeRequest.
type SubscribeEntry struct {
	Path      string  `json:"path"`
	Period    *int64  `json:"period,omitempty"`
	MinPeriod *int64  `json:"minPeriod,omitempty"`
	Format    *string `json:"format,omitempty"`
	Policy    *string `json:"policy,omitempty"`
}

// SubscribeRequest is a client→server {context, subscribe:[...]} message.
type SubscribeRequest struct {
	Context   *string          `json:"context,omitempty"`
	Subscribe []SubscribeEntry `json:"subscribe"`
}

// UnsubscribeEntry is one {path} entry of an UnsubscribeRequest.
type UnsubscribeEntry struct {
	Path string `json:"path"`
}

// UnsubscribeRequest is a client→server {context, unsubscribe:[...]} message.
type UnsubscribeRequest struct {
	Context     *string            `json:"context,omitempty"`
	Unsubscribe []UnsubscribeEntry `json:"unsubscribe"`
}

// PutPayload is the {path, value, source?} body of a PutRequest.
type PutPayload struct {
	Path   string  `json:"path"`
	Value  Value   `json:"value"`
	Source *string `json:"source,omitempty"`
}

// PutRequest is a client→server {context?, requestId, put:{...}} message.
type PutRequest struct {
	Context   *string    `json:"context,omitempty"`
	RequestID string     `json:"requestId"`
	Put       PutPayload `json:"put"`
}

// DiscoveryEndpoint describes one API version's endpoint URLs.
type DiscoveryEndpoint struct {
	Version      string `json:"version"`
	HTTP         string `json:"signalk-http"`
	WebSocket    string `json:"signalk-ws"`
}

// Discovery is the document served at GET /signalk (spec §6).
type Discovery struct {
	Name     string                       `json:"name"`
	Version  string                       `json:"version"`
	Endpoints map[string]DiscoveryEndpoint `json:"endpoints"`
}

// NewDiscovery builds the v1 discovery document for the given server name
// and host:port.
func NewDiscovery(serverName, host string, port int) Discovery {
	base := hostPort(host, port)
	return Discovery{
		Name:    serverName,
		Version: SpecVersion,
		Endpoints: map[string]DiscoveryEndpoint{
			"v1": {
				Version:   SpecVersion,
				HTTP:      "http://" + base + "/signalk/v1/api",
				WebSocket: "ws://" + base + "/signalk/v1/stream",
			},
		},
	}
}

func hostPort(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
