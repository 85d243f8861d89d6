// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store implements the Signal K state store (spec §4.C): a
// nested, multi-source value tree with per-path invariants I1-I5. Its
// tree-navigation shape — descend a dotted selector one segment at a
// time, creating intermediate nodes on demand — follows the teacher's
// metricstore.Level (pkg/metricstore/level.go in the reference tree),
// generalized from a fixed cluster→host→core hierarchy of float
// ring-buffers to an arbitrary-depth tree of JSON values.
package store

import "github.com/signalk-go/signalk-server/internal/protocol"

// valuesKey is the StoredValue field that holds the per-source history.
// The initial-state walk (subscription package) must treat this key as
// data, never as a child subtree, per spec §9.
const valuesKey = "values"

// sourceEntry is one source's contribution to a leaf (the StoredValue
// "values" map's per-source entry).
type sourceEntry struct {
	value     protocol.Value
	timestamp string // empty means "not supplied"
}

func (e *sourceEntry) toJSON() any {
	out := map[string]any{"value": decodeOrNil(e.value)}
	if e.timestamp != "" {
		out["timestamp"] = e.timestamp
	}
	return out
}

// leaf is a StoredValue node (spec §3): the primary value/$source/
// timestamp plus the full per-source history.
type leaf struct {
	value     protocol.Value
	sourceRef string // empty means "no source was ever given"
	timestamp string
	sources   map[string]*sourceEntry // nil until the first sourced write
}

func (l *leaf) toJSON() any {
	out := map[string]any{"value": decodeOrNil(l.value)}
	if l.sourceRef != "" {
		out["$source"] = l.sourceRef
	}
	if l.timestamp != "" {
		out["timestamp"] = l.timestamp
	}
	if len(l.sources) > 0 {
		values := make(map[string]any, len(l.sources))
		for src, entry := range l.sources {
			values[src] = entry.toJSON()
		}
		out[valuesKey] = values
	}
	return out
}

func decodeOrNil(v protocol.Value) any {
	decoded, err := v.Interface()
	if err != nil {
		return nil
	}
	return decoded
}

// node is one level of the value tree. It is either a leaf (value != nil)
// or an interior node (children non-empty) per invariant I1; apply()
// never writes both to the same node for well-formed input.
type node struct {
	value    *leaf
	children map[string]*node
}

func newInteriorNode() *node {
	return &node{children: make(map[string]*node)}
}

// findOrCreateChild descends one segment, creating an interior node if
// necessary.
func (n *node) findOrCreateChild(segment string) *node {
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	child, ok := n.children[segment]
	if !ok {
		child = newInteriorNode()
		n.children[segment] = child
	}
	return child
}

// findChild is the read-only variant of findOrCreateChild.
func (n *node) findChild(segment string) (*node, bool) {
	if n.children == nil {
		return nil, false
	}
	child, ok := n.children[segment]
	return child, ok
}

// countLeaves recursively counts value-bearing nodes in the subtree
// (spec I3: active_paths counts distinct leaves under vessels).
func (n *node) countLeaves() int {
	count := 0
	if n.value != nil {
		count++
	}
	for _, child := range n.children {
		count += child.countLeaves()
	}
	return count
}

// toJSON renders the subtree rooted at n into the generic representation
// full_model()/get_path() hand back: a leaf becomes its StoredValue
// object, an interior node becomes a map of its children.
func (n *node) toJSON() any {
	if n.value != nil && len(n.children) == 0 {
		return n.value.toJSON()
	}
	out := make(map[string]any, len(n.children))
	for k, c := range n.children {
		out[k] = c.toJSON()
	}
	if n.value != nil {
		// Malformed input wrote both a value and descendants at this
		// path; surface the value's fields alongside the children rather
		// than silently dropping one side.
		if m, ok := n.value.toJSON().(map[string]any); ok {
			for k, v := range m {
				out[k] = v
			}
		}
	}
	return out
}
