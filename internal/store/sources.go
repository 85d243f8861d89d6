// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"strings"

	"github.com/signalk-go/signalk-server/internal/protocol"
)

// sourceNode is one level of the /sources tree (spec I5): a source label
// (e.g. "nmea0183") optionally carries a "type" and a nested tree of
// qualifiers (e.g. "GP", or a multi-segment qualifier "115.2" under an
// n2k-style source_ref).
type sourceNode struct {
	typ      string
	children map[string]*sourceNode
}

func newSourceNode() *sourceNode {
	return &sourceNode{children: make(map[string]*sourceNode)}
}

func (s *sourceNode) child(segment string) *sourceNode {
	if s.children == nil {
		s.children = make(map[string]*sourceNode)
	}
	c, ok := s.children[segment]
	if !ok {
		c = newSourceNode()
		s.children[segment] = c
	}
	return c
}

func (s *sourceNode) toJSON() any {
	out := make(map[string]any, len(s.children)+1)
	if s.typ != "" {
		out["type"] = s.typ
	}
	for k, c := range s.children {
		out[k] = c.toJSON()
	}
	return out
}

// registerSource applies spec I5/§4.C step 2: split source_ref on the
// first "." into (label, qualifier...); ensure sources[label] exists and,
// when a qualifier is present, sources[label][qualifier-segments...]
// exists too (the qualifier itself may be multi-segment, e.g. "a.b.c").
// When a structured Source descriptor is supplied and this is the first
// time the label is seen, its Type is copied onto sources[label].
func (s *sourceNode) register(sourceRef string, source *protocol.Source) {
	label, qualifier, hasQualifier := splitSourceRef(sourceRef)
	if label == "" {
		if source != nil && source.Label != "" {
			label = source.Label
		} else {
			return
		}
	}

	if s.children == nil {
		s.children = make(map[string]*sourceNode)
	}
	labelNode, existed := s.children[label]
	if !existed {
		labelNode = newSourceNode()
		s.children[label] = labelNode
		if source != nil && source.Type != "" {
			labelNode.typ = source.Type
		}
	}

	if hasQualifier {
		cur := labelNode
		for _, seg := range strings.Split(qualifier, ".") {
			if seg == "" {
				continue
			}
			cur = cur.child(seg)
		}
	}
}

// splitSourceRef splits "label.qualifier...", returning ok=false when
// there is no qualifier part.
func splitSourceRef(sourceRef string) (label, qualifier string, hasQualifier bool) {
	if sourceRef == "" {
		return "", "", false
	}
	idx := strings.IndexByte(sourceRef, '.')
	if idx < 0 {
		return sourceRef, "", false
	}
	return sourceRef[:idx], sourceRef[idx+1:], true
}
