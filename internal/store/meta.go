// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import "github.com/signalk-go/signalk-server/internal/protocol"

// metaNode mirrors node's tree shape but holds a path's meta object
// directly rather than wrapping it in a StoredValue. original_source
// never models meta (every call site sets meta: None), so this tree is a
// supplemented feature: it is kept separate from the value tree precisely
// so PathCount/countLeaves, which spec I3 defines purely over values,
// never has to special-case a meta-only path.
type metaNode struct {
	value    *protocol.Value
	children map[string]*metaNode
}

func newMetaNode() *metaNode {
	return &metaNode{children: make(map[string]*metaNode)}
}

func (n *metaNode) findOrCreateChild(segment string) *metaNode {
	if n.children == nil {
		n.children = make(map[string]*metaNode)
	}
	child, ok := n.children[segment]
	if !ok {
		child = newMetaNode()
		n.children[segment] = child
	}
	return child
}

func descendCreateMeta(n *metaNode, segs []string) *metaNode {
	cur := n
	for _, seg := range segs {
		cur = cur.findOrCreateChild(seg)
	}
	return cur
}
