// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/signalk-go/signalk-server/internal/protocol"
	"github.com/signalk-go/signalk-server/internal/skerr"
	"github.com/signalk-go/signalk-server/internal/skpath"
	"github.com/signalk-go/signalk-server/pkg/log"
)

var logger = log.Named("store")

// StateStore is the process-wide Signal K value tree (spec §4.C). It is
// constructed once with a self-URN, mutated only by the broker's ingest
// task, and read concurrently by sessions and the statistics collector.
//
// Concurrency follows spec §5's full-runtime-host model: a single
// sync.RWMutex, writers hold it exclusively for exactly one ApplyDelta
// call, readers take a shared lock. The teacher's metricstore.Level uses
// one RWMutex per tree node for finer-grained concurrency appropriate to
// a high-cardinality metric hierarchy; the Signal K tree is comparatively
// shallow and bursty rather than wide, so a single store-wide lock (held
// only for the duration of one delta, per spec §5) is the simpler and
// sufficient design here — the constrained host's cooperative scheduler
// makes the same tradeoff for the same reason, using one plain mutex.
type StateStore struct {
	mu      sync.RWMutex
	selfURN string
	version string
	root    *node       // top-level object; root.children["vessels"] holds vessel subtrees
	sources *sourceNode // the /sources tree
	meta    *metaNode   // parallel tree mirroring vessels, for path metadata
}

// New constructs an empty store for the given self-URN, which must begin
// with "vessels." (spec §4.C).
func New(selfURN string) (*StateStore, error) {
	if !strings.HasPrefix(selfURN, "vessels.") {
		return nil, fmt.Errorf("store: self-urn %q must begin with %q", selfURN, "vessels.")
	}
	s := &StateStore{
		selfURN: selfURN,
		version: protocol.SpecVersion,
		root:    newInteriorNode(),
		sources: newSourceNode(),
		meta:    newMetaNode(),
	}
	// vessels[urn_key] = {} — pre-create the self vessel's (still empty)
	// subtree so get_context(self) and path_count() behave identically
	// before and after the first delta.
	urnSegs := skpath.MustParse(selfURN).Segments()
	descendCreate(s.root, urnSegs)
	return s, nil
}

// SelfURN returns the server-configured self-vessel context.
func (s *StateStore) SelfURN() string { return s.selfURN }

// ApplyDelta merges a delta into the store (spec §4.C "Apply algorithm").
// Updates within an Update, and Updates within a Delta, are applied in
// list order; a malformed PathValue (empty path segment) is skipped and
// the rest of the delta still applies (spec §7 PathSegmentEmpty).
func (s *StateStore) ApplyDelta(d protocol.Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	context := d.ResolvedContext(s.selfURN)
	ctxPath, err := skpath.Parse(context)
	if err != nil {
		logger.Warnf("dropping delta with unparseable context %q: %v", context, err)
		return
	}
	ctxSegs := ctxPath.Segments()

	for _, upd := range d.Updates {
		var sourceRefStr string
		if upd.SourceRef != nil {
			sourceRefStr = *upd.SourceRef
		}
		s.sources.register(sourceRefStr, upd.Source)

		for _, pv := range upd.Values {
			p, err := skpath.Parse(pv.Path)
			if err != nil {
				logger.Warnf("skipping path-value with %v", skerr.PathSegmentEmptyError{Path: pv.Path})
				continue
			}
			target := descendCreate(s.root, appendSegments(ctxSegs, p.Segments()))
			writeLeaf(target, pv.Value, upd.SourceRef, upd.Timestamp)
		}

		for _, pm := range upd.Meta {
			p, err := skpath.Parse(pm.Path)
			if err != nil {
				logger.Warnf("skipping path-meta with %v", skerr.PathSegmentEmptyError{Path: pm.Path})
				continue
			}
			target := descendCreateMeta(s.meta, appendSegments(ctxSegs, p.Segments()))
			target.value = &pm.Value
		}
	}
}

func appendSegments(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func descendCreate(n *node, segs []string) *node {
	cur := n
	for _, seg := range segs {
		cur = cur.findOrCreateChild(seg)
	}
	return cur
}

// writeLeaf implements step 4 of the apply algorithm. Per
// original_source's set_signalk_value (spec.md is silent on the exact
// merge when an un-sourced write follows a sourced one): every write
// replaces the StoredValue wholesale; the per-source "values" history is
// carried forward and merged in only when this write itself carries a
// source_ref. An un-sourced write after a sourced one therefore clears
// the multi-source history, matching the original implementation.
func writeLeaf(n *node, value protocol.Value, sourceRef, timestamp *string) {
	nl := &leaf{value: value}
	if sourceRef != nil {
		nl.sourceRef = *sourceRef
		nl.sources = make(map[string]*sourceEntry, 1)
		if n.value != nil {
			for k, v := range n.value.sources {
				nl.sources[k] = v
			}
		}
		ts := ""
		if timestamp != nil {
			ts = *timestamp
		}
		nl.sources[*sourceRef] = &sourceEntry{value: value, timestamp: ts}
	}
	if timestamp != nil {
		nl.timestamp = *timestamp
	}
	n.value = nl
}

// GetPath returns the subtree or value at an absolute dotted path, such
// as "vessels.urn:mrn:signalk:uuid:test-vessel.navigation.speedOverGround"
// or "sources.nmea0183".
func (s *StateStore) GetPath(absPath string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPathLocked(absPath)
}

func (s *StateStore) getPathLocked(absPath string) (any, bool) {
	p, err := skpath.Parse(absPath)
	if err != nil {
		return nil, false
	}
	segs := p.Segments()
	switch segs[0] {
	case "version":
		if len(segs) == 1 {
			return s.version, true
		}
		return nil, false
	case "self":
		if len(segs) == 1 {
			return s.selfURN, true
		}
		return nil, false
	case "sources":
		return descendReadSources(s.sources, segs[1:])
	default:
		return descendRead(s.root, segs)
	}
}

func descendRead(n *node, segs []string) (any, bool) {
	cur := n
	for _, seg := range segs {
		child, ok := cur.findChild(seg)
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur.toJSON(), true
}

func descendReadSources(root *sourceNode, segs []string) (any, bool) {
	cur := root
	for _, seg := range segs {
		if cur.children == nil {
			return nil, false
		}
		child, ok := cur.children[seg]
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur.toJSON(), true
}

// GetSelfPath returns the value/subtree at a path relative to the self
// vessel, e.g. "navigation.speedOverGround".
func (s *StateStore) GetSelfPath(relPath string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPathLocked(skpath.Join(s.selfURN, relPath))
}

// GetContext returns the subtree for a context, resolving "vessels.self"
// to the configured self-URN; any other context string is used verbatim.
func (s *StateStore) GetContext(context string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if context == protocol.SelfContext {
		context = s.selfURN
	}
	return s.getPathLocked(context)
}

// FullModel returns the entire tree as a generic JSON-able value.
func (s *StateStore) FullModel() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vessels, ok := s.root.findChild("vessels")
	var vesselsJSON any = map[string]any{}
	if ok {
		vesselsJSON = vessels.toJSON()
	}
	return map[string]any{
		"version": s.version,
		"self":    s.selfURN,
		"vessels": vesselsJSON,
		"sources": s.sources.toJSON(),
	}
}

// GetSources returns the /sources subtree.
func (s *StateStore) GetSources() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sources.toJSON()
}

// PathCount returns the number of distinct leaves under vessels
// (spec I3, reported as active_paths).
func (s *StateStore) PathCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vessels, ok := s.root.findChild("vessels")
	if !ok {
		return 0
	}
	return vessels.countLeaves()
}

// LeafVisitor is called by WalkSelfLeaves for every StoredValue leaf
// reachable under the self vessel.
type LeafVisitor func(relPath string, sourceRef, timestamp string, value protocol.Value)

// WalkSelfLeaves visits every leaf under the self-vessel subtree, used by
// the subscription package to synthesize the initial-state delta (spec
// §4.D). relPath is the path relative to the self vessel. The per-source
// "values" history is intrinsic leaf data, never a child node, so there
// is no risk of the walk misinterpreting it as a subtree (spec §9).
func (s *StateStore) WalkSelfLeaves(visit LeafVisitor) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	selfNode, ok := descendNode(s.root, skpath.MustParse(s.selfURN).Segments())
	if !ok {
		return
	}
	walkLeaves(selfNode, "", visit)
}

func descendNode(n *node, segs []string) (*node, bool) {
	cur := n
	for _, seg := range segs {
		child, ok := cur.findChild(seg)
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

// walkLeaves visits every leaf in lexical order of path segment so that
// callers relying on visit order (e.g. subscription.InitialStateDelta's
// "first encountered" source/timestamp) see deterministic results across
// calls rather than Go's randomized map iteration order.
func walkLeaves(n *node, prefix string, visit LeafVisitor) {
	if n.value != nil {
		visit(prefix, n.value.sourceRef, n.value.timestamp, n.value.value)
	}
	segs := make([]string, 0, len(n.children))
	for seg := range n.children {
		segs = append(segs, seg)
	}
	sort.Strings(segs)
	for _, seg := range segs {
		childPath := seg
		if prefix != "" {
			childPath = prefix + "." + seg
		}
		walkLeaves(n.children[seg], childPath, visit)
	}
}

// GetSelfMeta returns the raw meta Value stored at relPath under the self
// vessel, if any (used by the subscription package when meta participates
// in filtering, spec §9 Open Question).
func (s *StateStore) GetSelfMeta(relPath string) (protocol.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := skpath.Parse(relPath)
	if err != nil {
		return protocol.Value{}, false
	}
	segs := appendSegments(skpath.MustParse(s.selfURN).Segments(), p.Segments())
	cur := s.meta
	for _, seg := range segs {
		if cur.children == nil {
			return protocol.Value{}, false
		}
		child, ok := cur.children[seg]
		if !ok {
			return protocol.Value{}, false
		}
		cur = child
	}
	if cur.value == nil {
		return protocol.Value{}, false
	}
	return *cur.value, true
}
