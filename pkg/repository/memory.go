package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryRepository is a map-backed Repository. Records are deep-copied on
// the way in and out so callers cannot mutate stored state.
type MemoryRepository struct {
	mu    sync.RWMutex
	nodes map[uint64]*NodeRecord
	edges map[uint64]*EdgeRecord

	nodesByLabel  map[string]map[uint64]struct{}
	outgoingEdges map[uint64][]uint64
	incomingEdges map[uint64][]uint64

	nextNodeID uint64
	nextEdgeID uint64

	closed bool
}

var _ Repository = (*MemoryRepository)(nil)
var _ Scanner = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nodes:         make(map[uint64]*NodeRecord),
		edges:         make(map[uint64]*EdgeRecord),
		nodesByLabel:  make(map[string]map[uint64]struct{}),
		outgoingEdges: make(map[uint64][]uint64),
		incomingEdges: make(map[uint64][]uint64),
	}
}

// FetchNodeIDsWithLabels implements Repository.
func (m *MemoryRepository) FetchNodeIDsWithLabels(ctx context.Context, labels []string) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	var ids []uint64
	if len(labels) == 0 {
		for id := range m.nodes {
			ids = append(ids, id)
		}
	} else {
		for id := range m.nodesByLabel[labels[0]] {
			if m.nodes[id].HasLabels(labels[1:]) {
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return ids, ctx.Err()
}

// FetchNode implements Repository.
func (m *MemoryRepository) FetchNode(_ context.Context, id uint64) (*NodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	return n.clone(), nil
}

// FetchOutEdges implements Repository.
func (m *MemoryRepository) FetchOutEdges(_ context.Context, id uint64) ([]*EdgeRecord, error) {
	return m.fetchEdges(id, m.outgoingEdges)
}

// FetchInEdges implements Repository.
func (m *MemoryRepository) FetchInEdges(_ context.Context, id uint64) ([]*EdgeRecord, error) {
	return m.fetchEdges(id, m.incomingEdges)
}

func (m *MemoryRepository) fetchEdges(id uint64, index map[uint64][]uint64) ([]*EdgeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	if _, ok := m.nodes[id]; !ok {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}

	edgeIDs := index[id]
	out := make([]*EdgeRecord, 0, len(edgeIDs))
	for _, eid := range edgeIDs {
		out = append(out, m.edges[eid].clone())
	}
	return out, nil
}

// CreateNode implements Repository.
func (m *MemoryRepository) CreateNode(_ context.Context, labels []string, props map[string]any) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStorageClosed
	}

	id := m.nextNodeID
	m.nextNodeID++

	m.nodes[id] = &NodeRecord{
		ID:         id,
		Labels:     slices.Clone(labels),
		Properties: normalizeProperties(props),
	}
	for _, label := range labels {
		if m.nodesByLabel[label] == nil {
			m.nodesByLabel[label] = make(map[uint64]struct{})
		}
		m.nodesByLabel[label][id] = struct{}{}
	}
	return id, nil
}

// CreateRelationship implements Repository. Both endpoints must exist.
func (m *MemoryRepository) CreateRelationship(_ context.Context, source, target uint64, typ string, props map[string]any) (uint64, error) {
	if typ == "" {
		return 0, fmt.Errorf("relationship type: %w", ErrInvalidData)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	if _, ok := m.nodes[source]; !ok {
		return 0, fmt.Errorf("source node %d: %w", source, ErrNotFound)
	}
	if _, ok := m.nodes[target]; !ok {
		return 0, fmt.Errorf("target node %d: %w", target, ErrNotFound)
	}

	id := m.nextEdgeID
	m.nextEdgeID++

	m.edges[id] = &EdgeRecord{
		ID:         id,
		Source:     source,
		Target:     target,
		Type:       typ,
		Properties: normalizeProperties(props),
	}
	m.outgoingEdges[source] = append(m.outgoingEdges[source], id)
	m.incomingEdges[target] = append(m.incomingEdges[target], id)
	return id, nil
}

// NodeCount implements Repository.
func (m *MemoryRepository) NodeCount(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.nodes)), nil
}

// RelationshipCount implements Repository.
func (m *MemoryRepository) RelationshipCount(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.edges)), nil
}

// ScanNodes implements Scanner, ascending by id.
func (m *MemoryRepository) ScanNodes(ctx context.Context, fn func(*NodeRecord) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrStorageClosed
	}
	ids := make([]uint64, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	nodes := make([]*NodeRecord, len(ids))
	for i, id := range ids {
		nodes[i] = m.nodes[id].clone()
	}
	m.mu.RUnlock()

	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

// ScanEdges implements Scanner, ascending by id.
func (m *MemoryRepository) ScanEdges(ctx context.Context, fn func(*EdgeRecord) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrStorageClosed
	}
	ids := make([]uint64, 0, len(m.edges))
	for id := range m.edges {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	edges := make([]*EdgeRecord, len(ids))
	for i, id := range ids {
		edges[i] = m.edges[id].clone()
	}
	m.mu.RUnlock()

	for _, e := range edges {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Close releases all records. Further calls return ErrStorageClosed.
func (m *MemoryRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.nodes = nil
	m.edges = nil
	m.nodesByLabel = nil
	m.outgoingEdges = nil
	m.incomingEdges = nil
	return nil
}
