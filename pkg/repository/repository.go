// Package repository provides the backing stores a graph proxy pulls nodes
// and relationships from.
//
// Two implementations are provided:
//   - BadgerRepository: persistent storage on BadgerDB
//   - MemoryRepository: map-backed storage for tests and small graphs
//
// Both are safe for concurrent use. Store identities are uint64 values
// allocated by the repository; node and relationship identities live in
// separate namespaces.
//
// Example:
//
//	repo, err := repository.NewBadgerRepository(repository.BadgerOptions{DataDir: "./data"})
//	if err != nil {
//		return err
//	}
//	defer repo.Close()
//
//	alice, _ := repo.CreateNode(ctx, []string{"Person"}, map[string]any{"name": "Alice"})
//	bob, _ := repo.CreateNode(ctx, []string{"Person"}, map[string]any{"name": "Bob"})
//	repo.CreateRelationship(ctx, alice, bob, "KNOWS", nil)
package repository

import (
	"context"
	"errors"
	"slices"

	"github.com/orneryd/onegraph/pkg/convert"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidData   = errors.New("invalid data")
	ErrStorageClosed = errors.New("storage closed")
)

// NodeRecord is a node as stored.
type NodeRecord struct {
	ID         uint64         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// EdgeRecord is a relationship as stored.
type EdgeRecord struct {
	ID         uint64         `json:"id"`
	Source     uint64         `json:"source"`
	Target     uint64         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// HasLabels reports whether the node carries every label in labels.
func (n *NodeRecord) HasLabels(labels []string) bool {
	for _, l := range labels {
		if !slices.Contains(n.Labels, l) {
			return false
		}
	}
	return true
}

func (n *NodeRecord) clone() *NodeRecord {
	return &NodeRecord{
		ID:         n.ID,
		Labels:     slices.Clone(n.Labels),
		Properties: normalizeProperties(n.Properties),
	}
}

func (e *EdgeRecord) clone() *EdgeRecord {
	out := *e
	out.Properties = normalizeProperties(e.Properties)
	return &out
}

// Repository is the store a graph proxy materializes from.
type Repository interface {
	// FetchNodeIDsWithLabels returns the ids of nodes carrying all of
	// labels, ascending. An empty label set matches every node.
	FetchNodeIDsWithLabels(ctx context.Context, labels []string) ([]uint64, error)
	FetchNode(ctx context.Context, id uint64) (*NodeRecord, error)
	// FetchOutEdges returns the relationships whose source is id.
	FetchOutEdges(ctx context.Context, id uint64) ([]*EdgeRecord, error)
	// FetchInEdges returns the relationships whose target is id.
	FetchInEdges(ctx context.Context, id uint64) ([]*EdgeRecord, error)
	CreateNode(ctx context.Context, labels []string, props map[string]any) (uint64, error)
	CreateRelationship(ctx context.Context, source, target uint64, typ string, props map[string]any) (uint64, error)
	NodeCount(ctx context.Context) (int64, error)
	RelationshipCount(ctx context.Context) (int64, error)
	Close() error
}

// Scanner streams every stored record. Used by export.
type Scanner interface {
	ScanNodes(ctx context.Context, fn func(*NodeRecord) error) error
	ScanEdges(ctx context.Context, fn func(*EdgeRecord) error) error
}

// normalizeValue maps numeric leaves onto int64 or float64 so callers see
// the same Go types regardless of backend. Lists and maps are copied.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalizeValue(x[i])
		}
		return out
	case map[string]any:
		return normalizeProperties(x)
	}
	if n, ok := convert.Number(v); ok {
		return n
	}
	return v
}

func normalizeProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = normalizeValue(v)
	}
	return out
}
