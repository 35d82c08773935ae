package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Neo4jExport is the combined Neo4j JSON export format:
//
//	{
//	  "nodes": [{"id":"0","labels":["Person"],"properties":{"name":"Alice"}}],
//	  "relationships": [{"id":"0","type":"KNOWS","startNode":"0","endNode":"1"}]
//	}
type Neo4jExport struct {
	Nodes         []Neo4jNode         `json:"nodes"`
	Relationships []Neo4jRelationship `json:"relationships"`
}

// Neo4jNode is the Neo4j JSON export format for nodes.
type Neo4jNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// Neo4jNodeRef is a reference to a node in APOC relationship format.
type Neo4jNodeRef struct {
	ID     string   `json:"id"`
	Labels []string `json:"labels,omitempty"`
}

// Neo4jRelationship supports both the flat format (startNode/endNode) and
// the APOC format (start/end objects).
type Neo4jRelationship struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`

	StartNode string `json:"startNode,omitempty"`
	EndNode   string `json:"endNode,omitempty"`

	Start *Neo4jNodeRef `json:"start,omitempty"`
	End   *Neo4jNodeRef `json:"end,omitempty"`
}

// GetStartID returns the start node ID regardless of format.
func (r *Neo4jRelationship) GetStartID() string {
	if r.Start != nil && r.Start.ID != "" {
		return r.Start.ID
	}
	return r.StartNode
}

// GetEndID returns the end node ID regardless of format.
func (r *Neo4jRelationship) GetEndID() string {
	if r.End != nil && r.End.ID != "" {
		return r.End.ID
	}
	return r.EndNode
}

// ImportStats summarizes a load.
type ImportStats struct {
	Nodes         int
	Relationships int
	// IDMap maps export ids to the store ids allocated for them.
	IDMap map[string]uint64
}

// LoadNeo4jExport creates every node and relationship of export in repo.
// Store ids are freshly allocated; relationships are rewired through the
// resulting id map.
func LoadNeo4jExport(ctx context.Context, repo Repository, export *Neo4jExport) (*ImportStats, error) {
	if export == nil {
		return nil, ErrInvalidData
	}

	stats := &ImportStats{IDMap: make(map[string]uint64, len(export.Nodes))}
	for _, n := range export.Nodes {
		if n.ID == "" {
			return stats, fmt.Errorf("node without id: %w", ErrInvalidID)
		}
		if _, dup := stats.IDMap[n.ID]; dup {
			return stats, fmt.Errorf("node %q: %w", n.ID, ErrAlreadyExists)
		}
		id, err := repo.CreateNode(ctx, n.Labels, n.Properties)
		if err != nil {
			return stats, fmt.Errorf("failed to create node %q: %w", n.ID, err)
		}
		stats.IDMap[n.ID] = id
		stats.Nodes++
	}

	for _, r := range export.Relationships {
		src, ok := stats.IDMap[r.GetStartID()]
		if !ok {
			return stats, fmt.Errorf("relationship %q start %q: %w", r.ID, r.GetStartID(), ErrNotFound)
		}
		dst, ok := stats.IDMap[r.GetEndID()]
		if !ok {
			return stats, fmt.Errorf("relationship %q end %q: %w", r.ID, r.GetEndID(), ErrNotFound)
		}
		if _, err := repo.CreateRelationship(ctx, src, dst, r.Type, r.Properties); err != nil {
			return stats, fmt.Errorf("failed to create relationship %q: %w", r.ID, err)
		}
		stats.Relationships++
	}
	return stats, nil
}

// ReadNeo4jExport decodes a combined export document.
func ReadNeo4jExport(r io.Reader) (*Neo4jExport, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var export Neo4jExport
	if err := dec.Decode(&export); err != nil {
		return nil, fmt.Errorf("failed to parse export: %w", err)
	}
	return &export, nil
}

// LoadNeo4jExportFile reads path and loads it into repo.
func LoadNeo4jExportFile(ctx context.Context, repo Repository, path string) (*ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}
	defer f.Close()

	export, err := ReadNeo4jExport(f)
	if err != nil {
		return nil, err
	}
	return LoadNeo4jExport(ctx, repo, export)
}

// ToNeo4jExport collects every record of s into the combined export format.
// Store ids are rendered in decimal.
func ToNeo4jExport(ctx context.Context, s Scanner) (*Neo4jExport, error) {
	export := &Neo4jExport{
		Nodes:         []Neo4jNode{},
		Relationships: []Neo4jRelationship{},
	}
	err := s.ScanNodes(ctx, func(n *NodeRecord) error {
		export.Nodes = append(export.Nodes, Neo4jNode{
			ID:         strconv.FormatUint(n.ID, 10),
			Labels:     n.Labels,
			Properties: n.Properties,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan nodes: %w", err)
	}
	err = s.ScanEdges(ctx, func(e *EdgeRecord) error {
		export.Relationships = append(export.Relationships, Neo4jRelationship{
			ID:         strconv.FormatUint(e.ID, 10),
			Type:       e.Type,
			Properties: e.Properties,
			StartNode:  strconv.FormatUint(e.Source, 10),
			EndNode:    strconv.FormatUint(e.Target, 10),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan relationships: %w", err)
	}
	return export, nil
}

// WriteNeo4jExport writes s to w as indented JSON.
func WriteNeo4jExport(ctx context.Context, s Scanner, w io.Writer) error {
	export, err := ToNeo4jExport(ctx, s)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}
