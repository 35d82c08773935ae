package model

import (
	"strconv"
	"strings"

	"github.com/orneryd/onegraph/pkg/graph"
)

// FormatPattern renders a pattern one element per line, nodes first:
//
//	(n0 #7 as x) Match
//	(n1) Match
//	(n0)-[:KNOWS]->(n1) Match
func FormatPattern(p *Pattern) string {
	var sb strings.Builder
	for _, id := range p.NodeIDs() {
		n := p.Node(id)
		sb.WriteString("(")
		sb.WriteString(id.String())
		if n.ID != nil {
			sb.WriteString(" #")
			sb.WriteString(strconv.FormatUint(*n.ID, 10))
		}
		for _, l := range n.Labels {
			sb.WriteString(":")
			sb.WriteString(l)
		}
		writeProps(&sb, n.Properties)
		if n.Alias != "" {
			sb.WriteString(" as ")
			sb.WriteString(n.Alias)
		}
		sb.WriteString(") ")
		sb.WriteString(n.Status.String())
		sb.WriteString("\n")
	}
	for i := 0; i < p.EdgesLen(); i++ {
		e := graph.NewEdgeIndex(i)
		r := p.Relationship(e)
		sb.WriteString("(")
		sb.WriteString(p.SourceIndex(e).String())
		sb.WriteString(")-[")
		for _, l := range r.Labels {
			sb.WriteString(":")
			sb.WriteString(l)
		}
		writeProps(&sb, r.Properties)
		sb.WriteString("]->(")
		sb.WriteString(p.TargetIndex(e).String())
		sb.WriteString(") ")
		sb.WriteString(r.Status.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeProps(sb *strings.Builder, props []Property) {
	if len(props) == 0 {
		return
	}
	sb.WriteString(" {")
	for i, p := range props {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Name)
		sb.WriteString(": ")
		if p.Value == nil {
			sb.WriteString("null")
		} else {
			sb.WriteString(p.Value.String())
		}
	}
	sb.WriteString("}")
}
