package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nichescout/nichescout/internal/router"
)

// MermaidFile is the name of the topology file written to the graphs dir.
const MermaidFile = "research_graph.mmd"

// Mermaid renders the supervisor topology. Dotted edges are conditional.
func Mermaid(workers []router.Destination) string {
	var sb strings.Builder
	sb.WriteString("graph TD;\n")
	sb.WriteString("\t__start__([<p>__start__</p>]):::first\n")
	sb.WriteString("\tsupervisor(supervisor)\n")
	for _, w := range workers {
		fmt.Fprintf(&sb, "\t%s(%s)\n", w, w)
	}
	sb.WriteString("\t__end__([<p>__end__</p>]):::last\n")
	sb.WriteString("\t__start__ --> supervisor;\n")
	for _, w := range workers {
		fmt.Fprintf(&sb, "\tsupervisor -.-> %s;\n", w)
		fmt.Fprintf(&sb, "\t%s --> supervisor;\n", w)
	}
	fmt.Fprintf(&sb, "\tsupervisor -.->|%s| __end__;\n", router.Finish)
	sb.WriteString("\tclassDef default fill:#f2f0ff,line-height:1.2\n")
	sb.WriteString("\tclassDef first fill-opacity:0\n")
	sb.WriteString("\tclassDef last fill:#bfb6fc\n")
	return sb.String()
}

// WriteMermaid writes the topology into dir and returns the file path.
func WriteMermaid(dir string, workers []router.Destination) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create graphs dir: %w", err)
	}
	path := filepath.Join(dir, MermaidFile)
	if err := os.WriteFile(path, []byte(Mermaid(workers)), 0o644); err != nil {
		return "", fmt.Errorf("write mermaid graph: %w", err)
	}
	return path, nil
}
