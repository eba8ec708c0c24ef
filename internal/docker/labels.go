package docker

import (
	"fmt"
	"strings"
)

// Label keys attached to every tool container of a run
const (
	LabelProject = "hitmap.project"
	LabelRunID   = "hitmap.run.id"
	LabelOutDir  = "hitmap.run.outdir"
	LabelTool    = "hitmap.tool"
)

// BuildLabels creates the label set for a tool container.
// tool may be empty when the container is not tied to one tool.
func BuildLabels(runID, outDir, tool string) map[string]string {
	labels := map[string]string{
		LabelProject: "true",
		LabelRunID:   runID,
		LabelOutDir:  outDir,
	}

	if tool != "" {
		labels[LabelTool] = tool
	}

	return labels
}

// ContainerName returns the name of the seq-th tool container of a run.
// Docker names may only contain [a-zA-Z0-9_.-], so other characters become dashes.
func ContainerName(runID, tool string, seq int) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("hitmap-%s-%s-%d", short, sanitize(tool), seq)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}
