package resolver

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// renderDiff builds a line-oriented +/- diff of two file contents for
// the interactive Resolver's inspect flow. Presentation only: the
// rendered text is never written back to a file.
func renderDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var out strings.Builder
	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		for i, line := range lines {
			if line == "" && i == len(lines)-1 {
				continue // trailing split artifact, not a real empty line
			}
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				out.WriteString("+ " + line + "\n")
			case diffmatchpatch.DiffDelete:
				out.WriteString("- " + line + "\n")
			case diffmatchpatch.DiffEqual:
				out.WriteString("  " + line + "\n")
			}
		}
	}
	return out.String()
}
