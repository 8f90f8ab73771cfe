// Package progressui renders the engine's progress event stream as a
// single redrawn terminal line. It is a pure consumer: the engine emits
// events at a bounded rate and never waits on the renderer.
package progressui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/mergetree/mergetree/internal/model"
)

var (
	countStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	awaitingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// Renderer draws a progress bar plus counters to out, typically stderr.
type Renderer struct {
	bar progress.Model
	out io.Writer
}

// New returns a Renderer writing to out.
func New(out io.Writer) *Renderer {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 30
	return &Renderer{bar: bar, out: out}
}

// Run consumes events until the channel closes, redrawing the status
// line in place. Blocking; run it on its own goroutine. The final state
// is left on screen followed by a newline.
func (r *Renderer) Run(events <-chan model.ProgressEvent) {
	var last model.ProgressEvent
	seen := false
	for ev := range events {
		last = ev
		seen = true
		r.draw(ev)
	}
	if seen {
		r.draw(last)
		fmt.Fprintln(r.out)
	}
}

func (r *Renderer) draw(ev model.ProgressEvent) {
	pct := 0.0
	if ev.TotalPaths > 0 {
		pct = float64(ev.Applied+ev.Failed) / float64(ev.TotalPaths)
	}

	line := fmt.Sprintf("%s %s", r.bar.ViewAs(pct),
		countStyle.Render(fmt.Sprintf("%d/%d applied", ev.Applied, ev.TotalPaths)))
	if ev.AwaitingDecision > 0 {
		line += "  " + awaitingStyle.Render(fmt.Sprintf("%d awaiting decision", ev.AwaitingDecision))
	}
	if ev.Failed > 0 {
		line += "  " + failedStyle.Render(fmt.Sprintf("%d failed", ev.Failed))
	}

	// \x1b[K clears to end of line so a shrinking line leaves no residue.
	fmt.Fprintf(r.out, "\r\x1b[K%s", line)
}
