package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mergetree/mergetree/internal/errs"
	"github.com/mergetree/mergetree/internal/model"
)

// Keyboard shortcuts:
//
//	n       prefer the newer side
//	o       prefer the older side
//	i       inspect (render a diff), then choose n/o
//	q, esc  abort resolution (treated as graceful shutdown)
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	metaStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	diffStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
)

// Interactive is the default Resolver: a bubbletea program that presents
// each conflict Candidate and reads the operator's choice.
type Interactive struct{}

// NewInteractive returns the interactive TTY Resolver.
func NewInteractive() *Interactive { return &Interactive{} }

// Resolve implements Resolver by running a single-screen bubbletea
// program per conflict and blocking until the operator chooses.
func (Interactive) Resolve(ctx context.Context, c model.Candidate) (model.Choice, error) {
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	m := conflictModel{candidate: c}
	p := tea.NewProgram(m)

	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("resolver: interactive program: %w", err)
	}

	fm := final.(conflictModel)
	if fm.aborted {
		return "", errs.ErrResolverAborted
	}
	return fm.choice, nil
}

type conflictModel struct {
	candidate model.Candidate

	inspecting bool
	diffText   string
	diffErr    error

	choice  model.Choice
	aborted bool
	done    bool
}

func (m conflictModel) Init() tea.Cmd { return nil }

func (m conflictModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch keyMsg.String() {
	case "q", "esc", "ctrl+c":
		m.aborted = true
		m.done = true
		return m, tea.Quit

	case "i":
		if !m.inspecting {
			m.inspecting = true
			m.diffText, m.diffErr = loadDiff(m.candidate)
		}
		return m, nil

	case "n":
		if m.inspecting {
			m.choice = model.ChoiceInspectThenNewer
		} else {
			m.choice = model.ChoicePreferNewer
		}
		m.done = true
		return m, tea.Quit

	case "o":
		if m.inspecting {
			m.choice = model.ChoiceInspectThenOlder
		} else {
			m.choice = model.ChoicePreferOlder
		}
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m conflictModel) View() string {
	if m.done {
		return ""
	}

	c := m.candidate
	s := titleStyle.Render("conflict: "+c.RelPath) + "\n\n"
	s += metaStyle.Render(fmt.Sprintf("  A  kind=%-7s size=%-8d mtime=%s", c.KindA, c.SizeA, c.MtimeA.Format("2006-01-02 15:04:05"))) + "\n"
	s += metaStyle.Render(fmt.Sprintf("  B  kind=%-7s size=%-8d mtime=%s", c.KindB, c.SizeB, c.MtimeB.Format("2006-01-02 15:04:05"))) + "\n\n"

	if m.inspecting {
		if m.diffErr != nil {
			s += metaStyle.Render("diff unavailable: "+m.diffErr.Error()) + "\n\n"
		} else {
			s += diffStyle.Render(m.diffText) + "\n"
		}
	}

	s += helpStyle.Render("[n] prefer newer  [o] prefer older  [i] inspect diff  [q] abort") + "\n"
	return s
}

// loadDiff reads both candidate files (when both sides are regular
// files) and renders a line diff for the operator.
func loadDiff(c model.Candidate) (string, error) {
	if c.KindA != model.KindFile || c.KindB != model.KindFile {
		return "", errors.New("diff only available for regular files")
	}
	a, err := os.ReadFile(c.AbsPathA)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(c.AbsPathB)
	if err != nil {
		return "", err
	}
	return renderDiff(string(a), string(b)), nil
}
