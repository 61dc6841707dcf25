// Package panel renders the undo history as a text panel.
//
// The panel lists the undo sequence oldest first, marks the entry the
// document currently reflects, and then lists what Redo would re-apply in
// the order it would re-apply it.
//
//	History  2 undo · 1 redo
//	  12:00:00  scene.create     Add scene "Intro"
//	> 12:00:01  layer.create     Add layer "text"
//	  12:00:02  layer.delete     Delete layer "bg" (undone)
package panel

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dshills/sceneboard/internal/engine/history"
)

// Source provides history entries. *engine.Engine satisfies it.
type Source interface {
	UndoEntries() []history.Entry
	RedoEntries() []history.Entry
}

// Panel renders history entries for one output.
type Panel struct {
	title   lipgloss.Style
	current lipgloss.Style
	undone  lipgloss.Style
	muted   lipgloss.Style

	loc *time.Location
}

// Option configures a Panel.
type Option func(*Panel)

// WithLocation sets the zone timestamps are shown in. The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(p *Panel) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// New creates a panel styled for w. Colors are dropped when w is not a
// terminal.
func New(w io.Writer, opts ...Option) *Panel {
	r := lipgloss.NewRenderer(w)
	p := &Panel{
		title:   r.NewStyle().Bold(true),
		current: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		undone:  r.NewStyle().Foreground(lipgloss.Color("8")),
		muted:   r.NewStyle().Faint(true),
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Render returns the panel for src.
func (p *Panel) Render(src Source) string {
	return p.RenderEntries(src.UndoEntries(), src.RedoEntries())
}

// RenderEntries returns the panel for the given sequences, both oldest
// first as History returns them.
func (p *Panel) RenderEntries(undo, redo []history.Entry) string {
	var b strings.Builder

	b.WriteString(p.title.Render("History"))
	b.WriteString(p.muted.Render(fmt.Sprintf("  %d undo · %d redo", len(undo), len(redo))))
	b.WriteByte('\n')

	if len(undo) == 0 && len(redo) == 0 {
		b.WriteString(p.muted.Render("  (empty)"))
		b.WriteByte('\n')
		return b.String()
	}

	for _, e := range undo {
		if e.Current {
			b.WriteString(p.current.Render("> " + p.line(e)))
		} else {
			b.WriteString("  " + p.line(e))
		}
		b.WriteByte('\n')
	}

	// The last redo entry is the next one Redo applies.
	for i := len(redo) - 1; i >= 0; i-- {
		b.WriteString(p.undone.Render("  " + p.line(redo[i]) + " (undone)"))
		b.WriteByte('\n')
	}
	return b.String()
}

func (p *Panel) line(e history.Entry) string {
	return fmt.Sprintf("%s  %-15s  %s", e.Timestamp.In(p.loc).Format(time.TimeOnly), e.Kind, e.Label)
}
