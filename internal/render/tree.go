// Package render prints reconstructed traces for terminals.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"

	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/tracer"
)

const separator = "──────────────────────────────────────────────────────────────────"

// Options control tree output.
type Options struct {
	Color bool
	// Fields prints decoded hostio fields next to each name.
	Fields bool
	// MaxDepth stops descending below this frame depth; zero means unlimited.
	MaxDepth int
}

// Printer writes trees to a writer.
type Printer struct {
	w    io.Writer
	opts Options

	name    *color.Color
	nesting *color.Color
	frame   *color.Color
	addr    *color.Color
	dim     *color.Color
	warn    *color.Color
}

// NewPrinter returns a printer. Colors are disabled unless opts.Color is set.
func NewPrinter(w io.Writer, opts Options) *Printer {
	p := &Printer{
		w:       w,
		opts:    opts,
		name:    color.New(color.FgGreen),
		nesting: color.New(color.FgYellow, color.Bold),
		frame:   color.New(color.FgMagenta),
		addr:    color.New(color.FgCyan),
		dim:     color.New(color.Faint),
		warn:    color.New(color.FgHiRed),
	}
	for _, c := range []*color.Color{p.name, p.nesting, p.frame, p.addr, p.dim, p.warn} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Header writes a title line for a trace rooted at root.
func (p *Printer) Header(title string, root *model.Frame) {
	target := "contract deployment"
	if root != nil && root.Address != (common.Address{}) {
		target = p.addr.Sprint(root.Address.Hex())
	}
	fmt.Fprintf(p.w, "%s %s\n%s\n", title, target, separator)
}

// Tree writes steps as an indented tree.
func (p *Printer) Tree(steps []model.Step) {
	p.steps(steps, "", 1)
}

func (p *Printer) steps(steps []model.Step, prefix string, depth int) {
	for i, step := range steps {
		last := i == len(steps)-1
		branch, indent := "├─ ", "│  "
		if last {
			branch, indent = "└─ ", "   "
		}
		var (
			line  string
			frame *model.Frame
		)
		switch v := step.(type) {
		case *model.HostIO:
			line = p.hostio(v)
			frame = v.Subtrace
		case *model.Frame:
			line = p.frame.Sprint(v.StepName()) + " " + p.addr.Sprint(v.Address.Hex())
			frame = v
		}
		fmt.Fprintf(p.w, "%s%s%s\n", prefix, branch, line)
		if frame == nil || len(frame.Steps) == 0 {
			continue
		}
		if p.opts.MaxDepth > 0 && depth >= p.opts.MaxDepth {
			fmt.Fprintf(p.w, "%s%s%s\n", prefix+indent, "└─ ", p.dim.Sprintf("… %d steps", len(frame.Steps)))
			continue
		}
		p.steps(frame.Steps, prefix+indent, depth+1)
	}
}

func (p *Printer) hostio(h *model.HostIO) string {
	var b strings.Builder
	if h.Subtrace != nil {
		b.WriteString(p.nesting.Sprint(h.Name))
		b.WriteString(" → ")
		b.WriteString(p.addr.Sprint(h.Subtrace.Address.Hex()))
	} else {
		b.WriteString(p.name.Sprint(h.Name))
	}
	if p.opts.Fields && len(h.Fields) > 0 {
		b.WriteString(" ")
		b.WriteString(p.dim.Sprint(truncate(h.Fields.String(), 96)))
	}
	if ink := h.InkUsed(); ink > 0 {
		b.WriteString(p.dim.Sprintf("  ink %d", ink))
	}
	return b.String()
}

// Summary writes a one-line shape summary.
func (p *Printer) Summary(stats model.Stats, partial bool) {
	fmt.Fprintf(p.w, "%s\n", separator)
	line := fmt.Sprintf("Summary: %d hostios, %d frames, depth %d, ink %d", stats.HostIOs, stats.Frames, stats.MaxDepth, stats.InkUsed)
	fmt.Fprintln(p.w, line)
	if partial {
		fmt.Fprintln(p.w, p.warn.Sprint("Trace ended inside an open frame; showing partial tree."))
	}
}

// Issues writes structural problems found by tracer.Check.
func (p *Printer) Issues(issues []tracer.Issue) {
	for _, is := range issues {
		fmt.Fprintln(p.w, p.warn.Sprint("! "+is.String()))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
