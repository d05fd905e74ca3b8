package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostiotrace/internal/audit"
	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/render"
	"github.com/ppiankov/hostiotrace/internal/tracer"
)

// treeFlags are the output flags shared by every command that prints a tree.
type treeFlags struct {
	format     string
	fields     bool
	maxDepth   int
	noColor    bool
	nestingOps []string
}

func (f *treeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.format, "format", "f", "text", "Output format (text|json)")
	cmd.Flags().BoolVar(&f.fields, "fields", false, "Print decoded hostio fields")
	cmd.Flags().IntVar(&f.maxDepth, "max-depth", 0, "Collapse frames nested deeper than this (0 = unlimited)")
	cmd.Flags().BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringSliceVar(&f.nestingOps, "nesting-ops", nil, "Hostios that consume the preceding frame (overrides config)")
}

func (f *treeFlags) validate() error {
	if f.format != "text" && f.format != "json" {
		return fmt.Errorf("unknown format %q (want text or json)", f.format)
	}
	return nil
}

// nests is the --nesting-ops override or the configured set.
func (f *treeFlags) nests(cmd *cobra.Command) (model.NestingSet, error) {
	if cmd.Flags().Changed("nesting-ops") {
		return model.NewNestingSet(f.nestingOps...)
	}
	return appConfig.Nests()
}

// view is everything printed for one tree.
type view struct {
	title   string
	root    *model.Frame
	tx      common.Hash
	tracer  string
	partial bool
	depth   int
	nests   model.NestingSet
}

func (f *treeFlags) print(w io.Writer, v view) error {
	if f.format == "json" {
		r, err := render.NewReport(v.root.Steps, v.nests)
		if err != nil {
			return err
		}
		if v.tx != (common.Hash{}) {
			r.Tx = v.tx.Hex()
		}
		if v.root.Address != (common.Address{}) {
			r.Target = v.root.Address.Hex()
		}
		r.Tracer, r.Partial, r.Depth = v.tracer, v.partial, v.depth
		return render.JSON(w, r)
	}

	useColor := !f.noColor && !color.NoColor && w == os.Stdout
	p := render.NewPrinter(w, render.Options{Color: useColor, Fields: f.fields, MaxDepth: f.maxDepth})
	if v.title != "" {
		p.Header(v.title, v.root)
	}
	p.Tree(v.root.Steps)
	p.Summary(model.Count(v.root.Steps), v.partial)
	p.Issues(tracer.Check(v.root.Steps, v.nests))
	return nil
}

// recordAudit appends to the configured audit log, if any.
func recordAudit(e audit.Entry) {
	if appConfig == nil || appConfig.AuditLog == "" {
		return
	}
	l, err := audit.Open(appConfig.AuditLog)
	if err != nil {
		log.Warn("Audit log unavailable", "path", appConfig.AuditLog, "err", err)
		return
	}
	defer l.Close()
	if err := l.Record(e); err != nil {
		log.Warn("Audit record failed", "err", err)
	}
}

// readInput reads a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
