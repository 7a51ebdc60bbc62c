package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/marketcrawler/internal/model"
)

const ruleWidth = 70

// SimpleWriter outputs a plain text summary meant for the terminal.
type SimpleWriter struct {
	baseWriter

	// showEmpty keeps sections that have nothing to show.
	showEmpty bool

	// verbose adds the step list and every category pass.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithShowEmpty configures the writer to show empty sections.
func WithShowEmpty(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showEmpty = show
	}
}

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the summary of run.
func (w *SimpleWriter) Write(run *model.Run) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, run)
	w.writeModels(&sb, run)
	w.writeCategories(&sb, run)
	w.writeSteps(&sb, run)
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, run *model.Run) {
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	fmt.Fprintf(sb, "MARKET RUN: %s\n", run.Market)
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Started:         %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Duration:        %s\n", run.Duration().Round(time.Second))
	fmt.Fprintf(sb, "Recalculations:  %d\n", run.Recalculations)
	if run.ErrorMessage != "" {
		fmt.Fprintf(sb, "Status:          %s - %s\n", status(run), run.ErrorMessage)
	} else {
		fmt.Fprintf(sb, "Status:          %s\n", status(run))
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeModels(sb *strings.Builder, run *model.Run) {
	names := run.ModelNames()
	if len(names) == 0 && !w.showEmpty {
		return
	}
	section(sb, "MODELS")

	if len(names) == 0 {
		sb.WriteString("  No pages attempted\n\n")
		return
	}

	title := cases.Title(language.English)
	fmt.Fprintf(sb, "  %-12s %9s %8s %7s %7s %6s %5s\n",
		"Model", "Attempted", "Fetched", "Failed", "Stored", "Found", "New")
	for _, name := range names {
		s := run.Snapshot(name)
		fmt.Fprintf(sb, "  %-12s %9d %8d %7d %7d %6d %5d\n",
			title.String(name), s.Attempted, s.Fetched, s.Failed, s.Stored, s.Found, s.New)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeCategories(sb *strings.Builder, run *model.Run) {
	if len(run.Categories) == 0 && !w.showEmpty {
		return
	}
	section(sb, "CATEGORIES")

	if len(run.Categories) == 0 {
		sb.WriteString("  No categories crawled\n\n")
		return
	}

	if !w.verbose {
		for _, c := range lastPasses(run.Categories) {
			fmt.Fprintf(sb, "  [+] %s: %d pass(es), %d listing(s)\n", c.Category, c.Pass, c.Listings)
		}
		sb.WriteString("\n")
		return
	}
	for _, c := range run.Categories {
		fmt.Fprintf(sb, "  [%d] %s %s window=%d listings=%d\n", c.Pass, c.Category, c.Path, c.Window, c.Listings)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSteps(sb *strings.Builder, run *model.Run) {
	if !w.verbose || (len(run.Steps) == 0 && !w.showEmpty) {
		return
	}
	section(sb, "STEPS")
	for _, step := range run.Steps {
		fmt.Fprintf(sb, "  * %s\n", step)
	}
	sb.WriteString("\n")
}

func section(sb *strings.Builder, name string) {
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString(name)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n\n")
}

// categoryTotal folds the passes over one category path.
type categoryTotal struct {
	Category string
	Path     string
	Pass     int
	Listings int
}

// lastPasses folds passes by category path, keeping first-seen order.
func lastPasses(passes []model.CategoryPass) []categoryTotal {
	index := make(map[string]int)
	var out []categoryTotal
	for _, p := range passes {
		key := p.Category + "\x00" + p.Path
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, categoryTotal{Category: p.Category, Path: p.Path})
		}
		out[i].Pass = max(out[i].Pass, p.Pass)
		out[i].Listings += p.Listings
	}
	return out
}
