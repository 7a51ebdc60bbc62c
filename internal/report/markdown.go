package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/marketcrawler/internal/model"
)

// MarkdownWriter outputs the run summary as GitHub-flavored markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the summary of run in Markdown format.
func (w *MarkdownWriter) Write(run *model.Run) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, run)
	w.writeAlert(md, run)
	w.writeModels(md, run)
	w.writeCategories(md, run)
	w.writeSteps(md, run)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, run *model.Run) {
	md.H1("Market Run: " + run.Market)
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Market", run.Market},
			{"Started", run.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", run.Duration().Round(time.Second).String()},
			{"Recalculations", strconv.Itoa(run.Recalculations)},
			{"Status", status(run)},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, run *model.Run) {
	var attempted, failed int
	for _, name := range run.ModelNames() {
		s := run.Snapshot(name)
		attempted += s.Attempted
		failed += s.Failed
	}

	switch {
	case run.ErrorMessage != "":
		md.Cautionf("The run stopped early: %s", run.ErrorMessage)
	case attempted > 0 && failed == attempted:
		md.Warningf("All %d request(s) failed. Check the proxy and the market's cookies.", attempted)
	case failed > 0:
		md.Note(fmt.Sprintf("%d of %d request(s) failed and will be retried on the next run.", failed, attempted))
	default:
		md.Tip("Every request succeeded.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeModels(md *markdown.Markdown, run *model.Run) {
	names := run.ModelNames()
	if len(names) == 0 {
		return
	}
	md.H2("Models")
	md.PlainText("")

	title := cases.Title(language.English)
	rows := make([][]string, 0, len(names))
	var stored, failed uint64
	for _, name := range names {
		s := run.Snapshot(name)
		rows = append(rows, []string{
			title.String(name),
			strconv.Itoa(s.Attempted),
			strconv.Itoa(s.Fetched),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.Stored),
			strconv.Itoa(s.Found),
			strconv.Itoa(s.New),
		})
		stored += uint64(s.Stored)
		failed += uint64(s.Failed)
	}
	md.Table(markdown.TableSet{
		Header: []string{"Model", "Attempted", "Fetched", "Failed", "Stored", "Found", "New"},
		Rows:   rows,
	})
	md.PlainText("")

	if stored+failed > 0 {
		w.writePieChart(md, stored, failed)
	}
}

func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, stored, failed uint64) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Page Outcomes"),
		piechart.WithShowData(true),
	)
	if stored > 0 {
		chart.LabelAndIntValue("Stored", stored)
	}
	if failed > 0 {
		chart.LabelAndIntValue("Failed", failed)
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeCategories(md *markdown.Markdown, run *model.Run) {
	if len(run.Categories) == 0 {
		return
	}
	md.H2("Categories")
	md.PlainText("")

	rows := make([][]string, 0, len(run.Categories))
	for _, c := range run.Categories {
		rows = append(rows, []string{
			c.Category,
			"`" + c.Path + "`",
			strconv.Itoa(c.Pass),
			strconv.Itoa(c.Window),
			strconv.Itoa(c.Listings),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Category", "Path", "Pass", "Window", "Listings"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeSteps(md *markdown.Markdown, run *model.Run) {
	if len(run.Steps) == 0 {
		return
	}
	md.H2("Steps")
	md.PlainText("")
	md.BulletList(run.Steps...)
	md.PlainText("")
}
