package report

import (
	"io"

	"github.com/nao1215/marketcrawler/internal/model"
)

// Writer renders a run summary.
type Writer interface {
	// Write outputs the summary of run.
	// Returns the number of bytes written and any error encountered.
	Write(run *model.Run) (int, error)
}

// MultiWriter writes a run to several Writers, for example the terminal
// and a report file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs run to every Writer in order and stops on the first error.
func (m *MultiWriter) Write(run *model.Run) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(run)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// status describes how the run ended.
func status(run *model.Run) string {
	switch {
	case run.ErrorMessage != "":
		return "Failed"
	case run.FinishedAt.IsZero():
		return "Running"
	default:
		return "Complete"
	}
}
