package strategy

import (
	"fmt"
	"io"
	"sync"
)

const (
	glyphOK     = "✔"
	glyphFailed = "❌"
)

// console serializes progress lines written by concurrent workers.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsole(w io.Writer) *console {
	if w == nil {
		w = io.Discard
	}
	return &console{w: w}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, format, args...)
}

func (c *console) result(ok bool, url string) {
	glyph := glyphFailed
	if ok {
		glyph = glyphOK
	}
	c.printf("[%s] %s\n", glyph, url)
}
