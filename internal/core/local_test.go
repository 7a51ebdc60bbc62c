package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLocalMarket(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "market name", input: "example\n", want: "example"},
		{name: "surrounding spaces", input: "  example  \n", want: "example"},
		{name: "empty line ends", input: "\n", want: ""},
		{name: "eof ends", input: "", want: ""},
		{name: "last line without newline", input: "example", want: "example"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			l := NewLocal(strings.NewReader(tc.input), &out, t.TempDir())

			got, err := l.Market(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
			if !strings.Contains(out.String(), "> ") {
				t.Errorf("expected a prompt, got %q", out.String())
			}
		})
	}
}

func TestLocalMarketCancelled(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	defer w.Close()

	l := NewLocal(r, io.Discard, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Market(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLocalCookies(t *testing.T) {
	t.Parallel()

	t.Run("reads cookies after the prompt", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		var out bytes.Buffer
		l := NewLocal(strings.NewReader("\n"), &out, dir)

		path := l.CookiesPath("example")
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(`{"session":"abc"}`), 0600); err != nil {
			t.Fatal(err)
		}

		got, err := l.Cookies(context.Background(), "example")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got["session"] != "abc" {
			t.Errorf("expected session cookie, got %v", got)
		}
		if !strings.Contains(out.String(), "Market example needs authentication") {
			t.Errorf("unexpected prompt: %q", out.String())
		}
	})

	t.Run("missing file is created empty", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		l := NewLocal(strings.NewReader("\n"), io.Discard, dir)

		got, err := l.Cookies(context.Background(), "fresh")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no cookies, got %v", got)
		}
		if _, err := os.Stat(filepath.Join(dir, "markets", "fresh", CookiesFile)); err != nil {
			t.Errorf("expected cookies file to be created: %v", err)
		}
	})

	t.Run("skip returns no cookies", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		l := NewLocal(strings.NewReader("skip\n"), io.Discard, dir)
		path := l.CookiesPath("example")
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(`{"session":"abc"}`), 0600); err != nil {
			t.Fatal(err)
		}

		got, err := l.Cookies(context.Background(), "example")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no cookies, got %v", got)
		}
	})
}

// TestLocalCookiesSharedPrompt starts several callers while the operator has
// not answered yet. They all share the one prompt.
func TestLocalCookiesSharedPrompt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r, w := io.Pipe()
	out := &lockedBuffer{}
	l := NewLocal(r, out, dir)

	path := l.CookiesPath("example")
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"session":"abc"}`), 0600); err != nil {
		t.Fatal(err)
	}

	const callers = 4
	var wg sync.WaitGroup
	results := make([]map[string]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := l.Cookies(context.Background(), "example")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = got
		}(i)
	}

	// Wait until the prompt is printed, then give the other callers time to join it.
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "needs authentication") {
		if time.Now().After(deadline) {
			t.Fatal("prompt never printed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := w.Write([]byte("\n")); err != nil {
		t.Fatal(err)
	}
	wg.Wait()
	_ = w.Close()

	if n := strings.Count(out.String(), "needs authentication"); n != 1 {
		t.Errorf("expected one prompt, got %d", n)
	}
	for i, got := range results {
		if got["session"] != "abc" {
			t.Errorf("caller %d: expected shared cookies, got %v", i, got)
		}
	}
}

func TestReadCookiesFile(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		content string
		want    map[string]string
		wantErr bool
	}{
		{name: "object", content: `{"a":"1","b":"2"}`, want: map[string]string{"a": "1", "b": "2"}},
		{name: "browser export", content: `[{"name":"a","value":"1","domain":"x.onion"},{"name":"","value":"x"}]`, want: map[string]string{"a": "1"}},
		{name: "empty object", content: `{}`, want: map[string]string{}},
		{name: "invalid", content: `"nope"`, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), CookiesFile)
			if err := os.WriteFile(path, []byte(tc.content), 0600); err != nil {
				t.Fatal(err)
			}

			got, err := ReadCookiesFile(path)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidCookies) {
					t.Errorf("expected ErrInvalidCookies, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("cookie %s: expected %q, got %q", k, v, got[k])
				}
			}
		})
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
