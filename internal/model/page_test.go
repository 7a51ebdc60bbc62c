package model

import (
	"regexp"
	"sync"
	"testing"
)

// TestContentKey tests the content key derivation.
func TestContentKey(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		url      string
		expected string
	}{
		{
			name:     "path separators are replaced",
			url:      "http://example.onion/item/42",
			expected: "http___example.onion_item_42",
		},
		{
			name:     "query characters are replaced",
			url:      "/listing?id=7&page=2",
			expected: "_listing_id_7_page_2",
		},
		{
			name:     "spaces newlines and dots are kept",
			url:      "a b\nc.d",
			expected: "a b\nc.d",
		},
		{
			name:     "empty url yields empty key",
			url:      "",
			expected: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ContentKey(tc.url)
			if got != tc.expected {
				t.Errorf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

// TestPageContentKeyIdempotent checks that the key is stable and only uses allowed characters.
func TestPageContentKeyIdempotent(t *testing.T) {
	t.Parallel()

	allowed := regexp.MustCompile(`^[a-zA-Z0-9 \n._]*$`)
	urls := []string{
		"http://abc.onion/c/1?page=3#frag",
		"/vendor/ü/ñ",
		"~!@#$%^&*()+=[]{}|;:'\",<>/?",
		"plain.text",
	}

	for _, u := range urls {
		page := NewPage(u, nil)
		first := page.ContentKey()
		second := page.ContentKey()

		if first != second {
			t.Errorf("content key not idempotent for %q: %q != %q", u, first, second)
		}
		if ContentKey(first) != first {
			t.Errorf("content key of content key changed for %q", u)
		}
		if !allowed.MatchString(first) {
			t.Errorf("content key %q contains disallowed characters", first)
		}
	}
}

// TestPageContentKeyConcurrent checks the cached key under concurrent readers.
func TestPageContentKeyConcurrent(t *testing.T) {
	t.Parallel()

	page := NewPage("http://example.onion/a/b", nil)

	var wg sync.WaitGroup
	keys := make([]string, 16)
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i] = page.ContentKey()
		}(i)
	}
	wg.Wait()

	for _, k := range keys {
		if k != "http___example.onion_a_b" {
			t.Errorf("unexpected key %q", k)
		}
	}
}

// TestPageContentLifecycle tests SetContent and Release.
func TestPageContentLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("set content marks page crawled and hashes body", func(t *testing.T) {
		t.Parallel()

		page := NewPage("/x", nil)
		page.SetContent(200, []byte("Hello, World!"))

		if !page.Crawled() {
			t.Error("expected page to be crawled")
		}
		if page.StatusCode != 200 {
			t.Errorf("expected status 200, got %d", page.StatusCode)
		}
		expected := "dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f"
		if page.Hash != expected {
			t.Errorf("expected hash %q, got %q", expected, page.Hash)
		}
	})

	t.Run("release drops content but keeps crawled flag", func(t *testing.T) {
		t.Parallel()

		page := NewPage("/x", nil)
		page.SetContent(200, []byte("body"))
		page.Release()
		page.Release()

		if page.Content() != nil {
			t.Error("expected content to be released")
		}
		if !page.Crawled() {
			t.Error("expected crawled flag to survive release")
		}
	})

	t.Run("empty body produces empty hash", func(t *testing.T) {
		t.Parallel()

		page := NewPage("/x", nil)
		page.SetContent(204, nil)

		if page.Hash != "" {
			t.Errorf("expected empty hash, got %q", page.Hash)
		}
	})
}

// TestNewPageCopiesMeta ensures callers cannot mutate a page's metadata through the input map.
func TestNewPageCopiesMeta(t *testing.T) {
	t.Parallel()

	meta := map[string]any{"category": "drugs"}
	page := NewPage("/x", meta)
	meta["category"] = "changed"

	if page.Category() != "drugs" {
		t.Errorf("expected category drugs, got %q", page.Category())
	}
}
