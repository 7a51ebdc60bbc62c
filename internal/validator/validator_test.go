package validator

import (
	"errors"
	"testing"

	"github.com/nao1215/marketcrawler/internal/extract"
	"github.com/nao1215/marketcrawler/internal/session"
)

func fetched(status int, body string) *session.Fetched {
	return &session.Fetched{URL: "http://example.onion/", StatusCode: status, Body: []byte(body)}
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		invalid int
		resp    session.Response
		want    bool
	}{
		{name: "200 is valid", invalid: 400, resp: fetched(200, ""), want: true},
		{name: "399 is valid", invalid: 400, resp: fetched(399, ""), want: true},
		{name: "400 is invalid", invalid: 400, resp: fetched(400, ""), want: false},
		{name: "503 is invalid", invalid: 400, resp: fetched(503, ""), want: false},
		{name: "missing status is invalid", invalid: 400, resp: fetched(0, ""), want: false},
		{name: "custom threshold", invalid: 300, resp: fetched(302, ""), want: false},
		{
			name:    "network error is invalid",
			invalid: 400,
			resp:    &session.NetworkError{URL: "x", Cause: errors.New("refused")},
			want:    false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			v := &StatusCode{Invalid: tc.invalid}
			if got := v.Valid(tc.resp); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestContent(t *testing.T) {
	t.Parallel()

	v := &Content{
		Invalid:  []extract.Descriptor{{Name: "login", Selector: "form#login"}},
		Required: []extract.Descriptor{{Name: "logout", Selector: "a.logout"}},
	}

	testCases := []struct {
		name string
		resp session.Response
		want bool
	}{
		{name: "logged in page", resp: fetched(200, `<a class="logout">bye</a>`), want: true},
		{name: "login form present", resp: fetched(200, `<a class="logout"></a><form id="login"></form>`), want: false},
		{name: "required element missing", resp: fetched(200, `<p>hello</p>`), want: false},
		{name: "network error", resp: &session.NetworkError{URL: "x"}, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := v.Valid(tc.resp); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestFromSections(t *testing.T) {
	t.Parallel()

	t.Run("builds validators per section", func(t *testing.T) {
		t.Parallel()

		set, err := FromSections(map[string]any{
			"all": map[string]any{
				"status": map[string]any{"invalid": 500},
				"content": map[string]any{
					"invalid": []any{map[string]any{"name": "ban", "selector": "div.banned"}},
				},
			},
			"item":   map[string]any{"status": nil, "captcha": map[string]any{}},
			"vendor": nil,
		}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if set.Len() != 3 {
			t.Fatalf("expected 3 validators, got %d", set.Len())
		}
		all := set["all"]
		if all[0].Kind() != KindContent || all[1].Kind() != KindStatus {
			t.Errorf("expected sorted kinds, got %v %v", all[0].Kind(), all[1].Kind())
		}
		if got := all[1].(*StatusCode).Invalid; got != 500 {
			t.Errorf("expected invalid 500, got %d", got)
		}
		if got := set["item"][0].(*StatusCode).Invalid; got != DefaultInvalidStatus {
			t.Errorf("expected default threshold, got %d", got)
		}
		if got := len(set["all"][0].(*Content).Invalid); got != 1 {
			t.Errorf("expected one forbidden descriptor, got %d", got)
		}
	})

	t.Run("non mapping section is malformed", func(t *testing.T) {
		t.Parallel()

		_, err := FromSections(map[string]any{"all": []any{"status"}}, nil)
		if !errors.Is(err, ErrMalformedValidators) {
			t.Errorf("expected ErrMalformedValidators, got %v", err)
		}
	})
}

func TestSet(t *testing.T) {
	t.Parallel()

	set := Set{
		"all":  {&StatusCode{Invalid: 400}},
		"item": {&Content{Required: []extract.Descriptor{{Name: "price", Selector: "span.price"}}}},
	}

	if set.Valid(fetched(200, "<p>no price</p>")) {
		t.Error("expected item section to reject page")
	}
	if !set.Valid(fetched(200, `<span class="price">1</span>`)) {
		t.Error("expected page to pass every section")
	}

	onlyAll := set.Only("all")
	if onlyAll.Len() != 1 || !onlyAll.Valid(fetched(200, "<p>no price</p>")) {
		t.Error("expected restricted set to ignore item section")
	}
	if !(Set{}).Valid(&session.NetworkError{}) {
		t.Error("expected empty set to accept anything")
	}
}
