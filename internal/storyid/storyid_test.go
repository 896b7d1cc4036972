package storyid

import (
	"errors"
	"testing"
)

func TestSanitize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Button", "button"},
		{"Components/Button", "components-button"},
		{"with  some   spaces", "with-some-spaces"},
		{"--leading and trailing", "leading-and-trailing"},
		{"Emoji 🎉 stays", "emoji-🎉-stays"},
		{"a_b.c(d)[e]{f}", "a-b-c-d-e-f"},
		{"Ünïcödé", "ünïcödé"},
		{"!!!", ""},
	}
	for _, tc := range cases {
		if got := Sanitize(tc.in); got != tc.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestToID(t *testing.T) {
	id, err := ToID("Components/Button", "With Text")
	if err != nil {
		t.Fatalf("ToID() error = %v", err)
	}
	if id != "components-button--with-text" {
		t.Fatalf("unexpected id: %q", id)
	}

	if _, err := ToID("***", "x"); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID for empty kind, got %v", err)
	}
	if _, err := ToID("x", " "); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("expected ErrEmptyID for empty name, got %v", err)
	}
}

func TestConstructURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://localhost:6006", "http://localhost:6006/iframe.html?id=button--primary"},
		{"http://localhost:6006/", "http://localhost:6006/iframe.html?id=button--primary"},
		{"https://example.com/storybook/", "https://example.com/storybook/iframe.html?id=button--primary"},
		{"http://localhost:6006/?theme=dark&x=1", "http://localhost:6006/iframe.html?id=button--primary&theme=dark&x=1"},
		{"file:///tmp/storybook-static", "file:///tmp/storybook-static/iframe.html?id=button--primary"},
	}
	for _, tc := range cases {
		got, err := ConstructURL(tc.base, "button--primary")
		if err != nil {
			t.Fatalf("ConstructURL(%q) error = %v", tc.base, err)
		}
		if got != tc.want {
			t.Errorf("ConstructURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}

	if _, err := ConstructURL("localhost", "a--b"); err == nil {
		t.Fatal("expected error for url without scheme")
	}
}

func TestKindURL(t *testing.T) {
	got, err := KindURL("http://localhost:6006", "Forms/Input", "Disabled")
	if err != nil {
		t.Fatalf("KindURL() error = %v", err)
	}
	if got != "http://localhost:6006/iframe.html?id=forms-input--disabled" {
		t.Fatalf("unexpected url: %q", got)
	}
}
