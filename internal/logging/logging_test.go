package logging

import "testing"

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewConsole(t *testing.T) {
	l, err := New("debug", "console")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if l == nil {
		t.Fatalf("nil logger")
	}
}

func TestSecretTruncates(t *testing.T) {
	f := Secret("session", "abcdefghijkl")
	if f.String != "abcdef..." {
		t.Fatalf("unexpected truncation: %q", f.String)
	}
	short := Secret("session", "abc")
	if short.String != "abc" {
		t.Fatalf("short values must stay intact: %q", short.String)
	}
}
