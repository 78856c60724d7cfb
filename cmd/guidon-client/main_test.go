package main

import (
	"testing"

	"guidon/internal/interaction"
)

func TestBuildRequest(t *testing.T) {
	req, err := buildRequest([]string{"draw", "x=10", "y=20", "color=red", "ratio=0.5", "loud=true"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Command != "draw" || len(req.Options) != 5 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if x, ok := req.Options.Int("x"); !ok || x != 10 {
		t.Fatalf("x = %d %v", x, ok)
	}
	if c, ok := req.Options.Text("color"); !ok || c != "red" {
		t.Fatalf("color = %q", c)
	}
	if o, _ := req.Options.Get("ratio"); o.Kind != interaction.KindNumber {
		t.Fatalf("ratio kind = %s", o.Kind)
	}
	if o, _ := req.Options.Get("loud"); o.Kind != interaction.KindBoolean {
		t.Fatalf("loud kind = %s", o.Kind)
	}
}

func TestBuildRequestRejectsBareWord(t *testing.T) {
	if _, err := buildRequest([]string{"draw", "x"}); err == nil {
		t.Fatal("expected error")
	}
}
