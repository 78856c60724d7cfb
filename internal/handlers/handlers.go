// Package handlers holds the business logic behind every registry command.
// A handler has the same signature whether it runs inline on the fast path
// or inside a worker.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"guidon/internal/canvas"
	"guidon/internal/interaction"
	"guidon/internal/registry"
	"guidon/internal/storage"
)

// ErrBadInput is returned when options are well typed but semantically wrong.
var ErrBadInput = errors.New("bad input")

type Func func(ctx context.Context, inv interaction.Invocation) (any, error)

type Deps struct {
	Registry *registry.Registry
	Board    *canvas.Board
	Recorder storage.Recorder
	Now      func() time.Time
}

// Set maps command names to handlers.
type Set struct {
	funcs map[string]Func
}

func NewSet() *Set { return &Set{funcs: make(map[string]Func)} }

func (s *Set) Register(command string, f Func) { s.funcs[command] = f }

func (s *Set) Lookup(command string) (Func, bool) {
	f, ok := s.funcs[command]
	return f, ok
}

func (s *Set) Has(command string) bool {
	_, ok := s.funcs[command]
	return ok
}

func (s *Set) Names() []string {
	out := make([]string, 0, len(s.funcs))
	for name := range s.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Default wires the built-in commands.
func Default(d Deps) *Set {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Recorder == nil {
		d.Recorder = storage.Discard{}
	}
	s := NewSet()
	s.Register("ping", ping(d))
	s.Register("hello", hello)
	s.Register("help", help(d))
	s.Register("draw", draw(d))
	s.Register("snapshot", snapshot(d))
	s.Register("pixel_info", pixelInfo(d))
	s.Register("canvas_state", canvasState(d))
	s.Register("colors", colors)
	s.Register("stats", stats(d))
	return s
}

// Invoke runs f and encodes its result. A panicking handler yields an error.
func Invoke(ctx context.Context, f Func, inv interaction.Invocation) (payload json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	v, err := f(ctx, inv)
	if err != nil {
		return nil, err
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	payload, err = json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return payload, nil
}

type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }
