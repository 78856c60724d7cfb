package handlers

import (
	"context"
	"encoding/base64"
	"fmt"

	"guidon/internal/analytics"
	"guidon/internal/canvas"
	"guidon/internal/interaction"
	"guidon/internal/registry"
)

func ping(d Deps) Func {
	return func(_ context.Context, _ interaction.Invocation) (any, error) {
		return map[string]any{"message": "Pong!", "ts": d.Now().UTC()}, nil
	}
}

func hello(_ context.Context, inv interaction.Invocation) (any, error) {
	name := inv.Caller.Name
	if name == "" {
		name = "World"
	}
	return map[string]string{"message": fmt.Sprintf("Hello, %s!", name)}, nil
}

type helpEntry struct {
	Command     string `json:"command"`
	Description string `json:"description"`
	Async       bool   `json:"async"`
}

func help(d Deps) Func {
	return func(_ context.Context, _ interaction.Invocation) (any, error) {
		var out []helpEntry
		for _, e := range d.Registry.Entries() {
			out = append(out, helpEntry{Command: e.Command, Description: e.Description, Async: e.Mode == registry.Slow})
		}
		return map[string]any{"commands": out}, nil
	}
}

func coords(inv interaction.Invocation) (int, int, error) {
	x, okX := inv.Options.Int("x")
	y, okY := inv.Options.Int("y")
	if !okX || !okY {
		return 0, 0, fmt.Errorf("%w: x and y are required integers", ErrBadInput)
	}
	return int(x), int(y), nil
}

type drawResult struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

func draw(d Deps) Func {
	return func(_ context.Context, inv interaction.Invocation) (any, error) {
		x, y, err := coords(inv)
		if err != nil {
			return nil, err
		}
		color, _ := inv.Options.Text("color")
		res, err := d.Board.Set(x, y, color, inv.Caller.ID, inv.Caller.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
		}
		return drawResult{X: x, Y: y, Color: res.Pixel.Color}, nil
	}
}

func snapshot(d Deps) Func {
	return func(_ context.Context, _ interaction.Invocation) (any, error) {
		img, err := d.Board.PNG(10)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"content_type": "image/png",
			"size":         d.Board.Size(),
			"image":        base64.StdEncoding.EncodeToString(img),
		}, nil
	}
}

func pixelInfo(d Deps) Func {
	return func(_ context.Context, inv interaction.Invocation) (any, error) {
		x, y, err := coords(inv)
		if err != nil {
			return nil, err
		}
		px, painted, err := d.Board.Get(x, y)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadInput, err)
		}
		return map[string]any{"pixel": px, "painted": painted}, nil
	}
}

func canvasState(d Deps) Func {
	return func(_ context.Context, _ interaction.Invocation) (any, error) {
		return d.Board.Snapshot(), nil
	}
}

func colors(_ context.Context, _ interaction.Invocation) (any, error) {
	return map[string]any{"colors": canvas.Palette(), "hex": "#RRGGBB"}, nil
}

func stats(d Deps) Func {
	return func(_ context.Context, inv interaction.Invocation) (any, error) {
		events, err := d.Recorder.LoadInteractions()
		if err != nil {
			return nil, fmt.Errorf("load interactions: %w", err)
		}
		today := analytics.AnalyzeDailyLogs(events, d.Now())
		return map[string]any{
			"user":  analytics.UserTotals(events, inv.Caller.ID),
			"today": map[string]int{"commands": today.TotalCommands, "users": today.UniqueUsers},
		}, nil
	}
}
