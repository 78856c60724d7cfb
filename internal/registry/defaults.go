package registry

import "guidon/internal/interaction"

var coordinateOptions = []OptionSpec{
	{Name: "x", Kind: interaction.KindInteger, Description: "X coordinate", Required: true},
	{Name: "y", Kind: interaction.KindInteger, Description: "Y coordinate", Required: true},
}

// DefaultEntries is the built-in command table.
func DefaultEntries() []Entry {
	return []Entry{
		{Command: "ping", Mode: Fast, Description: "Test bot latency"},
		{Command: "hello", Mode: Fast, Description: "Service greeting"},
		{Command: "help", Mode: Fast, Description: "Show available commands"},
		{
			Command:     "draw",
			Mode:        Slow,
			Topic:       TopicArt,
			Description: "Draw a pixel on the canvas",
			Visible:     true,
			Options: append(append([]OptionSpec{}, coordinateOptions...),
				OptionSpec{Name: "color", Kind: interaction.KindString, Description: "Color in hex format (e.g., #FF0000) or a color name", Required: true}),
		},
		{Command: "snapshot", Mode: Slow, Topic: TopicArt, Description: "Take a snapshot of the current canvas"},
		{Command: "pixel_info", Mode: Slow, Topic: TopicArt, Description: "Show who painted a pixel", Options: coordinateOptions},
		{Command: "canvas_state", Mode: Slow, Topic: TopicArt, Description: "Return every painted pixel"},
		{Command: "colors", Mode: Slow, Topic: TopicBase, Description: "List the named colors"},
		{Command: "stats", Mode: Slow, Topic: TopicBase, Description: "Show your drawing statistics"},
	}
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := New(DefaultEntries())
	if err != nil {
		panic("registry: built-in table is invalid: " + err.Error())
	}
	return r
}
