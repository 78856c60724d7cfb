// Package registry is the single declarative table of commands. The
// dispatcher classifies requests with it and the worker bootstrap derives
// its topic subscriptions from it, so the two can never disagree.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"guidon/internal/interaction"
)

var (
	ErrUnknownCommand = errors.New("invalid command")
	ErrInvalidEntry   = errors.New("invalid registry entry")
)

type Mode string

const (
	Fast Mode = "fast"
	Slow Mode = "slow"
)

const (
	TopicArt  = "commands-art"
	TopicBase = "commands-base"
)

type OptionSpec struct {
	Name        string           `yaml:"name" json:"name"`
	Kind        interaction.Kind `yaml:"kind" json:"kind"`
	Description string           `yaml:"description" json:"description"`
	Required    bool             `yaml:"required" json:"required"`
}

type Entry struct {
	Command     string       `yaml:"command"`
	Mode        Mode         `yaml:"mode"`
	Topic       string       `yaml:"topic,omitempty"`
	Description string       `yaml:"description"`
	Options     []OptionSpec `yaml:"options,omitempty"`
	// Visible commands change shared state the client renders, so the
	// client applies them optimistically before confirmation.
	Visible bool `yaml:"visible,omitempty"`
}

// Decision is the classification of one command name.
type Decision struct {
	Mode  Mode
	Topic string
}

func (d Decision) Fast() bool { return d.Mode == Fast }

type Registry struct {
	entries map[string]Entry
	order   []string
}

// New builds a registry and validates every entry.
func New(entries []Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if err := validate(e); err != nil {
			return nil, err
		}
		if _, dup := r.entries[e.Command]; dup {
			return nil, fmt.Errorf("%w: duplicate command %q", ErrInvalidEntry, e.Command)
		}
		r.entries[e.Command] = e
		r.order = append(r.order, e.Command)
	}
	return r, nil
}

func validate(e Entry) error {
	if e.Command == "" {
		return fmt.Errorf("%w: empty command name", ErrInvalidEntry)
	}
	switch e.Mode {
	case Fast:
		if e.Topic != "" {
			return fmt.Errorf("%w: fast command %q must not name a topic", ErrInvalidEntry, e.Command)
		}
	case Slow:
		if e.Topic == "" {
			return fmt.Errorf("%w: slow command %q needs a topic", ErrInvalidEntry, e.Command)
		}
	default:
		return fmt.Errorf("%w: command %q has mode %q", ErrInvalidEntry, e.Command, e.Mode)
	}
	for _, o := range e.Options {
		if o.Name == "" || !o.Kind.Valid() {
			return fmt.Errorf("%w: command %q has a bad option %+v", ErrInvalidEntry, e.Command, o)
		}
	}
	return nil
}

// Load reads registry entries from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var doc struct {
		Commands []Entry `yaml:"commands"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return New(doc.Commands)
}

// Classify maps a command name to its dispatch decision.
func (r *Registry) Classify(command string) (Decision, error) {
	e, ok := r.entries[command]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
	return Decision{Mode: e.Mode, Topic: e.Topic}, nil
}

func (r *Registry) Lookup(command string) (Entry, bool) {
	e, ok := r.entries[command]
	return e, ok
}

// Entries returns the commands in registration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Topics returns the distinct topics of slow commands, sorted.
func (r *Registry) Topics() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.entries {
		if e.Mode == Slow && !seen[e.Topic] {
			seen[e.Topic] = true
			out = append(out, e.Topic)
		}
	}
	sort.Strings(out)
	return out
}

// Commands returns the commands that publish to topic.
func (r *Registry) Commands(topic string) []string {
	var out []string
	for _, name := range r.order {
		if e := r.entries[name]; e.Mode == Slow && e.Topic == topic {
			out = append(out, name)
		}
	}
	return out
}

// CheckOptions reports the first missing required option or kind mismatch.
func (e Entry) CheckOptions(opts interaction.Options) error {
	for _, spec := range e.Options {
		o, ok := opts.Get(spec.Name)
		if !ok {
			if spec.Required {
				return fmt.Errorf("missing required option %q", spec.Name)
			}
			continue
		}
		if o.Kind != spec.Kind {
			if spec.Kind == interaction.KindInteger {
				if _, ok := opts.Int(spec.Name); ok {
					continue
				}
			}
			return fmt.Errorf("option %q must be %s, got %s", spec.Name, spec.Kind, o.Kind)
		}
	}
	return nil
}

// Verify checks that every registered command has a handler and every
// handler belongs to a registered command.
func (r *Registry) Verify(has func(command string) bool, handled []string) error {
	var errs []error
	for _, name := range r.order {
		if !has(name) {
			errs = append(errs, fmt.Errorf("command %q is registered but has no handler", name))
		}
	}
	for _, name := range handled {
		if _, ok := r.entries[name]; !ok {
			errs = append(errs, fmt.Errorf("handler %q has no registry entry", name))
		}
	}
	return errors.Join(errs...)
}

type ChatOption struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        int    `json:"type"`
	Required    bool   `json:"required"`
}

type ChatCommand struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Type        int          `json:"type"`
	Options     []ChatOption `json:"options,omitempty"`
}

// ChatCommands renders the registry in the chat platform's command
// registration format.
func (r *Registry) ChatCommands() []ChatCommand {
	out := make([]ChatCommand, 0, len(r.order))
	for _, e := range r.Entries() {
		cmd := ChatCommand{Name: e.Command, Description: e.Description, Type: 1}
		for _, o := range e.Options {
			cmd.Options = append(cmd.Options, ChatOption{
				Name:        o.Name,
				Description: o.Description,
				Type:        o.Kind.ChatType(),
				Required:    o.Required,
			})
		}
		out = append(out, cmd)
	}
	return out
}
