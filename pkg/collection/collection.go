package collection

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reserved channel names. Everything else must name a collection.
const (
	ChannelAuto         = "auto"
	ChannelLearn        = "learn"
	ChannelFunctionCall = "function-call"
	ChannelAll          = "all"
)

var ErrUnknownChannel = errors.New("unknown channel")

// Collection is one independently indexed knowledge partition.
type Collection struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	BaseURL     string `yaml:"base_url" json:"base_url,omitempty"`
	Format      string `yaml:"format" json:"format,omitempty"`
}

type manifest struct {
	Collections []Collection `yaml:"collections"`
}

// LoadManifest reads the collections list from a YAML file.
func LoadManifest(path string) ([]Collection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(raw)
}

func ParseManifest(raw []byte) ([]Collection, error) {
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m.Collections, nil
}

type SelectionKind int

const (
	SelectionDefault SelectionKind = iota
	SelectionLearn
	SelectionCustom
	SelectionNamed
)

func (k SelectionKind) String() string {
	switch k {
	case SelectionLearn:
		return "learn"
	case SelectionCustom:
		return "function-call"
	case SelectionNamed:
		return "named"
	default:
		return "default"
	}
}

// Selection is the resolved channel of one request. Collection is set
// only for SelectionNamed.
type Selection struct {
	Kind       SelectionKind
	Collection *Collection
}

// Registry is built once at startup and shared read-only.
type Registry struct {
	collections []Collection
	index       map[string]int
	resources   []map[string]any
	defaultID   string
}

// NewRegistry keeps the given order; it is the merge tie-break order.
// defaultID names the collection that behaves like "auto" when selected.
func NewRegistry(collections []Collection, resources []map[string]any, defaultID string) (*Registry, error) {
	r := &Registry{
		collections: make([]Collection, 0, len(collections)),
		index:       make(map[string]int, len(collections)*2),
		resources:   resources,
		defaultID:   defaultID,
	}

	for _, c := range collections {
		if c.ID == "" {
			return nil, fmt.Errorf("collection %q has no id", c.Name)
		}
		if isReserved(c.ID) {
			return nil, fmt.Errorf("collection id %q is reserved", c.ID)
		}
		if _, dup := r.index[c.ID]; dup {
			return nil, fmt.Errorf("duplicate collection id %q", c.ID)
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		r.collections = append(r.collections, c)
		pos := len(r.collections) - 1
		r.index[c.ID] = pos
		if _, taken := r.index[c.Name]; !taken {
			r.index[c.Name] = pos
		}
	}

	if r.resources == nil {
		r.resources = []map[string]any{}
	}
	return r, nil
}

func isReserved(id string) bool {
	switch id {
	case ChannelAuto, ChannelLearn, ChannelFunctionCall, ChannelAll:
		return true
	}
	return false
}

// Collections returns a copy in registry order.
func (r *Registry) Collections() []Collection {
	out := make([]Collection, len(r.collections))
	copy(out, r.collections)
	return out
}

// Get looks a collection up by id or display name.
func (r *Registry) Get(ref string) (Collection, bool) {
	pos, ok := r.index[ref]
	if !ok {
		return Collection{}, false
	}
	return r.collections[pos], true
}

func (r *Registry) Resources() []map[string]any {
	return r.resources
}

// Channels lists every selectable channel name.
func (r *Registry) Channels() []string {
	out := make([]string, 0, len(r.collections)+2)
	for _, c := range r.collections {
		out = append(out, c.Name)
	}
	return append(out, ChannelLearn, ChannelFunctionCall)
}

// ResolveChannel maps the channel string of a chat request to a Selection.
func (r *Registry) ResolveChannel(channel string) (Selection, error) {
	switch channel {
	case "", ChannelAuto:
		return Selection{Kind: SelectionDefault}, nil
	case ChannelLearn:
		return Selection{Kind: SelectionLearn}, nil
	case ChannelFunctionCall:
		return Selection{Kind: SelectionCustom}, nil
	}

	c, ok := r.Get(channel)
	if !ok {
		return Selection{}, fmt.Errorf("%w %q, available channels: %s", ErrUnknownChannel, channel, strings.Join(r.Channels(), ", "))
	}
	if c.ID == r.defaultID {
		return Selection{Kind: SelectionDefault}, nil
	}
	return Selection{Kind: SelectionNamed, Collection: &c}, nil
}
