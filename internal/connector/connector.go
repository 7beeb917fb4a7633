// Package connector adapts files and databases to the read/write contract
// used by the execution engine.
package connector

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stanstork/datafactory/internal/apperrors"
	"github.com/stanstork/datafactory/internal/models"
)

// Dataset is a table of rows sharing one column list.
type Dataset struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Limit returns at most n rows of d. A non-positive n keeps every row.
func (d *Dataset) Limit(n int) *Dataset {
	if d == nil || n <= 0 || len(d.Rows) <= n {
		return d
	}
	return &Dataset{Columns: d.Columns, Rows: d.Rows[:n]}
}

type Source interface {
	// Read returns the rows selected by query. File sources ignore query.
	Read(ctx context.Context, query string) (*Dataset, error)
	Close() error
}

type Sink interface {
	// Write replaces destination with the rows of ds and returns the number written.
	Write(ctx context.Context, ds *Dataset, destination string) (int64, error)
	Close() error
}

// Browser is implemented by sinks whose written objects can be listed and sampled.
type Browser interface {
	Objects(ctx context.Context) ([]string, error)
	Preview(ctx context.Context, object string, limit int) (*Dataset, error)
}

type (
	SourceFactory func(cfg models.ConnectorConfig) (Source, error)
	SinkFactory   func(cfg models.ConnectorConfig) (Sink, error)
)

// Descriptor documents a connector type for the catalog endpoint.
type Descriptor struct {
	Type          string                 `json:"type"`
	Description   string                 `json:"description"`
	Source        bool                   `json:"source"`
	Sink          bool                   `json:"sink"`
	SourceExample map[string]interface{} `json:"source_example,omitempty"`
	SinkExample   map[string]interface{} `json:"sink_example,omitempty"`
}

// Registry maps connector type tags to constructors.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceFactory
	sinks   map[string]SinkFactory
	docs    map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]SourceFactory),
		sinks:   make(map[string]SinkFactory),
		docs:    make(map[string]Descriptor),
	}
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func (r *Registry) describe(tag string, update func(*Descriptor)) {
	d, ok := r.docs[tag]
	if !ok {
		d = Descriptor{Type: tag}
	}
	update(&d)
	r.docs[tag] = d
}

func (r *Registry) RegisterSource(tag, description string, example map[string]interface{}, f SourceFactory) {
	tag = normalizeTag(tag)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[tag] = f
	r.describe(tag, func(d *Descriptor) {
		d.Source = true
		d.SourceExample = example
		if d.Description == "" {
			d.Description = description
		}
	})
}

func (r *Registry) RegisterSink(tag, description string, example map[string]interface{}, f SinkFactory) {
	tag = normalizeTag(tag)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[tag] = f
	r.describe(tag, func(d *Descriptor) {
		d.Sink = true
		d.SinkExample = example
		if d.Description == "" {
			d.Description = description
		}
	})
}

// Source builds the source registered under tag.
func (r *Registry) Source(tag string, cfg models.ConnectorConfig) (Source, error) {
	r.mu.RLock()
	f, ok := r.sources[normalizeTag(tag)]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.Configurationf("unknown source type %q", tag)
	}
	return f(cfg)
}

// Sink builds the sink registered under tag.
func (r *Registry) Sink(tag string, cfg models.ConnectorConfig) (Sink, error) {
	r.mu.RLock()
	f, ok := r.sinks[normalizeTag(tag)]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.Configurationf("unknown sink type %q", tag)
	}
	return f(cfg)
}

// Catalog lists the registered connector types ordered by tag.
func (r *Registry) Catalog() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// decodeConfig maps a connector config onto a typed struct. Numbers given
// as strings and vice versa are accepted.
func decodeConfig(kind string, cfg models.ConnectorConfig, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]interface{}(cfg)); err != nil {
		return apperrors.Wrap(apperrors.KindConfiguration, err, "invalid "+kind+" config")
	}
	return nil
}

func required(kind string, fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(fields[name]) == "" {
			return apperrors.Configurationf("%s config requires %q", kind, name)
		}
	}
	return nil
}
