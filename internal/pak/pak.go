// Package pak holds the content manifest of one revision and the small
// vocabulary shared by every stage of the pipeline: branded path strings,
// path mappings, change events, content hashing and object keys.
//
// A Pak is the unit of transfer between the build side and the serve side.
// During a build it is owned by exactly one goroutine; afterwards it is
// treated as immutable.
package pak

import (
	"sort"
	"time"
)

// Input is an immutable snapshot of one source file.
type Input struct {
	Path        InputPath   `msgpack:"path" json:"path"`
	Hash        ContentHash `msgpack:"hash" json:"hash"`
	MTime       time.Time   `msgpack:"mtime" json:"mtime"`
	Size        int64       `msgpack:"size" json:"size"`
	ContentType string      `msgpack:"content_type" json:"content_type"`
}

// Page is the raw markup of one article. Deps is nil until the indexer has
// parsed the markup once; after that it lists every other input the rendered
// output depends on.
type Page struct {
	Hash   ContentHash `msgpack:"hash"`
	Path   InputPath   `msgpack:"path"`
	Markup string      `msgpack:"markup"`
	Deps   []InputPath `msgpack:"deps"`
}

// Template is the source of one layout or shortcode template.
type Template struct {
	Hash   ContentHash `msgpack:"hash"`
	Path   InputPath   `msgpack:"path"`
	Source string      `msgpack:"source"`
}

// MediaKind is the broad category of a media input.
type MediaKind string

const (
	MediaBitmap  MediaKind = "bitmap"
	MediaVideo   MediaKind = "video"
	MediaAudio   MediaKind = "audio"
	MediaDiagram MediaKind = "diagram"
)

// MediaProps are the probed properties of one media input.
type MediaProps struct {
	Kind   MediaKind `msgpack:"kind"`
	Width  uint32    `msgpack:"width"`
	Height uint32    `msgpack:"height"`
	// Density is the pixel density the source was authored at (2 for foo@2x.png).
	Density    uint32  `msgpack:"density"`
	Codec      string  `msgpack:"codec"`
	Container  string  `msgpack:"container,omitempty"`
	AudioCodec string  `msgpack:"audio_codec,omitempty"`
	Duration   float64 `msgpack:"duration,omitempty"`
}

// RevisionConfig is read from a _config.yaml at a mapping root.
type RevisionConfig struct {
	Title   string `msgpack:"title" yaml:"title"`
	BaseURL string `msgpack:"base_url" yaml:"base_url"`
	Layout  string `msgpack:"layout" yaml:"layout"`
	// Source is the config file the values came from, empty for defaults.
	Source InputPath `msgpack:"source" yaml:"-"`
}

// Pak is the serializable content manifest of one revision.
type Pak struct {
	ID         RevisionID               `msgpack:"id"`
	Inputs     map[InputPath]Input      `msgpack:"inputs"`
	Pages      map[InputPath]Page       `msgpack:"pages"`
	Templates  map[InputPath]Template   `msgpack:"templates"`
	MediaProps map[InputPath]MediaProps `msgpack:"media_props"`
	Fonts      FontCollection           `msgpack:"fonts"`
	// Config is the effective revision config, picked from Configs by
	// ResolveConfig.
	Config RevisionConfig `msgpack:"config"`
	// Configs holds every mapping-root config file by path.
	Configs map[InputPath]RevisionConfig `msgpack:"configs"`
}

// New creates an empty Pak with the given id.
func New(id RevisionID) *Pak {
	return &Pak{
		ID:         id,
		Inputs:     make(map[InputPath]Input),
		Pages:      make(map[InputPath]Page),
		Templates:  make(map[InputPath]Template),
		MediaProps: make(map[InputPath]MediaProps),
		Configs:    make(map[InputPath]RevisionConfig),
	}
}

// Clone returns a deep copy of p under a new id. Page deps and font bytes are
// copied so the clone can be mutated without touching p.
func (p *Pak) Clone(id RevisionID) *Pak {
	c := New(id)
	for k, v := range p.Inputs {
		c.Inputs[k] = v
	}
	for k, v := range p.Pages {
		if v.Deps != nil {
			v.Deps = append([]InputPath(nil), v.Deps...)
		}
		c.Pages[k] = v
	}
	for k, v := range p.Templates {
		c.Templates[k] = v
	}
	for k, v := range p.MediaProps {
		c.MediaProps[k] = v
	}
	c.Fonts = p.Fonts.clone()
	for k, v := range p.Configs {
		c.Configs[k] = v
	}
	c.Config = p.Config

	return c
}

// RemovePrefix drops every entry whose path lies under prefix and returns the
// number of inputs removed. Removing a directory path removes its whole subtree.
func (p *Pak) RemovePrefix(prefix InputPath) int {
	removed := 0
	for k := range p.Inputs {
		if k.HasPrefix(prefix) {
			delete(p.Inputs, k)
			removed++
		}
	}
	for k := range p.Pages {
		if k.HasPrefix(prefix) {
			delete(p.Pages, k)
		}
	}
	for k := range p.Templates {
		if k.HasPrefix(prefix) {
			delete(p.Templates, k)
		}
	}
	for k := range p.MediaProps {
		if k.HasPrefix(prefix) {
			delete(p.MediaProps, k)
		}
	}
	p.Fonts.removePrefix(prefix)
	for k := range p.Configs {
		if k.HasPrefix(prefix) {
			delete(p.Configs, k)
		}
	}
	if !p.Config.Source.IsEmpty() && p.Config.Source.HasPrefix(prefix) {
		p.Config = RevisionConfig{}
	}

	return removed
}

// SetConfig records the config read from cfg.Source. It takes effect on the
// next ResolveConfig.
func (p *Pak) SetConfig(cfg RevisionConfig) {
	if p.Configs == nil {
		p.Configs = make(map[InputPath]RevisionConfig)
	}
	p.Configs[cfg.Source] = cfg
}

// ResolveConfig makes the config of the first mapping that has one the
// effective Config, or resets it when no mapping root has a config file.
func (p *Pak) ResolveConfig(mappings PathMappings) {
	for _, path := range mappings.ConfigPaths() {
		if cfg, ok := p.Configs[path]; ok {
			p.Config = cfg
			return
		}
	}
	p.Config = RevisionConfig{}
}

// SortedInputPaths returns every input path in lexical order.
func (p *Pak) SortedInputPaths() []InputPath {
	return sortedKeys(p.Inputs)
}

// SortedPagePaths returns every page path in lexical order.
func (p *Pak) SortedPagePaths() []InputPath {
	return sortedKeys(p.Pages)
}

// SortedTemplatePaths returns every template path in lexical order.
func (p *Pak) SortedTemplatePaths() []InputPath {
	return sortedKeys(p.Templates)
}

func sortedKeys[V any](m map[InputPath]V) []InputPath {
	keys := make([]InputPath, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return keys
}
