package devconfig

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Section is a flat set of string settings owned by one part of the daemon.
type Section map[string]string

// Config is the persisted configuration of one device instance.
//
// A Config is not safe for concurrent mutation. Holders that share a Config
// between goroutines (the lifecycle snapshot) treat it as immutable and hand
// out Clones.
type Config struct {
	Sections map[string]Section `json:"sections"`
}

// New returns an empty configuration.
func New() *Config {
	return &Config{Sections: make(map[string]Section)}
}

// Section returns a copy of the section with the given ID.
func (c *Config) Section(id string) (Section, bool) {
	if c == nil {
		return nil, false
	}
	s, ok := c.Sections[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(s), true
}

// SetSection replaces the section with the given ID.
// The values are copied; later changes to s do not affect the Config.
func (c *Config) SetSection(id string, s Section) {
	if c.Sections == nil {
		c.Sections = make(map[string]Section)
	}
	cp := maps.Clone(s)
	if cp == nil {
		cp = Section{}
	}
	c.Sections[id] = cp
}

// SectionIDs returns the section IDs in sorted order.
func (c *Config) SectionIDs() []string {
	if c == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(c.Sections))
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := &Config{Sections: make(map[string]Section, len(c.Sections))}
	for id, s := range c.Sections {
		cp := maps.Clone(s)
		if cp == nil {
			cp = Section{}
		}
		out.Sections[id] = cp
	}
	return out
}

// Validate checks that the configuration can be persisted.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: configuration is nil", ErrInvalidConfig)
	}
	for id, s := range c.Sections {
		if id == "" {
			return fmt.Errorf("%w: empty section ID", ErrInvalidConfig)
		}
		for key := range s {
			if key == "" {
				return fmt.Errorf("%w: section %q has an empty key", ErrInvalidConfig, id)
			}
		}
	}
	return nil
}

// Encode serialises the configuration as an indented JSON document.
func Encode(c *Config) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return data, nil
}

// Decode parses a stored JSON document. Any document that does not decode
// into a valid Config is reported as ErrCorrupt.
func Decode(data []byte) (*Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if c.Sections == nil {
		c.Sections = make(map[string]Section)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return &c, nil
}
