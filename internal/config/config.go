// Package config reads matrix convolver session files.
//
// A session file is JSON:
//
//	{
//	  "version": "1.0.0",
//	  "sampleRate": 48000,
//	  "blockLength": 512,
//	  "inputs": 2, "outputs": 2,
//	  "maxFilterLength": 8192,
//	  "transitionSamples": 4096,
//	  "filterSets": [
//	    {"name": "room", "sources": [{"file": "room.wav", "slots": "0:1"}]}
//	  ],
//	  "routings": [{"input": "0:1", "output": "0:1", "filter": "0:1"}]
//	}
//
// Index fields accept a number, an array or a string such as "0:3,8".
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/Masterminds/semver/v3"

	"matrixconv/dsp"
)

// Errors.
var (
	ErrInvalidConfig      = errors.New("config: invalid configuration")
	ErrUnsupportedVersion = errors.New("config: unsupported version")
	ErrInvalidSequence    = errors.New("config: invalid sequence")
	ErrSequenceMismatch   = errors.New("config: non-scalar sequences differ in length")
)

// Defaults applied to absent fields.
const (
	DefaultVersion         = "1.0.0"
	DefaultSampleRate      = 48000
	DefaultBlockLength     = 512
	DefaultMaxFilterLength = 8192
)

// supportedVersions is the range of session file versions this package reads.
const supportedVersions = "^1.0.0"

// Config is a parsed session file.
type Config struct {
	Version           string            `json:"version"`
	SampleRate        int               `json:"sampleRate"`
	BlockLength       int               `json:"blockLength"`
	Inputs            int               `json:"inputs"`
	Outputs           int               `json:"outputs"`
	MaxFilterLength   int               `json:"maxFilterLength"`
	MaxFilters        int               `json:"maxFilters"`
	MaxRoutings       int               `json:"maxRoutings"`
	TransitionSamples int               `json:"transitionSamples"`
	Alignment         int               `json:"alignment"`
	FFTImplementation string            `json:"fftImplementation"`
	FilterSets        []FilterSetConfig `json:"filterSets"`
	InitialFilterSet  string            `json:"initialFilterSet"`
	Routings          []RoutingSpec     `json:"routings"`

	// BaseDir resolves relative source paths. Load sets it to the
	// directory of the session file.
	BaseDir string `json:"-"`
}

// FilterSetConfig is a named group of filters that is loaded into the
// filter slots together.
type FilterSetConfig struct {
	Name    string         `json:"name"`
	Sources []SourceConfig `json:"sources"`
}

// SourceConfig loads channels of one file into filter slots.
type SourceConfig struct {
	// File is an audio file or an .irlib library.
	File string `json:"file"`
	// IR names the library entry when File is an .irlib.
	IR string `json:"ir,omitempty"`
	// Channels selects file channels. Absent means 0..len(Slots)-1.
	Channels IndexSequence `json:"channels,omitempty"`
	Slots    IndexSequence `json:"slots"`
	// Gain is linear. Absent means 1.
	Gain      *float64 `json:"gain,omitempty"`
	Normalize bool     `json:"normalize,omitempty"`
}

// GainValue returns the configured gain or 1.
func (s SourceConfig) GainValue() float64 {
	if s.Gain == nil {
		return 1
	}

	return *s.Gain
}

// ChannelList returns the channels mapped onto Slots.
func (s SourceConfig) ChannelList() []int {
	if len(s.Channels) > 0 {
		return s.Channels
	}

	channels := make([]int, len(s.Slots))
	for i := range channels {
		channels[i] = i
	}

	return channels
}

// Load reads and validates the session file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := parse(f, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse reads and validates a session file from r. Relative paths resolve
// against the working directory.
func Parse(r io.Reader) (*Config, error) {
	return parse(r, "")
}

func parse(r io.Reader, baseDir string) (*Config, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg.BaseDir = baseDir
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = DefaultVersion
	}

	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}

	if c.BlockLength == 0 {
		c.BlockLength = DefaultBlockLength
	}

	if c.MaxFilterLength == 0 {
		c.MaxFilterLength = DefaultMaxFilterLength
	}

	if c.MaxFilters == 0 {
		c.MaxFilters = 1

		for _, set := range c.FilterSets {
			for _, src := range set.Sources {
				for _, slot := range src.Slots {
					c.MaxFilters = max(c.MaxFilters, slot+1)
				}
			}
		}
	}

	if c.MaxRoutings == 0 {
		c.MaxRoutings = c.Inputs * c.Outputs
	}

	if c.InitialFilterSet == "" && len(c.FilterSets) > 0 {
		c.InitialFilterSet = c.FilterSets[0].Name
	}
}

// Validate checks the configuration. It is called by Load and Parse.
func (c *Config) Validate() error {
	if err := checkVersion(c.Version); err != nil {
		return err
	}

	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	}

	if err := c.ConvolverConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if _, err := dsp.NewTransform(c.FFTImplementation, 2*c.BlockLength); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	names := make(map[string]bool, len(c.FilterSets))

	for _, set := range c.FilterSets {
		if set.Name == "" {
			return fmt.Errorf("%w: filter set without name", ErrInvalidConfig)
		}

		if names[set.Name] {
			return fmt.Errorf("%w: duplicate filter set %q", ErrInvalidConfig, set.Name)
		}

		names[set.Name] = true

		if err := c.validateSet(set); err != nil {
			return err
		}
	}

	if c.InitialFilterSet != "" && !names[c.InitialFilterSet] {
		return fmt.Errorf("%w: unknown initial filter set %q", ErrInvalidConfig, c.InitialFilterSet)
	}

	if _, err := c.RoutingEntries(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateSet(set FilterSetConfig) error {
	used := make(map[int]bool)

	for i, src := range set.Sources {
		if src.File == "" {
			return fmt.Errorf("%w: set %q source %d has no file", ErrInvalidConfig, set.Name, i)
		}

		if len(src.Slots) == 0 {
			return fmt.Errorf("%w: set %q source %d has no slots", ErrInvalidConfig, set.Name, i)
		}

		if len(src.Channels) > 0 && len(src.Channels) != len(src.Slots) {
			return fmt.Errorf("%w: set %q source %d maps %d channels to %d slots",
				ErrSequenceMismatch, set.Name, i, len(src.Channels), len(src.Slots))
		}

		for _, slot := range src.Slots {
			if slot >= c.MaxFilters {
				return fmt.Errorf("%w: set %q slot %d exceeds %d filters", ErrInvalidConfig, set.Name, slot, c.MaxFilters)
			}

			if used[slot] {
				return fmt.Errorf("%w: set %q assigns slot %d twice", ErrInvalidConfig, set.Name, slot)
			}

			used[slot] = true
		}
	}

	return nil
}

func checkVersion(v string) error {
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrUnsupportedVersion, v, err)
	}

	constraint, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return err
	}

	if !constraint.Check(version) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, version, supportedVersions)
	}

	return nil
}

// ConvolverConfig returns the engine parameters.
func (c *Config) ConvolverConfig() dsp.Config {
	return dsp.Config{
		NumberOfInputs:    c.Inputs,
		NumberOfOutputs:   c.Outputs,
		BlockLength:       c.BlockLength,
		MaxFilterLength:   c.MaxFilterLength,
		MaxRoutingPoints:  c.MaxRoutings,
		MaxFilterEntries:  c.MaxFilters,
		TransitionSamples: c.TransitionSamples,
		Alignment:         c.Alignment,
		Transform:         c.FFTImplementation,
	}
}

// RoutingEntries expands the routings and checks them against the
// dimensions and the routing capacity.
func (c *Config) RoutingEntries() ([]dsp.RoutingEntry, error) {
	entries, err := ExpandRoutings(c.Routings)
	if err != nil {
		return nil, err
	}

	if len(entries) > c.MaxRoutings {
		return nil, fmt.Errorf("%w: %d routings exceed capacity %d", ErrInvalidConfig, len(entries), c.MaxRoutings)
	}

	for _, e := range entries {
		if e.Input >= c.Inputs || e.Output >= c.Outputs || e.Filter >= c.MaxFilters {
			return nil, fmt.Errorf("%w: routing %+v outside %d inputs, %d outputs, %d filters",
				ErrInvalidConfig, e, c.Inputs, c.Outputs, c.MaxFilters)
		}
	}

	return entries, nil
}

// FilterSet returns the named set.
func (c *Config) FilterSet(name string) (FilterSetConfig, bool) {
	i := slices.IndexFunc(c.FilterSets, func(s FilterSetConfig) bool { return s.Name == name })
	if i < 0 {
		return FilterSetConfig{}, false
	}

	return c.FilterSets[i], true
}

// ResolvePath resolves a source path against BaseDir.
func (c *Config) ResolvePath(path string) string {
	if filepath.IsAbs(path) || c.BaseDir == "" {
		return path
	}

	return filepath.Join(c.BaseDir, path)
}
