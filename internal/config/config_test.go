package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"matrixconv/dsp"
)

const sessionJSON = `{
	"version": "1.2.0",
	"sampleRate": 44100,
	"blockLength": 256,
	"inputs": 2,
	"outputs": 3,
	"maxFilterLength": 4096,
	"transitionSamples": 1024,
	"fftImplementation": "godsp",
	"filterSets": [
		{"name": "near", "sources": [{"file": "near.wav", "slots": "0:1", "gain": 0.5}]},
		{"name": "far", "sources": [
			{"file": "far.irlib", "ir": "hall", "channels": [1, 0], "slots": [0, 1]},
			{"file": "/abs/sub.wav", "slots": 2, "normalize": true}
		]}
	],
	"initialFilterSet": "far",
	"routings": [
		{"input": "0:1", "output": "0:1", "filter": "0:1"},
		{"input": 0, "output": 2, "filter": 2, "gain": "0.5"}
	]
}`

func TestParseSession(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(strings.NewReader(sessionJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := dsp.Config{
		NumberOfInputs:    2,
		NumberOfOutputs:   3,
		BlockLength:       256,
		MaxFilterLength:   4096,
		MaxRoutingPoints:  6,
		MaxFilterEntries:  3,
		TransitionSamples: 1024,
		Transform:         "godsp",
	}
	if got := cfg.ConvolverConfig(); got != want {
		t.Errorf("ConvolverConfig = %+v, want %+v", got, want)
	}

	routings, err := cfg.RoutingEntries()
	if err != nil {
		t.Fatal(err)
	}

	wantRoutings := []dsp.RoutingEntry{
		{Input: 0, Output: 0, Filter: 0, Gain: 1},
		{Input: 1, Output: 1, Filter: 1, Gain: 1},
		{Input: 0, Output: 2, Filter: 2, Gain: 0.5},
	}
	if !slices.Equal(routings, wantRoutings) {
		t.Errorf("RoutingEntries = %+v, want %+v", routings, wantRoutings)
	}

	far, ok := cfg.FilterSet("far")
	if !ok || len(far.Sources) != 2 {
		t.Fatalf("FilterSet(far) = %+v, %v", far, ok)
	}

	if got := far.Sources[0].ChannelList(); !slices.Equal(got, []int{1, 0}) {
		t.Errorf("explicit channels = %v", got)
	}

	near, _ := cfg.FilterSet("near")
	if got := near.Sources[0].ChannelList(); !slices.Equal(got, []int{0, 1}) {
		t.Errorf("default channels = %v", got)
	}

	if near.Sources[0].GainValue() != 0.5 || far.Sources[1].GainValue() != 1 {
		t.Errorf("gains = %v, %v", near.Sources[0].GainValue(), far.Sources[1].GainValue())
	}

	if _, ok := cfg.FilterSet("missing"); ok {
		t.Error("FilterSet(missing) found")
	}
}

func TestParseDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(strings.NewReader(`{"inputs": 1, "outputs": 1}`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Version != DefaultVersion || cfg.SampleRate != DefaultSampleRate || cfg.BlockLength != DefaultBlockLength ||
		cfg.MaxFilterLength != DefaultMaxFilterLength || cfg.MaxFilters != 1 || cfg.MaxRoutings != 1 {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		json   string
		target error
	}{
		{"syntax", `{"inputs": `, ErrInvalidConfig},
		{"unknown field", `{"inputs": 1, "outputs": 1, "period": 64}`, ErrInvalidConfig},
		{"major version", `{"version": "2.0.0", "inputs": 1, "outputs": 1}`, ErrUnsupportedVersion},
		{"bad version", `{"version": "one", "inputs": 1, "outputs": 1}`, ErrUnsupportedVersion},
		{"no inputs", `{"outputs": 1}`, ErrInvalidConfig},
		{"block length", `{"inputs": 1, "outputs": 1, "blockLength": 100}`, ErrInvalidConfig},
		{"fft", `{"inputs": 1, "outputs": 1, "fftImplementation": "nope"}`, ErrInvalidConfig},
		{"routing out of range", `{"inputs": 1, "outputs": 1, "routings": [{"input": 1, "output": 0, "filter": 0}]}`, ErrInvalidConfig},
		{"routing capacity", `{"inputs": 2, "outputs": 2, "maxRoutings": 1,
			"routings": [{"input": "0:1", "output": 0, "filter": 0}]}`, ErrInvalidConfig},
		{"sequence mismatch", `{"inputs": 3, "outputs": 3,
			"routings": [{"input": "0:2", "output": "0:1", "filter": 0}]}`, ErrSequenceMismatch},
		{"unnamed set", `{"inputs": 1, "outputs": 1, "filterSets": [{"sources": []}]}`, ErrInvalidConfig},
		{"duplicate set", `{"inputs": 1, "outputs": 1, "filterSets": [{"name": "a"}, {"name": "a"}]}`, ErrInvalidConfig},
		{"initial set", `{"inputs": 1, "outputs": 1, "filterSets": [{"name": "a"}], "initialFilterSet": "b"}`, ErrInvalidConfig},
		{"source without file", `{"inputs": 1, "outputs": 1, "filterSets": [{"name": "a", "sources": [{"slots": 0}]}]}`, ErrInvalidConfig},
		{"slot collision", `{"inputs": 1, "outputs": 1, "filterSets": [{"name": "a", "sources": [
			{"file": "x.wav", "slots": 0}, {"file": "y.wav", "slots": "1,0"}]}]}`, ErrInvalidConfig},
		{"slot capacity", `{"inputs": 1, "outputs": 1, "maxFilters": 2,
			"filterSets": [{"name": "a", "sources": [{"file": "x.wav", "slots": 2}]}]}`, ErrInvalidConfig},
		{"channel mismatch", `{"inputs": 1, "outputs": 1,
			"filterSets": [{"name": "a", "sources": [{"file": "x.wav", "channels": [0], "slots": "0:1"}]}]}`, ErrSequenceMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := Parse(strings.NewReader(tt.json)); !errors.Is(err, tt.target) {
				t.Errorf("err = %v, want %v", err, tt.target)
			}
		})
	}
}

func TestLoadResolvesPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")

	if err := os.WriteFile(path, []byte(sessionJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.BaseDir != dir {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, dir)
	}

	if got := cfg.ResolvePath("near.wav"); got != filepath.Join(dir, "near.wav") {
		t.Errorf("relative path = %q", got)
	}

	if got := cfg.ResolvePath("/abs/sub.wav"); got != "/abs/sub.wav" {
		t.Errorf("absolute path = %q", got)
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v", err)
	}
}

func TestExpandRoutings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		json string
		want []dsp.RoutingEntry
		err  error
	}{
		{
			name: "broadcast input",
			json: `[{"input": 0, "output": "0:2", "filter": "3:5", "gain": [1, 2, 3]}]`,
			want: []dsp.RoutingEntry{
				{Input: 0, Output: 0, Filter: 3, Gain: 1},
				{Input: 0, Output: 1, Filter: 4, Gain: 2},
				{Input: 0, Output: 2, Filter: 5, Gain: 3},
			},
		},
		{
			name: "later entry replaces earlier",
			json: `[{"input": "0:1", "output": 0, "filter": "0:1"}, {"input": 0, "output": 0, "filter": 7, "gain": -1}]`,
			want: []dsp.RoutingEntry{
				{Input: 0, Output: 0, Filter: 7, Gain: -1},
				{Input: 1, Output: 0, Filter: 1, Gain: 1},
			},
		},
		{
			name: "gain length",
			json: `[{"input": "0:1", "output": 0, "filter": 0, "gain": [1, 2, 3]}]`,
			err:  ErrSequenceMismatch,
		},
		{
			name: "missing filter",
			json: `[{"input": 0, "output": 0}]`,
			err:  ErrInvalidSequence,
		},
		{
			name: "not an array",
			json: `{"input": 0}`,
			err:  ErrInvalidConfig,
		},
		{
			name: "empty",
			json: `[]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseRoutings([]byte(tt.json))
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}

			if !slices.Equal(got, tt.want) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
