// Package config loads and validates the TOML configuration (§6.5) for
// both binaries, following the teacher's load-then-verify shape
// (config/setting.go: Reload + per-rule verify()) generalized to
// capture/aggregator sections.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// InterfaceConfig describes one interface to bind (§4.1).
type InterfaceConfig struct {
	Name        string `toml:"name"`
	Promiscuous bool   `toml:"promiscuous"`
	Description string `toml:"description"`
}

// Capture holds the capture binary's full configuration surface (§6.5).
type Capture struct {
	Mode            string            `toml:"mode"` // "mirror" is the only implemented mode
	RingBufferSize  int               `toml:"ring_buffer_size"`
	SnapLength      int               `toml:"snap_length"`
	FlushIntervalMs int               `toml:"flush_interval_ms"`
	BatchSize       int               `toml:"batch_size"`
	Interfaces      []InterfaceConfig `toml:"interfaces"`

	StreamURL   string `toml:"stream_url"`
	StreamName  string `toml:"stream_name"`

	PublishQueueDepth int `toml:"publish_queue_depth"`
	MaxStreamLength   int `toml:"max_stream_length"`

	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
}

// Aggregator holds the aggregator binary's full configuration surface (§6.5).
type Aggregator struct {
	StreamURL     string `toml:"stream_url"`
	StreamName    string `toml:"stream_name"`
	EventsName    string `toml:"events_name"`
	ConsumerGroup string `toml:"consumer_group"`

	DatabaseURL string `toml:"database_url"`

	PersistIntervalSecs int `toml:"persist_interval_secs"`
	FlowCap             int `toml:"flow_cap"`
	ActivityWindowSecs  int `toml:"activity_window_secs"`
	BucketSizeSecs      int `toml:"bucket_size"`
	MaxBucketLookbackSecs int `toml:"max_bucket_lookback"`

	ReadBatch int `toml:"read_batch"`
	BlockMs   int `toml:"block_ms"`

	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
}

// defaults mirror §6.5's stated defaults.
func (c *Capture) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "mirror"
	}
	if c.RingBufferSize == 0 {
		c.RingBufferSize = 2048
	}
	if c.SnapLength == 0 {
		c.SnapLength = 65536
	}
	if c.FlushIntervalMs == 0 {
		c.FlushIntervalMs = 100
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1000
	}
	if c.StreamName == "" {
		c.StreamName = "netsentinel:frames"
	}
	if c.PublishQueueDepth == 0 {
		c.PublishQueueDepth = 1024
	}
	if c.MaxStreamLength == 0 {
		c.MaxStreamLength = 100_000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (a *Aggregator) applyDefaults() {
	if a.StreamName == "" {
		a.StreamName = "netsentinel:frames"
	}
	if a.EventsName == "" {
		a.EventsName = "netsentinel:events"
	}
	if a.ConsumerGroup == "" {
		a.ConsumerGroup = "aggregator"
	}
	if a.PersistIntervalSecs == 0 {
		a.PersistIntervalSecs = 60
	}
	if a.ActivityWindowSecs == 0 {
		a.ActivityWindowSecs = 300
	}
	if a.BucketSizeSecs == 0 {
		a.BucketSizeSecs = 60
	}
	if a.MaxBucketLookbackSecs == 0 {
		a.MaxBucketLookbackSecs = 600
	}
	if a.ReadBatch == 0 {
		a.ReadBatch = 200
	}
	if a.BlockMs == 0 {
		a.BlockMs = 5000
	}
	if a.LogLevel == "" {
		a.LogLevel = "info"
	}
}

// verify checks required fields, mirroring the teacher's Rule.verify().
func (c *Capture) verify() error {
	if c.Mode != "mirror" {
		return fmt.Errorf("unsupported mode %q (only \"mirror\" is implemented)", c.Mode)
	}
	if len(c.Interfaces) == 0 {
		return fmt.Errorf("no interfaces configured")
	}
	for i, iface := range c.Interfaces {
		if iface.Name == "" {
			return fmt.Errorf("interfaces[%d]: empty name", i)
		}
	}
	if c.StreamURL == "" {
		return fmt.Errorf("stream_url is required")
	}
	return nil
}

func (a *Aggregator) verify() error {
	if a.StreamURL == "" {
		return fmt.Errorf("stream_url is required")
	}
	if a.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	return nil
}

// LoadCapture reads and validates a capture configuration file.
func LoadCapture(path string) (*Capture, error) {
	var c Capture
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return &c, nil
}

// LoadAggregator reads and validates an aggregator configuration file.
func LoadAggregator(path string) (*Aggregator, error) {
	var a Aggregator
	if _, err := toml.DecodeFile(path, &a); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	a.applyDefaults()
	if err := a.verify(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return &a, nil
}

// ResolvePath mirrors the teacher's MOTO_CONFIG environment override,
// renamed per binary.
func ResolvePath(flagValue, envVar, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}
