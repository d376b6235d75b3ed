package router

import (
	"sync"
	"time"
)

// DeadLoopConfig tunes the DeadLoopDetector.
type DeadLoopConfig struct {
	// SameValueThreshold trips when this many identical values fall inside the window.
	SameValueThreshold int `yaml:"sameValueThreshold" toml:"same_value_threshold" env:"SAME_VALUE_THRESHOLD"`
	// TotalThreshold trips when this many values of any kind fall inside the window.
	TotalThreshold int `yaml:"totalThreshold" toml:"total_threshold" env:"TOTAL_THRESHOLD"`
	// Window is the sliding window length.
	Window time.Duration `yaml:"window" toml:"window" env:"WINDOW"`
	// MaxEntries caps the number of remembered values.
	MaxEntries int `yaml:"maxEntries" toml:"max_entries" env:"MAX_ENTRIES"`
}

// DefaultDeadLoopConfig returns 20 identical or 50 total values per second,
// remembering at most 500 values.
func DefaultDeadLoopConfig() DeadLoopConfig {
	return DeadLoopConfig{
		SameValueThreshold: 20,
		TotalThreshold:     50,
		Window:             time.Second,
		MaxEntries:         500,
	}
}

func (c DeadLoopConfig) withDefaults() DeadLoopConfig {
	d := DefaultDeadLoopConfig()
	if c.SameValueThreshold <= 0 {
		c.SameValueThreshold = d.SameValueThreshold
	}
	if c.TotalThreshold <= 0 {
		c.TotalThreshold = d.TotalThreshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	return c
}

type feed struct {
	value string
	at    time.Time
}

// DeadLoopDetector is a sliding-window frequency counter that flags
// pathological repeated navigation.
type DeadLoopDetector struct {
	cfg DeadLoopConfig
	now func() time.Time

	mu      sync.Mutex
	entries []feed
}

// NewDeadLoopDetector creates a detector. Zero config fields take their defaults.
// A nil clock uses time.Now.
func NewDeadLoopDetector(cfg DeadLoopConfig, clock func() time.Time) *DeadLoopDetector {
	if clock == nil {
		clock = time.Now
	}
	return &DeadLoopDetector{cfg: cfg.withDefaults(), now: clock}
}

// Add records value and reports whether a dead loop is likely.
func (d *DeadLoopDetector) Add(value string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.entries = append(d.entries, feed{value: value, at: now})

	drop := 0
	for drop < len(d.entries) && now.Sub(d.entries[drop].at) >= d.cfg.Window {
		drop++
	}
	if over := len(d.entries) - drop - d.cfg.MaxEntries; over > 0 {
		drop += over
	}
	if drop > 0 {
		d.entries = append(d.entries[:0], d.entries[drop:]...)
	}

	if len(d.entries) >= d.cfg.TotalThreshold {
		return true
	}
	same := 0
	for _, e := range d.entries {
		if e.value == value {
			same++
		}
	}
	return same >= d.cfg.SameValueThreshold
}

// Reset forgets every recorded value.
func (d *DeadLoopDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
}
