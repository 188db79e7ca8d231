package ws

import (
	"time"

	"github.com/rzpsarthak13/rpc-absorber/internal/registry"
)

// Config tunes the orchestrator.
type Config struct {
	// SiteID tags the notifications published for this site.
	SiteID string

	// Lang is sent with every call.
	Lang string

	// QueueLimit and QueueDelay are the batching thresholds.
	QueueLimit int
	QueueDelay time.Duration

	// DisableQueue sends every call on its own, for servers without the
	// composite endpoint.
	DisableQueue bool

	// Frequencies are the expiration delays indexed by UpdateFrequency.
	Frequencies [4]time.Duration

	// MeteredMultiplier extends expiration on metered connections.
	MeteredMultiplier float64

	// BackgroundWindow is how old an entry may be and still be returned
	// while a background refresh runs.
	BackgroundWindow time.Duration

	// CacheErrors are server error codes cached for every call.
	CacheErrors []string
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		QueueLimit: 10,
		QueueDelay: 50 * time.Millisecond,
		Frequencies: [4]time.Duration{
			FrequencyUsually:   7 * time.Minute,
			FrequencyOften:     20 * time.Minute,
			FrequencySometimes: time.Hour,
			FrequencyRarely:    12 * time.Hour,
		},
		MeteredMultiplier: 1.5,
		BackgroundWindow:  7 * 24 * time.Hour,
	}
}

// ConfigFromInternal maps the ws section of the configuration. Zero
// values keep the defaults.
func ConfigFromInternal(in registry.InternalWSConfig) Config {
	cfg := DefaultConfig()
	cfg.SiteID = in.SiteID
	cfg.Lang = in.Lang
	if in.QueueLimit > 0 {
		cfg.QueueLimit = in.QueueLimit
	}
	if in.QueueDelay > 0 {
		cfg.QueueDelay = in.QueueDelay
	}
	freqs := [4]time.Duration{in.Frequencies.Usually, in.Frequencies.Often, in.Frequencies.Sometimes, in.Frequencies.Rarely}
	for i, d := range freqs {
		if d > 0 {
			cfg.Frequencies[i] = d
		}
	}
	if in.MeteredMultiplier >= 1 {
		cfg.MeteredMultiplier = in.MeteredMultiplier
	}
	if in.BackgroundWindow > 0 {
		cfg.BackgroundWindow = in.BackgroundWindow
	}
	cfg.CacheErrors = append(cfg.CacheErrors, in.CacheErrors...)
	return cfg
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.QueueLimit <= 0 {
		c.QueueLimit = def.QueueLimit
	}
	if c.QueueDelay <= 0 {
		c.QueueDelay = def.QueueDelay
	}
	for i, d := range c.Frequencies {
		if d <= 0 {
			c.Frequencies[i] = def.Frequencies[i]
		}
	}
	if c.MeteredMultiplier < 1 {
		c.MeteredMultiplier = def.MeteredMultiplier
	}
	if c.BackgroundWindow <= 0 {
		c.BackgroundWindow = def.BackgroundWindow
	}
}
