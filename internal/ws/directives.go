package ws

import "github.com/rzpsarthak13/rpc-absorber/internal/core"

// UpdateFrequency is how stale a cached response may get before it
// expires. Classes are ordered from the shortest delay to the longest.
type UpdateFrequency int

const (
	FrequencyUsually UpdateFrequency = iota
	FrequencyOften
	FrequencySometimes
	FrequencyRarely
)

func (f UpdateFrequency) String() string {
	switch f {
	case FrequencyUsually:
		return "usually"
	case FrequencyOften:
		return "often"
	case FrequencySometimes:
		return "sometimes"
	case FrequencyRarely:
		return "rarely"
	}
	return "unknown"
}

// Directives control how a single call uses the cache, the queue and the
// network.
type Directives struct {
	// ReadFromCache allows answering from the cache and joining an
	// identical call already in flight.
	ReadFromCache bool

	// SaveToCache persists a successful response.
	SaveToCache bool

	// OmitExpires accepts cached entries regardless of their age.
	OmitExpires bool

	// ForceOffline answers from the cache only.
	ForceOffline bool

	// CacheKey groups entries for bulk invalidation.
	CacheKey string

	// GetCacheUsingCacheKey looks entries up by CacheKey before the call
	// identity.
	GetCacheUsingCacheKey bool

	// GetEmergencyCacheUsingCacheKey does the same for the emergency
	// lookup after a failure.
	GetEmergencyCacheUsingCacheKey bool

	// DeleteCacheIfWSError drops the cached entry when the server rejects
	// the call.
	DeleteCacheIfWSError bool

	// UniqueCacheKey keeps a single entry per CacheKey.
	UniqueCacheKey bool

	UpdateFrequency UpdateFrequency

	// Component and ComponentID scope entries for invalidation. A zero
	// ComponentID means none.
	Component   string
	ComponentID int64

	// SkipQueue dispatches immediately instead of batching.
	SkipQueue bool

	// ReusePending joins an identical call waiting in the batching queue.
	ReusePending bool

	// UpdateInBackground returns a stale entry at once and then the
	// fresh response.
	UpdateInBackground bool

	// EmergencyCache allows an expiration-ignoring cache read after a
	// failed dispatch. nil means allowed.
	EmergencyCache *bool

	// CacheErrors lists server error codes cached like a success.
	CacheErrors []string

	// Filter, FileURL and ResponseExpected are passed to the transport.
	Filter           bool
	FileURL          bool
	ResponseExpected bool
}

// ReadDirectives returns the defaults for read calls.
func ReadDirectives() Directives {
	return Directives{
		ReadFromCache:    true,
		SaveToCache:      true,
		ReusePending:     true,
		Filter:           true,
		FileURL:          true,
		ResponseExpected: true,
	}
}

// WriteDirectives returns the defaults for calls that change server state.
func WriteDirectives() Directives {
	no := false
	return Directives{
		EmergencyCache:   &no,
		Filter:           true,
		FileURL:          true,
		ResponseExpected: true,
	}
}

// EmergencyAllowed reports whether a failed call may fall back to the cache.
func (d Directives) EmergencyAllowed() bool {
	return d.EmergencyCache == nil || *d.EmergencyCache
}

func (d Directives) settings(lang string, cleanUnicode bool) core.Settings {
	return core.Settings{
		Lang:             lang,
		Filter:           d.Filter,
		FileURL:          d.FileURL,
		CleanUnicode:     cleanUnicode,
		ResponseExpected: d.ResponseExpected,
	}
}

// Option adjusts a directive preset.
type Option func(*Directives)

// WithCacheKey groups the entry under key.
func WithCacheKey(key string) Option {
	return func(d *Directives) { d.CacheKey = key }
}

// WithComponent scopes the entry to a component and id.
func WithComponent(component string, id int64) Option {
	return func(d *Directives) {
		d.Component = component
		d.ComponentID = id
	}
}

// WithUpdateFrequency sets the expiration class.
func WithUpdateFrequency(f UpdateFrequency) Option {
	return func(d *Directives) { d.UpdateFrequency = f }
}

// WithCacheErrors caches the listed server error codes.
func WithCacheErrors(codes ...string) Option {
	return func(d *Directives) { d.CacheErrors = append(d.CacheErrors, codes...) }
}

// InBackground returns stale entries at once and refreshes them.
func InBackground(d *Directives) { d.UpdateInBackground = true }

// Offline answers from the cache only.
func Offline(d *Directives) { d.ForceOffline = true }

// IgnoreExpiration accepts cached entries of any age.
func IgnoreExpiration(d *Directives) { d.OmitExpires = true }

// Immediate bypasses the batching queue.
func Immediate(d *Directives) { d.SkipQueue = true }

// NoCache neither reads nor writes the cache.
func NoCache(d *Directives) {
	d.ReadFromCache = false
	d.SaveToCache = false
}
