// Package providers defines the candidate-event surface between the delivery
// engine and the external polling clients (Twitch, YouTube, TikTok, patch-note
// scrapers). The clients themselves live outside this module; the engine only
// sees the Fetcher capability interface.
//
// Fetchers are wired through a static compile-time Registry. There is no
// runtime discovery or reflection: the hosting process lists its fetchers
// explicitly when it builds the registry.
package providers

import (
	"context"
	"sort"
	"time"
)

// Provider name keys. They prefix dedup event ids and job names.
const (
	Twitch     = "twitch"
	YouTube    = "youtube"
	TikTok     = "tiktok"
	PatchNotes = "patchnotes"
	Birthday   = "birthday"
	Reminder   = "reminder"
)

// Event is a raw candidate signal from a provider, not yet checked for
// dedup or cooldown.
type Event struct {
	Provider   string
	ID         string // unique per real-world event within the provider
	ExternalID string // the subscription key that produced it
	Title      string
	URL        string
	Text       string // pre-formatted message body
	At         time.Time
	DueAt      time.Time // reminders only; zero otherwise
}

// Fetcher produces the latest candidate event for one external key.
// since carries the last event id this process saw for the key ("" on the
// first poll after a restart); fetchers may use it to skip re-serving known
// events, but the dedup store stays authoritative either way.
// A (nil, nil) return means nothing new.
type Fetcher interface {
	Provider() string
	FetchLatest(ctx context.Context, externalID, since string) (*Event, error)
}

// Registry maps provider names to fetchers. Built once at startup;
// read-only afterwards.
type Registry struct {
	byName map[string]Fetcher
}

func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{byName: make(map[string]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		if f == nil {
			continue
		}
		r.byName[f.Provider()] = f
	}
	return r
}

// Get returns the fetcher for a provider name, or nil.
func (r *Registry) Get(name string) Fetcher {
	if r == nil {
		return nil
	}
	return r.byName[name]
}

// All returns the registered fetchers in name order.
func (r *Registry) All() []Fetcher {
	if r == nil {
		return nil
	}
	names := r.Names()
	out := make([]Fetcher, 0, len(names))
	for _, name := range names {
		out = append(out, r.byName[name])
	}
	return out
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
