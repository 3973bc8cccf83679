package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"travel-points/internal/geo"
)

// DefaultLocationMaxAge is how long a shared location stays usable.
const DefaultLocationMaxAge = 2 * time.Minute

type sharedLocation struct {
	coord geo.Coordinate
	at    time.Time
}

// LocationCache remembers the last location each user shared with the bot.
// Telegram cannot be asked for a location on demand, so the most recent
// fresh share stands in for a device reading.
type LocationCache struct {
	mu     sync.RWMutex
	byUser map[int64]sharedLocation
	maxAge time.Duration
	now    func() time.Time
}

// NewLocationCache creates a LocationCache. A non-positive maxAge uses
// DefaultLocationMaxAge.
func NewLocationCache(maxAge time.Duration) *LocationCache {
	if maxAge <= 0 {
		maxAge = DefaultLocationMaxAge
	}
	return &LocationCache{
		byUser: make(map[int64]sharedLocation),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Set records a shared location.
func (l *LocationCache) Set(userID int64, c geo.Coordinate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byUser[userID] = sharedLocation{coord: c, at: l.now()}
}

// Get returns the user's location if it is still fresh.
func (l *LocationCache) Get(userID int64) (geo.Coordinate, bool) {
	l.mu.RLock()
	loc, ok := l.byUser[userID]
	l.mu.RUnlock()
	if !ok || l.now().Sub(loc.at) > l.maxAge {
		return geo.Coordinate{}, false
	}
	return loc.coord, true
}

// Provider returns a geo.Provider backed by the user's cached location.
func (l *LocationCache) Provider(userID int64) geo.Provider {
	return geo.ProviderFunc(func(ctx context.Context) (geo.Coordinate, error) {
		if err := ctx.Err(); err != nil {
			return geo.Coordinate{}, err
		}
		c, ok := l.Get(userID)
		if !ok {
			return geo.Coordinate{}, fmt.Errorf("no location shared in the last %s", l.maxAge)
		}
		return c, nil
	})
}

// Prune drops every stale entry.
func (l *LocationCache) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	now := l.now()
	for id, loc := range l.byUser {
		if now.Sub(loc.at) > l.maxAge {
			delete(l.byUser, id)
			n++
		}
	}
	return n
}
