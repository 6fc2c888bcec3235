// Package uimem remembers where named UI elements physically are on
// screen, so repeated lookups skip expensive vision/OCR passes. Records
// are resolution-scoped, confidence-gated, and promoted to trusted after
// repeated human confirmation.
package uimem

import (
	"log/slog"
	"sync"
	"time"

	"deskpilot/internal/metrics"
)

const (
	// MinConfidence is the floor below which detections are never stored.
	MinConfidence = 0.5
	// UserConfirmThreshold promotes an element to trusted once reached.
	UserConfirmThreshold = 3
	// CacheMaxAge expires records not seen for a week.
	CacheMaxAge = 168 * time.Hour
)

// Position is a pixel position with an optional bounding box.
type Position struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Stats is a read-only snapshot of the cache.
type Stats struct {
	Count          int
	TrustedCount   int
	OldestEntryAge time.Duration
}

// Service owns the element cache. All mutations flush to disk so a crash
// loses at most the last write. Safe for concurrent use; last writer
// wins per key, torn writes cannot happen.
type Service struct {
	mu      sync.Mutex
	store   *FileStore
	entries map[string]CachedElement
	logger  *slog.Logger

	now func() time.Time
}

// NewService loads the persisted cache once at startup.
func NewService(store *FileStore, logger *slog.Logger) (*Service, error) {
	entries, err := store.Load()
	if err != nil {
		return nil, err
	}
	logger.Debug("element cache loaded", "path", store.Path(), "entries", len(entries))
	return &Service{
		store:   store,
		entries: entries,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Lookup returns the cached element only if it exists, was captured at
// exactly the current resolution, and is not expired. Anything else is
// an ordinary miss: the caller falls back to vision/OCR.
func (s *Service) Lookup(key string, width, height int) (CachedElement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		metrics.ElementCacheMiss.Inc()
		return CachedElement{}, false
	}
	if el.Resolution[0] != width || el.Resolution[1] != height {
		metrics.ElementCacheMiss.Inc()
		return CachedElement{}, false
	}
	if s.expired(el) {
		metrics.ElementCacheMiss.Inc()
		return CachedElement{}, false
	}

	metrics.ElementCacheHits.Inc()
	return el, true
}

// Cache inserts or overwrites the record. Detections below MinConfidence
// are silently dropped to keep guesses out of the store.
func (s *Service) Cache(key string, width, height int, pos Position, confidence float64) error {
	if confidence < MinConfidence {
		s.logger.Debug("element below confidence floor, not cached",
			"key", key, "confidence", confidence)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nowSec := s.nowSeconds()
	s.entries[key] = CachedElement{
		Resolution:   [2]int{width, height},
		X:            pos.X,
		Y:            pos.Y,
		Width:        pos.Width,
		Height:       pos.Height,
		Confidence:   confidence,
		CreatedAt:    nowSec,
		LastSeenAt:   nowSec,
		ConfirmCount: 0,
		Trusted:      false,
	}
	return s.persistLocked()
}

// Confirm records one human confirmation. At UserConfirmThreshold the
// element becomes trusted and stops prompting for re-confirmation.
func (s *Service) Confirm(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil
	}
	el.ConfirmCount++
	if el.ConfirmCount >= UserConfirmThreshold {
		el.Trusted = true
	}
	el.LastSeenAt = s.nowSeconds()
	s.entries[key] = el

	if el.Trusted {
		s.logger.Info("element promoted to trusted", "key", key, "confirms", el.ConfirmCount)
	}
	return s.persistLocked()
}

// Deny removes trust and resets the confirmation count. The record stays:
// its position may still be a reasonable starting guess.
func (s *Service) Deny(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil
	}
	el.Trusted = false
	el.ConfirmCount = 0
	s.entries[key] = el

	s.logger.Info("element trust revoked", "key", key)
	return s.persistLocked()
}

// Invalidate hard-deletes the record.
func (s *Service) Invalidate(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.persistLocked()
}

// IsTrusted reports whether the element has earned trusted status.
func (s *Service) IsTrusted(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key].Trusted
}

// Stats returns a read-only snapshot of the cache.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Count: len(s.entries)}
	var oldest float64
	for _, el := range s.entries {
		if el.Trusted {
			st.TrustedCount++
		}
		if oldest == 0 || el.LastSeenAt < oldest {
			oldest = el.LastSeenAt
		}
	}
	if oldest > 0 {
		age := s.now().Sub(time.Unix(0, int64(oldest*1e9)))
		if age > 0 {
			st.OldestEntryAge = age
		}
	}
	return st
}

// persistLocked purges expired entries and flushes to disk. Purging on
// every write bounds file growth; lookup still checks age lazily.
func (s *Service) persistLocked() error {
	for key, el := range s.entries {
		if s.expired(el) {
			delete(s.entries, key)
			s.logger.Debug("expired element purged", "key", key)
		}
	}
	return s.store.Save(s.entries)
}

func (s *Service) expired(el CachedElement) bool {
	lastSeen := time.Unix(0, int64(el.LastSeenAt*1e9))
	return s.now().Sub(lastSeen) > CacheMaxAge
}

func (s *Service) nowSeconds() float64 {
	return float64(s.now().UnixNano()) / 1e9
}
