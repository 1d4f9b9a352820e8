package selector

import (
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/polygate/polygate/common/config"
	"github.com/polygate/polygate/common/logger"
)

// exclusionSet is the process-wide record of quota-exhausted credential ids.
// Request workers add to it concurrently; a timer clears it wholesale. The
// clear may race with inserts, which costs at most one spurious retry.
type exclusionSet struct {
	mu  sync.RWMutex
	ids map[int]time.Time
}

var excluded = &exclusionSet{ids: make(map[int]time.Time)}

// Exclude marks a credential id as quota-exhausted process-wide.
func Exclude(id int) {
	excluded.mu.Lock()
	defer excluded.mu.Unlock()
	excluded.ids[id] = time.Now()
}

// IsExcluded reports whether the credential id is currently excluded.
func IsExcluded(id int) bool {
	excluded.mu.RLock()
	defer excluded.mu.RUnlock()
	_, ok := excluded.ids[id]
	return ok
}

// ExcludedIDs snapshots the current exclusion set.
func ExcludedIDs() map[int]bool {
	excluded.mu.RLock()
	defer excluded.mu.RUnlock()
	out := make(map[int]bool, len(excluded.ids))
	for id := range excluded.ids {
		out[id] = true
	}
	return out
}

// ClearExcluded resets the exclusion set. Idempotent.
func ClearExcluded() {
	excluded.mu.Lock()
	defer excluded.mu.Unlock()
	if len(excluded.ids) > 0 {
		logger.Logger.Info("clearing credential exclusion set",
			zap.Int("excluded_count", len(excluded.ids)))
	}
	excluded.ids = make(map[int]time.Time)
}

// StartExclusionReset clears the exclusion set on the configured interval,
// aligned to the interval boundary so it matches quota_exhausted_until
// markers. Runs until the process exits.
func StartExclusionReset() {
	go func() {
		for {
			now := time.Now()
			next := now.Truncate(config.ExcludeResetInterval).Add(config.ExcludeResetInterval)
			time.Sleep(next.Sub(now))
			ClearExcluded()
		}
	}()
}
