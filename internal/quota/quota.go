// Package quota enforces per-owner resource limits: stored bytes, concurrent
// analyses and daily analysis counts.
package quota

import (
	"errors"
	"sync"
	"time"
)

// LimitError indicates an owner exceeded one of its limits.
type LimitError struct {
	Limit      string
	Current    int64
	Maximum    int64
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return "quota limit exceeded: " + e.Limit
}

// IsLimitError reports whether err is a quota violation.
func IsLimitError(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}

// Limits defines resource ceilings for one owner.
type Limits struct {
	MaxStorageBytes       int64
	MaxConcurrentAnalyses int64
	MaxAnalysesPerDay     int64
}

// PlanLimits provides preset limits per plan tier.
var PlanLimits = map[string]Limits{
	"free": {
		MaxStorageBytes:       1024 * 1024 * 1024, // 1 GB
		MaxConcurrentAnalyses: 1,
		MaxAnalysesPerDay:     10,
	},
	"pro": {
		MaxStorageBytes:       10 * 1024 * 1024 * 1024, // 10 GB
		MaxConcurrentAnalyses: 4,
		MaxAnalysesPerDay:     200,
	},
	"enterprise": {
		MaxStorageBytes:       100 * 1024 * 1024 * 1024, // 100 GB
		MaxConcurrentAnalyses: 16,
		MaxAnalysesPerDay:     2000,
	},
}

// Usage tracks current consumption for one owner.
type Usage struct {
	OwnerID          string
	StorageUsedBytes int64
	RunningAnalyses  int64
	AnalysesToday    int64
	LastDailyReset   time.Time

	mu sync.Mutex
}

// Manager tracks limits and usage across owners. Unknown owners fall back
// to the default limits instead of being rejected.
type Manager struct {
	defaults Limits
	limits   map[string]Limits
	usage    map[string]*Usage
	mu       sync.RWMutex
}

// NewManager creates a manager whose unknown owners receive defaults.
func NewManager(defaults Limits) *Manager {
	return &Manager{
		defaults: defaults,
		limits:   make(map[string]Limits),
		usage:    make(map[string]*Usage),
	}
}

// SetDefaults replaces the fallback limits applied to owners without an
// explicit override. Used by config hot-reload.
func (m *Manager) SetDefaults(defaults Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = defaults
}

// SetLimits overrides the limits for one owner.
func (m *Manager) SetLimits(ownerID string, limits Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[ownerID] = limits
}

// LimitsFor returns the effective limits for an owner.
func (m *Manager) LimitsFor(ownerID string) Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limits[ownerID]; ok {
		return l
	}
	return m.defaults
}

func (m *Manager) usageFor(ownerID string) *Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.usage[ownerID]
	if !ok {
		u = &Usage{OwnerID: ownerID, LastDailyReset: time.Now()}
		m.usage[ownerID] = u
	}
	return u
}

// ReserveStorage accounts bytes against the owner's storage ceiling. The
// reservation happens before any payload is written so a rejected upload
// never consumes disk.
func (m *Manager) ReserveStorage(ownerID string, bytes int64) error {
	limits := m.LimitsFor(ownerID)
	u := m.usageFor(ownerID)

	u.mu.Lock()
	defer u.mu.Unlock()

	next := u.StorageUsedBytes + bytes
	if limits.MaxStorageBytes > 0 && next > limits.MaxStorageBytes {
		return &LimitError{
			Limit:   "storage",
			Current: next,
			Maximum: limits.MaxStorageBytes,
		}
	}
	u.StorageUsedBytes = next
	return nil
}

// ReleaseStorage returns bytes to the owner's budget, typically after a
// project delete.
func (m *Manager) ReleaseStorage(ownerID string, bytes int64) {
	u := m.usageFor(ownerID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.StorageUsedBytes -= bytes
	if u.StorageUsedBytes < 0 {
		u.StorageUsedBytes = 0
	}
}

// BeginAnalysis checks the concurrency and daily ceilings and, when allowed,
// increments both counters.
func (m *Manager) BeginAnalysis(ownerID string) error {
	limits := m.LimitsFor(ownerID)
	u := m.usageFor(ownerID)

	u.mu.Lock()
	defer u.mu.Unlock()

	if time.Since(u.LastDailyReset) > 24*time.Hour {
		u.AnalysesToday = 0
		u.LastDailyReset = time.Now()
	}

	if limits.MaxConcurrentAnalyses > 0 && u.RunningAnalyses >= limits.MaxConcurrentAnalyses {
		return &LimitError{
			Limit:      "concurrent analyses",
			Current:    u.RunningAnalyses,
			Maximum:    limits.MaxConcurrentAnalyses,
			RetryAfter: time.Minute,
		}
	}
	if limits.MaxAnalysesPerDay > 0 && u.AnalysesToday >= limits.MaxAnalysesPerDay {
		return &LimitError{
			Limit:      "analyses per day",
			Current:    u.AnalysesToday,
			Maximum:    limits.MaxAnalysesPerDay,
			RetryAfter: time.Until(u.LastDailyReset.Add(24 * time.Hour)),
		}
	}

	u.RunningAnalyses++
	u.AnalysesToday++
	return nil
}

// EndAnalysis releases one concurrency slot.
func (m *Manager) EndAnalysis(ownerID string) {
	u := m.usageFor(ownerID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.RunningAnalyses > 0 {
		u.RunningAnalyses--
	}
}

// UsageFor returns a snapshot of the owner's current consumption.
func (m *Manager) UsageFor(ownerID string) Usage {
	u := m.usageFor(ownerID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return Usage{
		OwnerID:          u.OwnerID,
		StorageUsedBytes: u.StorageUsedBytes,
		RunningAnalyses:  u.RunningAnalyses,
		AnalysesToday:    u.AnalysesToday,
		LastDailyReset:   u.LastDailyReset,
	}
}

// DeleteOwner drops all tracking for an owner.
func (m *Manager) DeleteOwner(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limits, ownerID)
	delete(m.usage, ownerID)
}
