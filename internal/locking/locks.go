// Package locking provides per-path mutual exclusion inside one riakfs
// process. Holders are free-form labels used for diagnostics.
package locking

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

var ErrLocked = errors.New("locked by another holder")

type entry struct {
	holder string
	since  time.Time
}

// Manager hands out exclusive locks keyed by path.
type Manager struct {
	mu      sync.Mutex
	cond    *sync.Cond
	locks   map[string]entry
	waiting map[string]int
}

func NewManager() *Manager {
	m := &Manager{locks: make(map[string]entry), waiting: make(map[string]int)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Lock blocks until every path in paths is free and then takes them all for
// holder. Paths are taken in sorted order; duplicates are ignored. The
// returned func releases them.
func (m *Manager) Lock(holder string, paths ...string) (unlock func()) {
	keys := slices.Clone(paths)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	m.mu.Lock()
	for _, p := range keys {
		for {
			if _, held := m.locks[p]; !held {
				break
			}
			m.waiting[p]++
			m.cond.Wait()
			if m.waiting[p]--; m.waiting[p] == 0 {
				delete(m.waiting, p)
			}
		}
		m.locks[p] = entry{holder: holder, since: time.Now()}
	}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			for _, p := range keys {
				delete(m.locks, p)
			}
			m.mu.Unlock()
			m.cond.Broadcast()
		})
	}
}

// TryLock takes path for holder without blocking. Re-locking by the same
// holder succeeds.
func (m *Manager) TryLock(path, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.locks[path]; ok {
		if e.holder != holder {
			return ErrLocked
		}
		return nil
	}
	m.locks[path] = entry{holder: holder, since: time.Now()}
	return nil
}

// Unlock releases path if holder owns it.
func (m *Manager) Unlock(path, holder string) {
	m.mu.Lock()
	e, ok := m.locks[path]
	if ok && e.holder == holder {
		delete(m.locks, path)
	}
	m.mu.Unlock()
	if ok && e.holder == holder {
		m.cond.Broadcast()
	}
}

func (m *Manager) Holder(path string) (string, bool) {
	m.mu.Lock()
	e, ok := m.locks[path]
	m.mu.Unlock()
	return e.holder, ok
}

type Info struct {
	Path    string    `json:"path"`
	Holder  string    `json:"holder"`
	Since   time.Time `json:"since"`
	Waiters int       `json:"waiters,omitempty"`
}

// List returns all current locks sorted by path.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.locks))
	for p, e := range m.locks {
		out = append(out, Info{Path: p, Holder: e.holder, Since: e.since, Waiters: m.waiting[p]})
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Path, b.Path) })
	return out
}
