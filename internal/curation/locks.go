package curation

import (
	"slices"
	"sync"

	"github.com/bge-barcoding/BGE-library-curation-tool-win/internal/datastore"
)

// Scope key prefixes.
const (
	scopeIdentification = "identification:"
	scopeSpecies        = "species:"
	scopeRecord         = "record:"
)

// scopeLocks is a keyed mutex. Entries exist only while someone holds or
// waits for them.
type scopeLocks struct {
	mu      sync.Mutex
	entries map[string]*scopeEntry
}

type scopeEntry struct {
	mu   sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{entries: make(map[string]*scopeEntry)}
}

// Lock acquires every key in sorted order and returns the function that
// releases them. Duplicate keys are locked once.
func (l *scopeLocks) Lock(keys ...string) (unlock func()) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*scopeEntry, 0, len(keys))
	for _, k := range keys {
		e := l.acquire(k)
		e.mu.Lock()
		held = append(held, e)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				l.release(keys[i])
			}
		})
	}
}

func (l *scopeLocks) acquire(key string) *scopeEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &scopeEntry{}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *scopeLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// size returns the number of live entries.
func (l *scopeLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// recordSnapshot holds the fields that decide an edit's lock scope.
type recordSnapshot struct {
	processID      string
	identification string
	species        string
	renames        bool
}

func snapshotFor(r *datastore.Record, newSpecies string) recordSnapshot {
	newSpecies = NormalizeSpecies(newSpecies)
	return recordSnapshot{
		processID:      r.ProcessID,
		identification: r.Identification,
		species:        r.Species,
		renames:        newSpecies != "" && newSpecies != NormalizeSpecies(r.Species),
	}
}

// keys returns the lock keys of the scope. An empty identification scopes
// the edit to the record itself.
func (s *recordSnapshot) keys() []string {
	keys := make([]string, 0, 2)
	if s.identification == "" {
		keys = append(keys, scopeRecord+s.processID)
	} else {
		keys = append(keys, scopeIdentification+s.identification)
	}
	if s.renames && s.species != "" {
		keys = append(keys, scopeSpecies+s.species)
	}
	return keys
}

// moved reports whether r no longer falls in the scope s was taken from.
func (s *recordSnapshot) moved(r *datastore.Record, newSpecies string) bool {
	now := snapshotFor(r, newSpecies)
	if now.identification != s.identification || now.renames != s.renames {
		return true
	}
	return s.renames && now.species != s.species
}
