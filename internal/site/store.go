package site

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
)

// ErrInvalidRecord matches every record validation failure.
var ErrInvalidRecord = errors.New("invalid site record")

// Store publishes site snapshots. Replacement is wholesale and atomic;
// readers always see a complete snapshot.
type Store struct {
	proj    Projection
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]

	// writeMu serializes Replace and Remove and guards version.
	writeMu sync.Mutex
	version uint64

	mu        sync.Mutex
	listeners map[int]func(*Snapshot)
	nextID    int
}

// NewStore returns a store with an empty snapshot at version 0.
func NewStore(proj Projection, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{proj: proj, logger: logger, listeners: make(map[int]func(*Snapshot))}
	s.current.Store(NewSnapshot(0, nil))
	return s
}

// Projection returns the projection applied to incoming records.
func (s *Store) Projection() Projection { return s.proj }

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot { return s.current.Load() }

// Replace validates records, projects them and publishes a new snapshot.
// Duplicate ids and duplicate coordinates are rejected so every site maps
// to exactly one cell.
func (s *Store) Replace(records []Record) (*Snapshot, error) {
	sites, err := s.build(records)
	if err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.version++
	snap := NewSnapshot(s.version, sites)
	s.publish(snap)
	s.logger.Info("site snapshot replaced", "version", snap.Version, "sites", snap.Len())
	return snap, nil
}

// Remove publishes a snapshot without the given ids.
func (s *Store) Remove(ids ...string) *Snapshot {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.version++
	snap := s.Snapshot().Without(s.version, ids...)
	s.publish(snap)
	s.logger.Info("sites removed", "version", snap.Version, "removed", len(ids), "sites", snap.Len())
	return snap
}

// publish runs under writeMu, so listeners see versions in order.
func (s *Store) publish(snap *Snapshot) {
	s.current.Store(snap)
	s.notify(snap)
}

// Subscribe registers fn to run after every replacement, in version order.
// fn must not call Replace or Remove. The returned function removes it.
func (s *Store) Subscribe(fn func(*Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(snap *Snapshot) {
	s.mu.Lock()
	fns := make([]func(*Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) build(records []Record) ([]Site, error) {
	sites := make([]Site, 0, len(records))
	ids := make(map[string]struct{}, len(records))
	coords := make(map[orb.Point]string, len(records))

	for i, r := range records {
		if err := ValidateRecord(r); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := ids[r.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidRecord, r.ID)
		}
		ids[r.ID] = struct{}{}

		ll := orb.Point{r.Longitude, r.Latitude}
		if other, dup := coords[ll]; dup {
			return nil, fmt.Errorf("%w: %q and %q share coordinates %v", ErrInvalidRecord, other, r.ID, ll)
		}
		coords[ll] = r.ID

		sites = append(sites, Site{
			ID:               r.ID,
			Name:             strings.TrimSpace(r.Name),
			ParentRegionName: strings.TrimSpace(r.ParentRegionName),
			Location:         ll,
			Coordinate:       s.proj.Forward(ll),
		})
	}
	return sites, nil
}

// ValidateRecord checks a single record in isolation.
func ValidateRecord(r Record) error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	case !isFinite(r.Latitude) || !isFinite(r.Longitude):
		return fmt.Errorf("%w: %q has non-finite coordinates", ErrInvalidRecord, r.ID)
	case r.Latitude < -90 || r.Latitude > 90:
		return fmt.Errorf("%w: %q latitude %v out of range", ErrInvalidRecord, r.ID, r.Latitude)
	case r.Longitude < -180 || r.Longitude > 180:
		return fmt.Errorf("%w: %q longitude %v out of range", ErrInvalidRecord, r.ID, r.Longitude)
	}
	return nil
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
