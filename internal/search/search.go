// Package search filters the current sites by a free-text query and drives
// the map's highlighting and focus from the result.
package search

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/joeblew999/regionmap/internal/site"
)

// DefaultFocusZoom is the zoom used when a query has exactly one match.
const DefaultFocusZoom = 14

// Controller is the part of the map controller search drives.
type Controller interface {
	Highlight(ids []string, active bool)
	Focus(id string, level float64) bool
	Select(id string) bool
}

// ResultsSink receives the matched ids after every query change.
type ResultsSink interface {
	OnSearchResultsChange(ids []string)
}

// Options configures a Coordinator.
type Options struct {
	FocusZoom float64
	Logger    *slog.Logger
}

// Suggestion is one entry of the disambiguation list.
type Suggestion struct {
	SiteID           string `json:"siteId"`
	Name             string `json:"name"`
	ParentRegionName string `json:"parentRegionName"`
}

type entry struct {
	id     string
	name   string
	parent string
}

// Coordinator holds the query state of one mounted map.
type Coordinator struct {
	mu        sync.Mutex
	ctrl      Controller
	sink      ResultsSink
	focusZoom float64
	logger    *slog.Logger

	snap    *site.Snapshot
	entries []entry

	query   string
	active  bool
	matched []string
}

// New returns a coordinator over snap. ctrl and sink may be nil.
func New(ctrl Controller, sink ResultsSink, snap *site.Snapshot, opts Options) *Coordinator {
	if opts.FocusZoom == 0 {
		opts.FocusZoom = DefaultFocusZoom
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Coordinator{
		ctrl:      ctrl,
		sink:      sink,
		focusZoom: opts.FocusZoom,
		logger:    opts.Logger,
	}
	c.load(snap)
	return c
}

func (c *Coordinator) load(snap *site.Snapshot) {
	c.snap = snap
	c.entries = c.entries[:0]
	if snap == nil {
		return
	}
	for _, s := range snap.Sites {
		c.entries = append(c.entries, entry{id: s.ID, name: fold(s.Name), parent: fold(s.ParentRegionName)})
	}
}

// fold applies Unicode case folding. A Caser keeps state, so each call
// gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

// SetQuery runs text against site names and parent region names and
// returns the matched ids in store order. A blank query ends the search.
// A single match focuses the map on that site.
func (c *Coordinator) SetQuery(text string) []string {
	c.mu.Lock()
	c.query = text
	q := strings.TrimSpace(text)
	if q == "" {
		c.active = false
		c.matched = nil
	} else {
		c.active = true
		c.matched = c.match(fold(q))
	}
	ids, active := slices.Clone(c.matched), c.active
	c.mu.Unlock()

	c.logger.Debug("search", "query", q, "matches", len(ids))
	c.apply(ids, active, true)
	return ids
}

func (c *Coordinator) match(q string) []string {
	ids := []string{}
	for _, e := range c.entries {
		if strings.Contains(e.name, q) || strings.Contains(e.parent, q) {
			ids = append(ids, e.id)
		}
	}
	return ids
}

// Match returns the ids of sites in snap whose name or parent region
// contains text, ignoring case. A blank text matches nothing.
func Match(snap *site.Snapshot, text string) []string {
	q := strings.TrimSpace(text)
	if q == "" || snap == nil {
		return []string{}
	}
	q = fold(q)
	ids := []string{}
	for _, s := range snap.Sites {
		if strings.Contains(fold(s.Name), q) || strings.Contains(fold(s.ParentRegionName), q) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func (c *Coordinator) apply(ids []string, active, focus bool) {
	if c.ctrl != nil {
		c.ctrl.Highlight(ids, active)
		if focus && len(ids) == 1 {
			c.ctrl.Focus(ids[0], c.focusZoom)
		}
	}
	if c.sink != nil {
		c.sink.OnSearchResultsChange(ids)
	}
}

// Reset clears the query and the matched set.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.query, c.active, c.matched = "", false, nil
	c.mu.Unlock()
	c.apply(nil, false, false)
}

// Refresh swaps in a new snapshot and re-runs the current query against
// it. The map is not refocused. Results are emitted only when the matched
// set changed.
func (c *Coordinator) Refresh(snap *site.Snapshot) []string {
	c.mu.Lock()
	c.load(snap)
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	prev := c.matched
	c.matched = c.match(fold(strings.TrimSpace(c.query)))
	ids := slices.Clone(c.matched)
	c.mu.Unlock()

	if slices.Equal(prev, ids) {
		return ids
	}
	c.apply(ids, true, false)
	return ids
}

// Query returns the raw query text.
func (c *Coordinator) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Active reports whether a non-blank query is in effect.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Matches returns the matched ids in store order.
func (c *Coordinator) Matches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.matched)
}

// Suggestions returns up to limit matches for disambiguation. It is empty
// unless the query matched more than one site. limit <= 0 means all.
func (c *Coordinator) Suggestions(limit int) []Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.matched) < 2 || c.snap == nil {
		return nil
	}
	ids := c.matched
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Suggestion, 0, len(ids))
	for _, id := range ids {
		s, ok := c.snap.Lookup(id)
		if !ok {
			continue
		}
		out = append(out, Suggestion{SiteID: s.ID, Name: s.Name, ParentRegionName: s.ParentRegionName})
	}
	return out
}

// Choose focuses the map on one of the current matches and selects it.
func (c *Coordinator) Choose(id string) bool {
	c.mu.Lock()
	ok := slices.Contains(c.matched, id)
	c.mu.Unlock()
	if !ok || c.ctrl == nil {
		return false
	}
	if !c.ctrl.Focus(id, c.focusZoom) {
		return false
	}
	return c.ctrl.Select(id)
}
