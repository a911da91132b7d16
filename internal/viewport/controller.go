package viewport

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/joeblew999/regionmap/internal/metrics"
	"github.com/joeblew999/regionmap/internal/pipeline"
)

type cellEntry struct {
	siteID string
	bound  orb.Bound
	polys  []orb.Polygon
}

type markerEntry struct {
	siteID   string
	point    orb.Point
	degraded bool
	reason   pipeline.MarkerReason
}

type pointerKind int

const (
	pointerNone pointerKind = iota
	pointerMove
	pointerLeave
)

// Controller owns the view state of one mounted map. All methods are safe
// for concurrent use; events are delivered to the sink without holding
// the controller lock.
type Controller struct {
	mu    sync.Mutex
	opts  Options
	state State
	sink  EventSink

	result  *pipeline.Result
	cells   []cellEntry
	markers []markerEntry

	hovered      string
	hoverScreen  orb.Point
	selected     string
	pending      pointerKind
	pendingAt    orb.Point
	searchActive bool
	matched      map[string]bool

	closed bool
	done   chan struct{}
}

// New mounts a controller. sink may be nil.
func New(opts Options, sink EventSink) *Controller {
	if sink == nil {
		sink = nopSink{}
	}
	c := &Controller{
		opts: opts.withDefaults(),
		sink: sink,
		done: make(chan struct{}),
	}
	c.resetLocked()
	return c
}

// Close unmounts the controller. Later calls are no-ops and no further
// events are delivered.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.sink = nopSink{}
	close(c.done)
}

// Reset restores the initial view and clears hover, selection and search
// highlighting. The current result is kept.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	layers := map[string]bool{LayerRegions: true, LayerMarkers: true, LayerLabels: true}
	for k, v := range c.opts.Layers {
		if validLayer(k) {
			layers[k] = v
		}
	}
	c.state = State{
		Zoom:         c.opts.MinZoom,
		ActiveLayers: layers,
		Width:        c.opts.Width,
		Height:       c.opts.Height,
	}
	c.hovered, c.selected = "", ""
	c.pending = pointerNone
	c.searchActive = false
	c.matched = nil
	if !c.opts.InitialBound.IsZero() {
		c.fitLocked(c.opts.InitialBound)
	}
}

// State returns a copy of the view state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// PanTo centres the view on p.
func (c *Controller) PanTo(p orb.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Center = p
}

// SetZoom sets the zoom level clamped to the configured range and returns
// the applied level.
func (c *Controller) SetZoom(level float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Zoom = c.clampZoom(level)
	return c.state.Zoom
}

func (c *Controller) clampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return c.state.Zoom
	}
	return math.Max(c.opts.MinZoom, math.Min(c.opts.MaxZoom, z))
}

// ToggleFullscreen flips fullscreen mode and returns the new value.
func (c *Controller) ToggleFullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Fullscreen = !c.state.Fullscreen
	return c.state.Fullscreen
}

// Resize sets the viewport size in pixels.
func (c *Controller) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if width > 0 {
		c.state.Width = width
	}
	if height > 0 {
		c.state.Height = height
	}
}

// ToggleLayer flips the visibility of a layer and returns the new value.
func (c *Controller) ToggleLayer(name string) (bool, error) {
	if !validLayer(name) {
		return false, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ActiveLayers[name] = !c.state.ActiveLayers[name]
	return c.state.ActiveLayers[name], nil
}

// SetLayer sets the visibility of a layer.
func (c *Controller) SetLayer(name string, on bool) error {
	if !validLayer(name) {
		return fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ActiveLayers[name] = on
	return nil
}

// FitBounds centres and zooms the view so b fills it.
func (c *Controller) FitBounds(b orb.Bound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fitLocked(b)
}

func (c *Controller) fitLocked(b orb.Bound) {
	c.state.Center = b.Center()
	w := (b.Right() - b.Left()) * 1.05
	h := (b.Top() - b.Bottom()) * 1.05
	if w <= 0 && h <= 0 {
		c.state.Zoom = c.clampZoom(c.opts.MaxZoom)
		return
	}
	res := math.Max(w/float64(c.state.Width), h/float64(c.state.Height))
	c.state.Zoom = c.clampZoom(math.Log2(c.opts.BaseResolution / res))
}

// Resolution returns plane units per pixel at the current zoom.
func (c *Controller) Resolution() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolution()
}

func (c *Controller) resolution() float64 {
	return c.opts.BaseResolution / math.Exp2(c.state.Zoom)
}

// ScreenToPlane converts a pixel position (origin top-left, y down) to the
// plane.
func (c *Controller) ScreenToPlane(s orb.Point) orb.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toPlane(s)
}

func (c *Controller) toPlane(s orb.Point) orb.Point {
	res := c.resolution()
	return orb.Point{
		c.state.Center[0] + (s[0]-float64(c.state.Width)/2)*res,
		c.state.Center[1] - (s[1]-float64(c.state.Height)/2)*res,
	}
}

// PlaneToScreen converts a plane point to pixels.
func (c *Controller) PlaneToScreen(p orb.Point) orb.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toScreen(p)
}

func (c *Controller) toScreen(p orb.Point) orb.Point {
	res := c.resolution()
	return orb.Point{
		(p[0]-c.state.Center[0])/res + float64(c.state.Width)/2,
		(c.state.Center[1]-p[1])/res + float64(c.state.Height)/2,
	}
}

// VisibleBound returns the plane area covered by the viewport.
func (c *Controller) VisibleBound() orb.Bound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleBound()
}

func (c *Controller) visibleBound() orb.Bound {
	res := c.resolution()
	hw := float64(c.state.Width) / 2 * res
	hh := float64(c.state.Height) / 2 * res
	return orb.Bound{
		Min: orb.Point{c.state.Center[0] - hw, c.state.Center[1] - hh},
		Max: orb.Point{c.state.Center[0] + hw, c.state.Center[1] + hh},
	}
}

// SetResult swaps the renderable set. Hover and selection of sites that no
// longer exist are cleared.
func (c *Controller) SetResult(res *pipeline.Result) {
	c.mu.Lock()
	c.result = res
	c.cells, c.markers = buildIndex(res)

	var emit []func(EventSink)
	if c.hovered != "" && !c.known(c.hovered) {
		c.hovered = ""
		at := c.hoverScreen
		emit = append(emit, func(s EventSink) { s.OnHoverChange("", at) })
	}
	if c.selected != "" && !c.known(c.selected) {
		c.selected = ""
	}
	for id := range c.matched {
		if !c.known(id) {
			delete(c.matched, id)
		}
	}
	sink := c.sink
	c.mu.Unlock()

	for _, fn := range emit {
		fn(sink)
	}
}

// Result returns the current renderable set.
func (c *Controller) Result() *pipeline.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

func (c *Controller) known(id string) bool {
	return c.result != nil && c.result.Snapshot != nil && c.result.Snapshot.Has(id)
}

func buildIndex(res *pipeline.Result) ([]cellEntry, []markerEntry) {
	if res == nil {
		return nil, nil
	}
	cells := make([]cellEntry, 0, len(res.Cells))
	for _, cell := range res.Cells {
		e := cellEntry{siteID: cell.SiteID, bound: cell.Bound}
		for _, f := range cell.Fragments {
			e.polys = append(e.polys, f.Polygon)
		}
		cells = append(cells, e)
	}

	degraded := make(map[string]pipeline.MarkerReason, len(res.Markers))
	for _, m := range res.Markers {
		degraded[m.SiteID] = m.Reason
	}
	var markers []markerEntry
	if res.Snapshot != nil {
		for _, s := range res.Snapshot.Sites {
			reason, isDegraded := degraded[s.ID]
			markers = append(markers, markerEntry{siteID: s.ID, point: s.Coordinate, degraded: isDegraded, reason: reason})
		}
	}
	return cells, markers
}

// HitTest returns the site under plane point p: the region containing it,
// or else the nearest marker within the pick radius.
func (c *Controller) HitTest(p orb.Point) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitTest(p)
}

func (c *Controller) hitTest(p orb.Point) (string, bool) {
	if c.state.ActiveLayers[LayerRegions] {
		for _, e := range c.cells {
			if !e.bound.Contains(p) {
				continue
			}
			for _, poly := range e.polys {
				if planar.PolygonContains(poly, p) {
					metrics.HitTestsTotal.WithLabelValues("region").Inc()
					return e.siteID, true
				}
			}
		}
	}

	radius := c.opts.PickRadiusPx * c.resolution()
	best, bestD := "", radius*radius
	showAll := c.state.ActiveLayers[LayerMarkers]
	for _, m := range c.markers {
		if !m.degraded && !showAll {
			continue
		}
		if d := planar.DistanceSquared(m.point, p); d <= bestD {
			best, bestD = m.siteID, d
		}
	}
	if best != "" {
		metrics.HitTestsTotal.WithLabelValues("marker").Inc()
		return best, true
	}
	metrics.HitTestsTotal.WithLabelValues("miss").Inc()
	return "", false
}

// PointerMove records the pointer position. Hover is resolved on the next
// Tick, so bursts of moves within one frame cost a single hit test.
func (c *Controller) PointerMove(screen orb.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = pointerMove
	c.pendingAt = screen
}

// PointerLeave records that the pointer left the map.
func (c *Controller) PointerLeave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = pointerLeave
}

// Tick flushes pending pointer input. It emits at most one hover event,
// and only when the hovered site changed. It reports whether an event was
// emitted.
func (c *Controller) Tick() bool {
	c.mu.Lock()
	if c.closed || c.pending == pointerNone {
		c.mu.Unlock()
		return false
	}

	id := ""
	at := c.pendingAt
	if c.pending == pointerMove {
		id, _ = c.hitTest(c.toPlane(at))
	} else {
		at = c.hoverScreen
	}
	c.pending = pointerNone

	if id == c.hovered {
		if id != "" {
			c.hoverScreen = at
		}
		c.mu.Unlock()
		return false
	}
	c.hovered = id
	c.hoverScreen = at
	sink := c.sink
	c.mu.Unlock()

	sink.OnHoverChange(id, at)
	return true
}

// Run calls Tick every interval until ctx is done or the controller is
// closed.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			c.Tick()
		}
	}
}

// Click selects the site under the screen position and emits OnSelect.
func (c *Controller) Click(screen orb.Point) (string, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", false
	}
	id, ok := c.hitTest(c.toPlane(screen))
	if !ok {
		c.mu.Unlock()
		return "", false
	}
	c.selected = id
	sink := c.sink
	c.mu.Unlock()

	sink.OnSelect(id)
	return id, true
}

// Select marks id as selected without pointer input.
func (c *Controller) Select(id string) bool {
	c.mu.Lock()
	if c.closed || !c.known(id) {
		c.mu.Unlock()
		return false
	}
	c.selected = id
	sink := c.sink
	c.mu.Unlock()

	sink.OnSelect(id)
	return true
}

// Hovered returns the hovered site id.
func (c *Controller) Hovered() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hovered
}

// Selected returns the selected site id.
func (c *Controller) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Highlight sets search highlighting. With active false every region is
// drawn normally; with active true matched regions are highlighted and the
// rest dimmed.
func (c *Controller) Highlight(ids []string, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchActive = active
	c.matched = make(map[string]bool, len(ids))
	for _, id := range ids {
		c.matched[id] = true
	}
}

// Focus centres the view on a site and zooms to level.
func (c *Controller) Focus(id string, level float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil || c.result.Snapshot == nil {
		return false
	}
	s, ok := c.result.Snapshot.Lookup(id)
	if !ok {
		return false
	}
	c.state.Center = s.Coordinate
	c.state.Zoom = c.clampZoom(level)
	return true
}
