// Package pipeline turns a site snapshot into renderable regions:
// triangulate, tessellate, clip. Results are memoized per snapshot version.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/regionmap/internal/boundary"
	"github.com/joeblew999/regionmap/internal/delaunay"
	"github.com/joeblew999/regionmap/internal/site"
	"github.com/joeblew999/regionmap/internal/voronoi"
)

const (
	noticeDegenerate  = "Not enough distinct, non-collinear locations to draw regions; showing locations only."
	noticeClipFailure = "%d region(s) could not be drawn and are shown as locations."
)

// Options tunes Compute.
type Options struct {
	// Workers bounds concurrent per-site clipping. Zero means GOMAXPROCS.
	Workers int
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Compute builds the Result for snap clipped to b. It only fails when ctx
// is cancelled; geometric failures are reported through Result.Status.
func Compute(ctx context.Context, snap *site.Snapshot, b *boundary.Boundary, opts Options) (*Result, error) {
	res := &Result{
		Version:   snap.Version,
		Snapshot:  snap,
		Failures:  make(map[string]error),
		CoveredBy: make(map[string]string),
	}

	pts := snap.Points()
	tri, err := delaunay.Triangulate(pts)
	if err != nil {
		if !errors.Is(err, delaunay.ErrDegenerateInput) {
			return nil, fmt.Errorf("triangulate: %w", err)
		}
		res.Status = StatusDegenerateInput
		res.Err = err
		res.Notice = noticeDegenerate
		for _, s := range snap.Sites {
			res.Markers = append(res.Markers, Marker{SiteID: s.ID, Coordinate: s.Coordinate, Reason: ReasonDegenerateInput})
		}
		res.index()
		return res, nil
	}

	raw, err := voronoi.Tessellate(tri, snap.IDs(), voronoi.Frame(b.Bound(), pts))
	if err != nil {
		return nil, fmt.Errorf("tessellate: %w", err)
	}

	frags := make([][]boundary.ClippedCell, len(raw))
	errs := make([]error, len(raw))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i := range raw {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			frags[i], errs[i] = boundary.Clip(raw[i], b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, s := range snap.Sites {
		switch {
		case errs[i] != nil:
			res.Failures[s.ID] = errs[i]
			res.Markers = append(res.Markers, Marker{SiteID: s.ID, Coordinate: s.Coordinate, Reason: ReasonClipFailure})
		case len(frags[i]) == 0:
			res.Markers = append(res.Markers, Marker{SiteID: s.ID, Coordinate: s.Coordinate, Reason: ReasonCovered})
		default:
			c := Cell{SiteID: s.ID, SiteIndex: i, Fragments: frags[i]}
			for _, f := range frags[i] {
				c.Area += f.Area
			}
			c.Bound = cellBound(frags[i])
			res.Cells = append(res.Cells, c)
		}
	}
	res.index()

	if len(res.Failures) > 0 {
		res.Status = StatusClipFailure
		res.Notice = fmt.Sprintf(noticeClipFailure, len(res.Failures))
	}
	for _, m := range res.Markers {
		if m.Reason == ReasonCovered {
			if id, ok := coveringSite(res, m.Coordinate); ok {
				res.CoveredBy[m.SiteID] = id
			}
		}
	}
	return res, nil
}

func cellBound(frags []boundary.ClippedCell) orb.Bound {
	b := frags[0].Polygon.Bound()
	for _, f := range frags[1:] {
		b = b.Union(f.Polygon.Bound())
	}
	return b
}

// coveringSite returns the region containing p, or the region whose site
// is nearest to p.
func coveringSite(res *Result, p orb.Point) (string, bool) {
	for _, c := range res.Cells {
		if !c.Bound.Contains(p) {
			continue
		}
		for _, f := range c.Fragments {
			if planar.PolygonContains(f.Polygon, p) {
				return c.SiteID, true
			}
		}
	}

	best, bestD := "", 0.0
	for _, c := range res.Cells {
		d := planar.DistanceSquared(res.Snapshot.Sites[c.SiteIndex].Coordinate, p)
		if best == "" || d < bestD {
			best, bestD = c.SiteID, d
		}
	}
	return best, best != ""
}
