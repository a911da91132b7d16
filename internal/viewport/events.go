package viewport

import "github.com/paulmach/orb"

// EventSink receives controller and search events. An empty siteID in
// OnHoverChange means the pointer left every site.
type EventSink interface {
	OnHoverChange(siteID string, screen orb.Point)
	OnSelect(siteID string)
	OnSearchResultsChange(ids []string)
}

// SinkFuncs adapts plain functions to EventSink. Nil fields are skipped.
type SinkFuncs struct {
	Hover         func(siteID string, screen orb.Point)
	Select        func(siteID string)
	SearchResults func(ids []string)
}

func (f SinkFuncs) OnHoverChange(siteID string, screen orb.Point) {
	if f.Hover != nil {
		f.Hover(siteID, screen)
	}
}

func (f SinkFuncs) OnSelect(siteID string) {
	if f.Select != nil {
		f.Select(siteID)
	}
}

func (f SinkFuncs) OnSearchResultsChange(ids []string) {
	if f.SearchResults != nil {
		f.SearchResults(ids)
	}
}

type nopSink struct{}

func (nopSink) OnHoverChange(string, orb.Point) {}
func (nopSink) OnSelect(string)                 {}
func (nopSink) OnSearchResultsChange([]string)  {}
