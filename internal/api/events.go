package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/regionmap/internal/humastar"
	"github.com/joeblew999/regionmap/internal/search"
	"github.com/joeblew999/regionmap/internal/service"
)

// suggestionItem is the data of the "suggestion" fragment.
type suggestionItem struct {
	Session string
	search.Suggestion
}

type EventsInput struct {
	SessionInput
	Close bool `query:"close" doc:"Close the session when the client disconnects"`
}

// RegisterEvents registers the Datastar SSE routes of a session.
func (h *APIHandler) RegisterEvents(api huma.API) {
	huma.Get(api, "/api/v1/sessions/{session}/events", h.Events,
		huma.OperationTags(humastar.StreamTag),
	)
	huma.Post(api, "/api/v1/sessions/{session}/search/signals", h.SearchSignals,
		huma.OperationTags(humastar.StreamTag),
	)
}

// Events streams the session's hover, selection, search and result
// changes to the Datastar UI. The stream ends when the session closes.
func (h *APIHandler) Events(ctx context.Context, input *EventsInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	bus := h.svc.Map.Bus()
	ch := bus.Subscribe()
	return h.Stream(func(sse humastar.SSE) {
		defer bus.Unsubscribe(ch)
		h.patchSearch(sse, s)
		h.patchFrame(sse, s)
		for {
			select {
			case <-ctx.Done():
				if input.Close {
					_ = h.svc.Map.CloseSession(s.ID)
				}
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if !ev.For(s.ID) {
					continue
				}
				switch ev.Kind {
				case service.EventClosed:
					sse.Signals(map[string]any{"closed": true})
					return
				case service.EventHover:
					h.patchTooltip(sse, s)
				case service.EventSearch:
					h.patchSearch(sse, s)
				case service.EventResult:
					h.patchSearch(sse, s)
					h.patchFrame(sse, s)
				}
				sse.DispatchCustomEvent("map-changed", ev)
			}
		}
	}), nil
}

// SearchSignals runs a search from the Datastar "query" signal and patches
// the suggestions.
func (h *APIHandler) SearchSignals(ctx context.Context, input *struct {
	SessionInput
	humastar.SignalsInput
}) (*huma.StreamResponse, error) {
	s, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}
	if signals.Has("query") {
		s.Search.SetQuery(signals.String("query"))
	}
	return h.Stream(func(sse humastar.SSE) {
		h.patchSearch(sse, s)
	}), nil
}

func (h *APIHandler) patchTooltip(sse humastar.SSE, s *service.Session) {
	f := s.Controller.Frame()
	html := ""
	if f.Tooltip != nil {
		html = h.Render("tooltip", f.Tooltip)
	}
	sse.Patch(html, "#tooltip")
	sse.Signals(map[string]any{"hovered": f.Hovered})
}

func (h *APIHandler) patchSearch(sse humastar.SSE, s *service.Session) {
	body := h.searchBody(s)
	items := make([]any, len(body.Suggestions))
	for i, sg := range body.Suggestions {
		items[i] = suggestionItem{Session: s.ID, Suggestion: sg}
	}
	empty := ""
	if body.Active && len(body.Matches) == 0 {
		empty = "No matching sites"
	}
	html := ""
	if len(items) > 0 || empty != "" {
		html = h.RenderList("suggestion", items, empty, "")
	}
	sse.Patch(html, "#suggestions")
	sse.Signals(map[string]any{
		"query":        body.Query,
		"searchActive": body.Active,
		"matches":      len(body.Matches),
	})
}

func (h *APIHandler) patchFrame(sse humastar.SSE, s *service.Session) {
	f := s.Controller.Frame()
	sse.Patch(h.Render("notice", f.Notice), "#notice")
	sse.Signals(map[string]any{
		"version":  f.Version,
		"selected": f.Selected,
	})
}
