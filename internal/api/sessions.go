package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/regionmap/internal/humastar"
	"github.com/joeblew999/regionmap/internal/search"
	"github.com/joeblew999/regionmap/internal/service"
	"github.com/joeblew999/regionmap/internal/viewport"
)

type SessionInput struct {
	SessionID string `path:"session" doc:"Session ID"`
}

type CreateSessionInput struct {
	Body struct {
		Width  int `json:"width,omitempty" minimum:"0" doc:"Viewport width in pixels" example:"1024"`
		Height int `json:"height,omitempty" minimum:"0" doc:"Viewport height in pixels" example:"768"`
	} `required:"false"`
}

// SessionBody describes a session with its follow-up actions.
type SessionBody struct {
	service.SessionInfo
	State viewport.State `json:"state"`
}

var sessionActions = []humastar.ActionDef{
	{Rel: "frame", Pattern: "/api/v1/sessions/%s/frame", Method: "GET", Title: "Render frame"},
	{Rel: "events", Pattern: "/api/v1/sessions/%s/events", Method: "GET", Title: "Event stream"},
	{Rel: "search", Pattern: "/api/v1/sessions/%s/search", Method: "POST", Title: "Search sites"},
	{Rel: "delete", Pattern: "/api/v1/sessions/%s", Method: "DELETE", Title: "Close session"},
}

// Actions implements humastar.Actor.
func (b SessionBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.ID, sessionActions)
}

// FrameBody is a render frame plus the view centre in lon/lat.
type FrameBody struct {
	viewport.RenderFrame
	CenterLonLat orb.Point `json:"centerLonLat" doc:"View centre as [lon, lat]"`
}

type ViewInput struct {
	SessionInput
	Body struct {
		Center       *orb.Point `json:"center,omitempty" doc:"New centre in plane coordinates"`
		CenterLonLat *orb.Point `json:"centerLonLat,omitempty" doc:"New centre as [lon, lat]"`
		Zoom         *float64   `json:"zoom,omitempty" doc:"New zoom level, clamped to the configured range"`
		Width        int        `json:"width,omitempty" minimum:"0" doc:"New viewport width in pixels"`
		Height       int        `json:"height,omitempty" minimum:"0" doc:"New viewport height in pixels"`
		Fullscreen   bool       `json:"toggleFullscreen,omitempty" doc:"Flip fullscreen mode"`
		Fit          bool       `json:"fit,omitempty" doc:"Fit the boundary into the view"`
		Reset        bool       `json:"reset,omitempty" doc:"Restore the initial view"`
	}
}

type LayerInput struct {
	SessionInput
	Layer string `path:"layer" enum:"regions,markers,labels" doc:"Layer name"`
	Body  struct {
		Visible *bool `json:"visible,omitempty" doc:"Visibility; the layer is toggled when omitted"`
	} `required:"false"`
}

type LayerBody struct {
	Layer   string `json:"layer"`
	Visible bool   `json:"visible"`
}

type PointerInput struct {
	SessionInput
	Body struct {
		Kind string  `json:"kind" enum:"move,leave,click" doc:"Pointer event kind"`
		X    float64 `json:"x,omitempty" doc:"Screen x in pixels"`
		Y    float64 `json:"y,omitempty" doc:"Screen y in pixels"`
	}
}

type PointerBody struct {
	SiteID  string `json:"siteId,omitempty" doc:"Selected site for clicks"`
	Hovered string `json:"hovered,omitempty" doc:"Hovered site as of the last tick"`
}

type SearchInput struct {
	SessionInput
	Body struct {
		Query string `json:"query" maxLength:"200" doc:"Search text; blank clears the search"`
	}
}

type SearchBody struct {
	Query       string              `json:"query"`
	Active      bool                `json:"active"`
	Matches     []string            `json:"matches"`
	Suggestions []search.Suggestion `json:"suggestions"`
}

type SiteChoiceInput struct {
	SessionInput
	Body struct {
		SiteID string `json:"siteId" required:"true" minLength:"1" doc:"Site ID"`
	}
}

// RegisterSessions registers the interactive map session routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	tags := huma.OperationTags("sessions")
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/api/v1/sessions",
		Summary:       "Mount a map",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"sessions"},
	}, h.CreateSession)
	huma.Get(api, "/api/v1/sessions", h.ListSessions, tags)
	huma.Get(api, "/api/v1/sessions/{session}", h.GetSession, tags)
	huma.Delete(api, "/api/v1/sessions/{session}", h.DeleteSession, tags)
	huma.Get(api, "/api/v1/sessions/{session}/frame", h.GetFrame, tags)
	huma.Post(api, "/api/v1/sessions/{session}/view", h.UpdateView, tags)
	huma.Post(api, "/api/v1/sessions/{session}/layers/{layer}", h.SetLayer, tags)
	huma.Post(api, "/api/v1/sessions/{session}/pointer", h.Pointer, tags)
	huma.Post(api, "/api/v1/sessions/{session}/select", h.Select, tags)
	huma.Get(api, "/api/v1/sessions/{session}/search", h.GetSearch, tags)
	huma.Post(api, "/api/v1/sessions/{session}/search", h.Search, tags)
	huma.Post(api, "/api/v1/sessions/{session}/search/choose", h.Choose, tags)
}

func (h *APIHandler) session(id string) (*service.Session, error) {
	m, err := h.maps()
	if err != nil {
		return nil, err
	}
	s, err := m.Session(id)
	if err != nil {
		return nil, httpError(err)
	}
	return s, nil
}

func sessionBody(s *service.Session) SessionBody {
	return SessionBody{SessionInfo: s.Info(), State: s.Controller.State()}
}

func (h *APIHandler) CreateSession(ctx context.Context, input *CreateSessionInput) (*struct{ Body SessionBody }, error) {
	m, err := h.maps()
	if err != nil {
		return nil, err
	}
	s, err := m.CreateSession(input.Body.Width, input.Body.Height)
	if err != nil {
		return nil, huma.Error503ServiceUnavailable(err.Error())
	}
	return &struct{ Body SessionBody }{Body: sessionBody(s)}, nil
}

func (h *APIHandler) ListSessions(ctx context.Context, input *struct{}) (*struct{ Body []service.SessionInfo }, error) {
	m, err := h.maps()
	if err != nil {
		return nil, err
	}
	return &struct{ Body []service.SessionInfo }{Body: m.Sessions()}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *SessionInput) (*struct{ Body SessionBody }, error) {
	s, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body SessionBody }{Body: sessionBody(s)}, nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionInput) (*struct{ Body MessageBody }, error) {
	m, err := h.maps()
	if err != nil {
		return nil, err
	}
	if err := m.CloseSession(input.SessionID); err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Session closed"}}, nil
}

func (h *APIHandler) frame(s *service.Session) FrameBody {
	f := s.Controller.Frame()
	return FrameBody{RenderFrame: f, CenterLonLat: h.svc.Map.ToGeo(f.State.Center)}
}

func (h *APIHandler) GetFrame(ctx context.Context, input *SessionInput) (*struct{ Body FrameBody }, error) {
	s, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body FrameBody }{Body: h.frame(s)}, nil
}

// UpdateView applies the view changes in order: reset, fit, resize, centre,
// zoom and fullscreen.
func (h *APIHandler) UpdateView(ctx context.Context, input *ViewInput) (*struct{ Body viewport.State }, error) {
	s, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	b := input.Body
	ctrl := s.Controller
	if b.Reset {
		ctrl.Reset()
	}
	if b.Fit {
		ctrl.FitBounds(h.svc.Map.Boundary().Project(h.svc.Map.Projection().Forward).Bound())
	}
	if b.Width > 0 || b.Height > 0 {
		ctrl.Resize(b.Width, b.Height)
	}
	switch {
	case b.Center != nil:
		ctrl.PanTo(*b.Center)
	case b.CenterLonLat != nil:
		ctrl.PanTo(h.svc.Map.Projection().Forward(*b.CenterLonLat))
	}
	if b.Zoom != nil {
		ctrl.SetZoom(*b.Zoom)
	}
	if b.Fullscreen {
		ctrl.ToggleFullscreen()
	}
	return &struct{ Body viewport.State }{Body: ctrl.State()}, nil
}

func (h *APIHandler) SetLayer(ctx context.Context, input *LayerInput) (*struct{ Body LayerBody }, error) {
	s, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	visible := false
	if input.Body.Visible != nil {
		visible = *input.Body.Visible
		err = s.Controller.SetLayer(input.Layer, visible)
	} else {
		visible, err = s.Controller.ToggleLayer(input.Layer)
	}
	if err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body LayerBody }{Body: LayerBody{Layer: input.Layer, Visible: visible}}, nil
}

// Pointer feeds pointer input to the controller. Moves are resolved on the
// session's next tick; clicks are resolved immediately.
func (h *APIHandler) Pointer(ctx context.Context, input *PointerInput) (*struct{ Body PointerBody }, error) {
	s, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	at := orb.Point{input.Body.X, input.Body.Y}
	var body PointerBody
	switch input.Body.Kind {
	case "move":
		s.Controller.PointerMove(at)
	case "leave":
		s.Controller.PointerLeave()
	case "click":
		body.SiteID, _ = s.Controller.Click(at)
	default:
		return nil, huma.Error400BadRequest("unknown pointer kind " + input.Body.Kind)
	}
	body.Hovered = s.Controller.Hovered()
	return &struct{ Body PointerBody }{Body: body}, nil
}

func (h *APIHandler) Select(ctx context.Context, input *SiteChoiceInput) (*struct{ Body FrameBody }, error) {
	s, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if !s.Controller.Select(input.Body.SiteID) {
		return nil, huma.Error404NotFound("site not found")
	}
	return &struct{ Body FrameBody }{Body: h.frame(s)}, nil
}

func (h *APIHandler) searchBody(s *service.Session) SearchBody {
	matches := s.Search.Matches()
	if matches == nil {
		matches = []string{}
	}
	suggestions := s.Search.Suggestions(h.svc.Map.Config().Map.SuggestionLimit)
	if suggestions == nil {
		suggestions = []search.Suggestion{}
	}
	return SearchBody{
		Query:       s.Search.Query(),
		Active:      s.Search.Active(),
		Matches:     matches,
		Suggestions: suggestions,
	}
}

func (h *APIHandler) GetSearch(ctx context.Context, input *SessionInput) (*struct{ Body SearchBody }, error) {
	s, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body SearchBody }{Body: h.searchBody(s)}, nil
}

func (h *APIHandler) Search(ctx context.Context, input *SearchInput) (*struct{ Body SearchBody }, error) {
	s, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	s.Search.SetQuery(input.Body.Query)
	return &struct{ Body SearchBody }{Body: h.searchBody(s)}, nil
}

func (h *APIHandler) Choose(ctx context.Context, input *SiteChoiceInput) (*struct{ Body FrameBody }, error) {
	s, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	if !s.Search.Choose(input.Body.SiteID) {
		return nil, huma.Error404NotFound("site is not a current match")
	}
	return &struct{ Body FrameBody }{Body: h.frame(s)}, nil
}
