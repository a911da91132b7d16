package humastar

import (
	"context"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"query":"ci","x":12.5,"fullscreen":true}`))
	require.NoError(t, err)
	assert.Equal(t, "ci", s.String("query"))
	assert.Equal(t, 12.5, s.Float("x"))
	assert.True(t, s.Has("x"))
	assert.False(t, s.Has("y"))
	assert.Zero(t, s.Float("query"))

	in := SignalsInput{RawBody: []byte("{")}
	_, err = in.MustParse()
	assert.Error(t, err)
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	p := Page(items, 2, 2)
	assert.Equal(t, []int{3, 4}, p.Data)
	assert.Equal(t, 5, p.Total)
	assert.Equal(t, []string{
		`</sites?offset=0&limit=2>; rel="first"`,
		`</sites?offset=0&limit=2>; rel="prev"`,
		`</sites?offset=4&limit=2>; rel="next"`,
		`</sites?offset=4&limit=2>; rel="last"`,
	}, p.PaginationLinks("/sites"))

	assert.Equal(t, []int{}, Page(items, 9, 2).Data)
	assert.Len(t, Page(items, 0, 0).Data, 5)
	assert.Nil(t, Page(items, 0, 0).PaginationLinks("/sites"))
}

func TestActionsFor(t *testing.T) {
	acts := ActionsFor("s1", []ActionDef{{Rel: "delete", Pattern: "/api/v1/sessions/%s", Method: "DELETE", Title: "Close"}})
	require.Len(t, acts, 1)
	assert.Equal(t, `</api/v1/sessions/s1>; rel="delete"; method="DELETE"; title="Close"`, acts[0].LinkHeader())
}

func TestParseLinkHeader(t *testing.T) {
	rel, href := parseLinkHeader(`</a>; rel="next"`)
	assert.Equal(t, "next", rel)
	assert.Equal(t, "/a", href)
	rel, _ = parseLinkHeader(`</a>; rel="delete"; method="DELETE"`)
	assert.Equal(t, "delete", rel)
	rel, _ = parseLinkHeader("garbage")
	assert.Empty(t, rel)
}

type itemBody struct {
	ID string `json:"id"`
}

func (itemBody) Actions() []Action {
	return []Action{{Rel: "delete", Href: "/things/1", Method: "DELETE"}}
}

func TestAutoLinks(t *testing.T) {
	var l *Links
	cfg := huma.DefaultConfig("Test", "1.0.0")
	cfg.Transformers = append(cfg.Transformers, func(ctx huma.Context, status string, v any) (any, error) {
		return l.Transformer()(ctx, status, v)
	})
	_, api := humatest.New(t, cfg)
	noop := func(ctx context.Context, _ *struct{}) (*struct{}, error) { return &struct{}{}, nil }
	huma.Get(api, "/health", noop, huma.OperationTags("health"))
	huma.Get(api, "/things", noop, huma.OperationTags("things"))
	huma.Post(api, "/things", noop, huma.OperationTags("things"))
	huma.Get(api, "/things/{id}", func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*struct{ Body itemBody }, error) {
		return &struct{ Body itemBody }{Body: itemBody{ID: in.ID}}, nil
	}, huma.OperationTags("things"))
	huma.Get(api, "/events", noop, huma.OperationTags(StreamTag))

	l = AutoLinks(api, map[string][]string{"/things": {`</export>; rel="alternate"`}})

	assert.Contains(t, l.Root(), `</things>; rel="things"`)
	assert.Contains(t, l.Root(), `</openapi.json>; rel="service-desc"`)
	assert.NotContains(t, l.Root(), `</events>; rel="events"`)
	assert.Contains(t, l.For("/things"), `</things/{id}>; rel="item"`)
	assert.Contains(t, l.For("/things"), `</things>; rel="create-form"`)
	assert.Contains(t, l.For("/things"), `</export>; rel="alternate"`)
	assert.Contains(t, l.For("/things/{id}"), `</things>; rel="collection"`)
	assert.Nil(t, (*Links)(nil).For("/things"))

	resp := api.Get("/things/1")
	links := resp.Header().Values("Link")
	assert.Contains(t, links, `</things/1>; rel="self"`)
	assert.Contains(t, links, `</things/1>; rel="delete"; method="DELETE"`)
	assert.Contains(t, links, `</things>; rel="collection"`)
}
