package api

// links holds the Link header values that cannot be derived from the
// OpenAPI paths. They are merged into the generated ones.
var links = map[string][]string{
	"/api/v1/map": {
		`</api/v1/map/cells>; rel="alternate"; type="application/geo+json"`,
		`</api/v1/sites>; rel="sites"`,
		`</api/v1/sessions>; rel="sessions"`,
	},
	"/api/v1/sites": {
		`</api/v1/map>; rel="map"`,
	},
	"/api/v1/sessions": {
		`</api/v1/map>; rel="map"`,
	},
	"/api/v1/sources": {
		`</api/v1/tiles>; rel="tiles"`,
		`</api/v1/tables>; rel="tables"`,
	},
	"/api/v1/tiles": {
		`</api/v1/sources>; rel="sources"`,
	},
	"/api/v1/tables": {
		`</api/v1/query>; rel="query"`,
	},
}

// StaticLinks returns the hand-written links for humastar.AutoLinks.
func StaticLinks() map[string][]string {
	return links
}
