package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID       string            `json:"id"`
	Count    int               `json:"count"`
	Labels   map[string]string `json:"labels,omitempty"`
	Parts    []part            `json:"parts"`
	Created  time.Time         `json:"created_at"`
	Finished *time.Time        `json:"finished_at,omitempty"`
	Next     *widget           `json:"next,omitempty"`
	internal string
	Skipped  string `json:"-"`
}

type part struct {
	Name string `json:"name"`
}

type createWidget struct {
	Name string `json:"name"`
}

type apiError struct {
	Error string `json:"error"`
}

func TestGenerate_Operations(t *testing.T) {
	g := NewGenerator(WithServer("http://localhost:8080"), WithErrorModel(apiError{}))
	g.Register(
		Operation{
			Method:   http.MethodPost,
			Path:     "/api/v1/widgets",
			ID:       "createWidget",
			Tag:      "Widgets",
			Request:  createWidget{},
			Response: widget{},
			Status:   http.StatusAccepted,
			Errors:   []int{http.StatusBadRequest},
		},
		Operation{
			Method:   http.MethodGet,
			Path:     "/api/v1/widgets/{id}",
			ID:       "getWidget",
			Response: &widget{},
			Query:    []QueryParam{{Name: "verbose", Type: "boolean"}},
		},
	)

	spec := g.Generate()

	assert.Equal(t, "Launchpad API", spec.Info.Title)
	require.Len(t, spec.Servers, 1)

	collection := spec.Paths.Value("/api/v1/widgets")
	require.NotNil(t, collection)
	require.NotNil(t, collection.Post)
	assert.Equal(t, "createWidget", collection.Post.OperationID)
	assert.Equal(t, []string{"Widgets"}, collection.Post.Tags)
	assert.NotNil(t, collection.Post.Responses.Value("202"))
	assert.NotNil(t, collection.Post.Responses.Value("400"))
	assert.Nil(t, collection.Post.Responses.Value("200"))
	require.NotNil(t, collection.Post.RequestBody)
	assert.Equal(t, "#/components/schemas/createWidget",
		collection.Post.RequestBody.Value.Content.Get("application/json").Schema.Ref)

	item := spec.Paths.Value("/api/v1/widgets/{id}")
	require.NotNil(t, item)
	require.Len(t, item.Parameters, 1)
	assert.Equal(t, "id", item.Parameters[0].Value.Name)
	assert.True(t, item.Parameters[0].Value.Required)
	require.NotNil(t, item.Get)
	require.Len(t, item.Get.Parameters, 1)
	assert.Equal(t, "query", item.Get.Parameters[0].Value.In)
	assert.NotNil(t, item.Get.Responses.Value("200"))

	assert.Contains(t, spec.Components.Schemas, "apiError")
}

func TestGenerate_Schema(t *testing.T) {
	g := NewGenerator()
	g.Register(Operation{Method: http.MethodGet, Path: "/widgets", Response: widget{}})

	spec := g.Generate()

	ref, ok := spec.Components.Schemas["widget"]
	require.True(t, ok)
	s := ref.Value

	assert.Contains(t, s.Properties, "id")
	assert.Contains(t, s.Properties, "created_at")
	assert.NotContains(t, s.Properties, "internal")
	assert.NotContains(t, s.Properties, "Skipped")

	assert.Equal(t, "date-time", s.Properties["created_at"].Value.Format)
	assert.True(t, s.Properties["finished_at"].Value.Nullable)
	assert.True(t, s.Properties["labels"].Value.Type.Is("object"))
	assert.True(t, s.Properties["parts"].Value.Type.Is("array"))
	assert.Equal(t, "#/components/schemas/part", s.Properties["parts"].Value.Items.Ref)
	assert.Equal(t, "#/components/schemas/widget", s.Properties["next"].Ref)

	assert.Equal(t, []string{"count", "created_at", "id", "parts"}, s.Required)
	assert.Contains(t, spec.Components.Schemas, "Error")
}

func TestGenerate_Cached(t *testing.T) {
	g := NewGenerator()
	g.Register(Operation{Method: http.MethodGet, Path: "/a"})

	first := g.Generate()
	assert.Same(t, first, g.Generate())

	g.Register(Operation{Method: http.MethodGet, Path: "/b"})
	second := g.Generate()
	assert.NotSame(t, first, second)
	assert.NotNil(t, second.Paths.Value("/b"))
}

func TestGenerate_StreamingContentType(t *testing.T) {
	g := NewGenerator()
	g.Register(Operation{Method: http.MethodGet, Path: "/metrics", ContentType: "text/plain"})

	op := g.Generate().Paths.Value("/metrics").Get
	resp := op.Responses.Value("200").Value

	assert.NotNil(t, resp.Content.Get("text/plain"))
}

func TestHandler_ServesJSON(t *testing.T) {
	g := NewGenerator(WithTitle("Test API"), WithVersion("2.0.0"))
	g.Register(Operation{Method: http.MethodGet, Path: "/health", Response: part{}})

	w := httptest.NewRecorder()
	g.Handler()(w, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&doc))
	assert.Equal(t, "3.0.3", doc["openapi"])
	info := doc["info"].(map[string]any)
	assert.Equal(t, "Test API", info["title"])
	assert.Equal(t, "2.0.0", info["version"])
}
