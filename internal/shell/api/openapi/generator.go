// Package openapi provides reflective OpenAPI 3.0 specification generation.
package openapi

import (
	"encoding/json"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// Generator
// =============================================================================

// Generator produces an OpenAPI 3.0 document by reflecting on the request and
// response models of registered operations.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string
	errorModel  any
	operations  []Operation
	mu          sync.RWMutex
	cachedSpec  *openapi3.T
}

// Operation describes one route for spec generation.
type Operation struct {
	Method      string       // HTTP method, e.g. http.MethodPost
	Path        string       // chi-style path, e.g. "/api/v1/deployments/{id}"
	ID          string       // operationId
	Summary     string       // one-line description
	Tag         string       // grouping tag
	Request     any          // JSON request body model, nil if none
	Response    any          // success body model, nil if none
	Status      int          // success status; defaults to 200
	ContentType string       // success content type; defaults to application/json
	Query       []QueryParam // query parameters
	Errors      []int        // error statuses answered with the error model
}

// QueryParam describes a query string parameter.
type QueryParam struct {
	Name        string
	Type        string // OpenAPI primitive type; defaults to "string"
	Description string
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) {
		g.title = title
	}
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) {
		g.version = version
	}
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) {
		g.description = description
	}
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) {
		g.servers = append(g.servers, url)
	}
}

// WithErrorModel sets the body model of error responses.
func WithErrorModel(model any) Option {
	return func(g *Generator) {
		g.errorModel = model
	}
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:       "Launchpad API",
		version:     "1.0.0",
		description: "Builds project sources into containers and manages their lifecycle",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Register adds operations to the generator.
func (g *Generator) Register(ops ...Operation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.operations = append(g.operations, ops...)
	g.cachedSpec = nil // Invalidate cache
}

// Generate produces the complete OpenAPI 3.0 specification.
func (g *Generator) Generate() *openapi3.T {
	g.mu.RLock()
	if g.cachedSpec != nil {
		spec := g.cachedSpec
		g.mu.RUnlock()
		return spec
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if g.cachedSpec != nil {
		return g.cachedSpec
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Servers: make(openapi3.Servers, 0, len(g.servers)),
		Paths:   openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}

	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: url})
	}

	b := &schemaBuilder{schemas: spec.Components.Schemas}
	errorRef := b.errorSchema(g.errorModel)

	for _, op := range g.operations {
		item := spec.Paths.Value(op.Path)
		if item == nil {
			item = &openapi3.PathItem{Parameters: pathParameters(op.Path)}
			spec.Paths.Set(op.Path, item)
		}
		item.SetOperation(strings.ToUpper(op.Method), b.operation(op, errorRef))
	}

	g.cachedSpec = spec
	return spec
}

// Handler returns an HTTP handler that serves the OpenAPI specification.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := g.Generate()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		if err := json.NewEncoder(w).Encode(spec); err != nil {
			http.Error(w, "Failed to encode OpenAPI spec", http.StatusInternalServerError)
		}
	}
}

// =============================================================================
// Operation Generation
// =============================================================================

func (b *schemaBuilder) operation(op Operation, errorRef *openapi3.SchemaRef) *openapi3.Operation {
	out := &openapi3.Operation{
		OperationID: op.ID,
		Summary:     op.Summary,
		Responses:   openapi3.NewResponsesWithCapacity(len(op.Errors) + 1),
	}
	if op.Tag != "" {
		out.Tags = []string{op.Tag}
	}

	for _, q := range op.Query {
		typ := q.Type
		if typ == "" {
			typ = "string"
		}
		out.Parameters = append(out.Parameters, &openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:        q.Name,
				In:          openapi3.ParameterInQuery,
				Description: q.Description,
				Schema:      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}}},
			},
		})
	}

	if op.Request != nil {
		out.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().
				WithRequired(true).
				WithJSONSchemaRef(b.schemaFor(reflect.TypeOf(op.Request))),
		}
	}

	status := op.Status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := op.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	success := openapi3.NewResponse().WithDescription(http.StatusText(status))
	if op.Response != nil {
		success.WithContent(openapi3.NewContentWithSchemaRef(b.schemaFor(reflect.TypeOf(op.Response)), []string{contentType}))
	} else if contentType != "application/json" {
		success.WithContent(openapi3.NewContentWithSchema(openapi3.NewStringSchema(), []string{contentType}))
	}
	out.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: success})

	for _, code := range op.Errors {
		resp := openapi3.NewResponse().
			WithDescription(http.StatusText(code)).
			WithJSONSchemaRef(errorRef)
		out.Responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{Value: resp})
	}

	return out
}

// pathParameters declares every {name} segment of path as a required string.
func pathParameters(path string) openapi3.Parameters {
	var params openapi3.Parameters
	for _, seg := range strings.Split(path, "/") {
		if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
			continue
		}
		params = append(params, &openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:     strings.Trim(seg, "{}"),
				In:       openapi3.ParameterInPath,
				Required: true,
				Schema:   &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
			},
		})
	}
	return params
}

// =============================================================================
// Schema Generation
// =============================================================================

// schemaBuilder turns Go types into component schemas. Named structs become
// components referenced by name.
type schemaBuilder struct {
	schemas openapi3.Schemas
}

func (b *schemaBuilder) errorSchema(model any) *openapi3.SchemaRef {
	if model != nil {
		return b.schemaFor(reflect.TypeOf(model))
	}
	b.schemas["Error"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
				"code":  &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
			},
		},
	}
	return openapi3.NewSchemaRef("#/components/schemas/Error", nil)
}

// schemaFor returns a schema reference for t, registering named structs as
// components.
func (b *schemaBuilder) schemaFor(t reflect.Type) *openapi3.SchemaRef {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t == reflect.TypeOf(time.Time{}) || t.Name() == "" {
		return b.goTypeToSchema(t)
	}

	name := t.Name()
	if _, ok := b.schemas[name]; !ok {
		// Reserve the name first so self-referencing types terminate.
		b.schemas[name] = &openapi3.SchemaRef{Value: &openapi3.Schema{}}
		b.schemas[name] = b.extractSchema(t)
	}
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

// extractSchema extracts an OpenAPI schema from a Go struct.
func (b *schemaBuilder) extractSchema(t reflect.Type) *openapi3.SchemaRef {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		// Skip unexported fields
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		optional := field.Type.Kind() == reflect.Ptr
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					optional = true
				}
			}
		}

		schema.Properties[name] = b.fieldSchema(field.Type)
		if !optional {
			schema.Required = append(schema.Required, name)
		}
	}
	sort.Strings(schema.Required)

	return &openapi3.SchemaRef{Value: schema}
}

func (b *schemaBuilder) fieldSchema(t reflect.Type) *openapi3.SchemaRef {
	if t.Kind() == reflect.Ptr {
		ref := b.fieldSchema(t.Elem())
		if ref.Value != nil {
			ref.Value.Nullable = true
		}
		return ref
	}
	if t.Kind() == reflect.Struct {
		return b.schemaFor(t)
	}
	return b.goTypeToSchema(t)
}

// goTypeToSchema converts a Go type to an OpenAPI schema.
func (b *schemaBuilder) goTypeToSchema(t reflect.Type) *openapi3.SchemaRef {
	switch t.Kind() {
	case reflect.String:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}}

	case reflect.Int64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}

	case reflect.Float32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "float"}}

	case reflect.Float64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "double"}}

	case reflect.Bool:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}

	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: b.fieldSchema(t.Elem()),
			},
		}

	case reflect.Map:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:                 &openapi3.Types{"object"},
				AdditionalProperties: openapi3.AdditionalProperties{Schema: b.fieldSchema(t.Elem())},
			},
		}

	case reflect.Ptr:
		return b.fieldSchema(t)

	case reflect.Struct:
		if t == reflect.TypeOf(time.Time{}) {
			return &openapi3.SchemaRef{
				Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"},
			}
		}
		return b.extractSchema(t)

	default:
		// Unknown type, return generic object
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
}
