package endpoint

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
)

// ErrInvalidDocument is returned by Parse for documents that cannot be
// turned into an unambiguous table.
var ErrInvalidDocument = errors.New("endpoint: invalid document")

//go:embed datasink_openapi.json
var dataSinkDocument []byte

// verbs maps OpenAPI operation keys to HTTP methods.
var verbs = map[string]string{
	"get":     http.MethodGet,
	"put":     http.MethodPut,
	"post":    http.MethodPost,
	"delete":  http.MethodDelete,
	"patch":   http.MethodPatch,
	"head":    http.MethodHead,
	"options": http.MethodOptions,
	"trace":   http.MethodTrace,
}

// pathItemFields are the non-operation keys allowed in an OpenAPI path item.
var pathItemFields = map[string]bool{
	"$ref":        true,
	"summary":     true,
	"description": true,
	"servers":     true,
	"parameters":  true,
}

// Route is one (path, method) pair of a Table.
type Route struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	OperationID string `json:"operationId"`
	Summary     string `json:"summary,omitempty"`
}

// Table is a parsed, read-only endpoint description.
type Table struct {
	title  string
	routes []Route
	byPath map[string]map[string]string // path -> method -> operation ID
	doc    []byte
}

type document struct {
	OpenAPI string `json:"openapi"`
	Info    struct {
		Title   string `json:"title"`
		Version string `json:"version"`
	} `json:"info"`
	Paths map[string]map[string]json.RawMessage `json:"paths"`
}

type operation struct {
	OperationID string `json:"operationId"`
	Summary     string `json:"summary"`
}

// Parse builds a Table from an OpenAPI 3 JSON document.
//
// Returns ErrInvalidDocument (wrapped) when the document is not JSON, has
// no paths, uses an unknown verb, or has a missing or duplicated
// operation ID.
func Parse(doc []byte) (*Table, error) {
	var d document
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if !strings.HasPrefix(d.OpenAPI, "3.") {
		return nil, fmt.Errorf("%w: unsupported openapi version %q", ErrInvalidDocument, d.OpenAPI)
	}
	if len(d.Paths) == 0 {
		return nil, fmt.Errorf("%w: no paths", ErrInvalidDocument)
	}

	t := &Table{
		title:  d.Info.Title,
		byPath: make(map[string]map[string]string, len(d.Paths)),
		doc:    slices.Clone(doc),
	}
	seen := make(map[string]string)

	for path, item := range d.Paths {
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("%w: path %q must start with /", ErrInvalidDocument, path)
		}
		for key, raw := range item {
			if pathItemFields[key] {
				continue
			}
			method, ok := verbs[strings.ToLower(key)]
			if !ok {
				return nil, fmt.Errorf("%w: unknown verb %q on %s", ErrInvalidDocument, key, path)
			}

			var op operation
			if err := json.Unmarshal(raw, &op); err != nil {
				return nil, fmt.Errorf("%w: %s %s: %w", ErrInvalidDocument, method, path, err)
			}
			if op.OperationID == "" {
				return nil, fmt.Errorf("%w: %s %s has no operationId", ErrInvalidDocument, method, path)
			}
			if prev, dup := seen[op.OperationID]; dup {
				return nil, fmt.Errorf("%w: operationId %q used by %s and %s %s",
					ErrInvalidDocument, op.OperationID, prev, method, path)
			}
			seen[op.OperationID] = method + " " + path

			if t.byPath[path] == nil {
				t.byPath[path] = make(map[string]string)
			}
			t.byPath[path][method] = op.OperationID
			t.routes = append(t.routes, Route{
				Path:        path,
				Method:      method,
				OperationID: op.OperationID,
				Summary:     op.Summary,
			})
		}
	}

	slices.SortFunc(t.routes, func(a, b Route) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return strings.Compare(a.Method, b.Method)
	})
	return t, nil
}

// DataSink returns the table of the embedded data sink document.
var DataSink = sync.OnceValue(func() *Table {
	t, err := Parse(dataSinkDocument)
	if err != nil {
		panic(fmt.Sprintf("embedded data sink document: %v", err))
	}
	return t
})

// Title returns the document title.
func (t *Table) Title() string {
	return t.title
}

// Routes returns every route sorted by path then method.
func (t *Table) Routes() []Route {
	return slices.Clone(t.routes)
}

// Resolve returns the operation ID for method and path.
func (t *Table) Resolve(method, path string) (string, bool) {
	opID, ok := t.byPath[path][strings.ToUpper(method)]
	return opID, ok
}

// Methods returns the methods defined for path, sorted.
func (t *Table) Methods(path string) []string {
	methods := make([]string, 0, len(t.byPath[path]))
	for m := range t.byPath[path] {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// Document returns a copy of the source document.
func (t *Table) Document() []byte {
	return slices.Clone(t.doc)
}
