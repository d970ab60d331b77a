package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"runtime/debug"
	"slices"
)

// ContentTypeJSON is the content type of every encoded Result body.
const ContentTypeJSON = "application/json"

// Operation is one in-flight request as seen by a handler. The transport
// implements it; Send may be called at most once.
type Operation interface {
	// Body returns the request body. It is never nil.
	Body() io.Reader

	SetContentType(contentType string)
	SetChunked(chunked bool)
	SetLocation(location string)
	SetStatus(status int)

	// Send writes the status, headers and body. A second call returns
	// ErrAlreadySent without writing.
	Send(body []byte) error
}

// Result is what a handler wants sent. A nil Body sends no body and no
// content type. A zero Status means 200.
type Result struct {
	Status      int
	ContentType string
	Chunked     bool
	Location    string
	Body        any
}

// Handler serves one operation ID. Handlers read the request through op
// but never call op.Send; the Dispatcher does that.
type Handler interface {
	Serve(ctx context.Context, op Operation) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, op Operation) (Result, error)

// Serve calls f(ctx, op).
func (f HandlerFunc) Serve(ctx context.Context, op Operation) (Result, error) {
	return f(ctx, op)
}

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher routes operation IDs to handlers.
//
// Handlers are registered once at startup; after that the Dispatcher is
// read-only and safe for concurrent use.
type Dispatcher struct {
	handlers map[string]Handler
	logger   Logger
}

// New creates an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Register binds opID to h. It panics on an empty ID, a nil handler, or a
// duplicate registration, all of which are programming errors.
func (d *Dispatcher) Register(opID string, h Handler) {
	if opID == "" {
		panic("dispatch: empty operation ID")
	}
	if h == nil {
		panic("dispatch: nil handler for " + opID)
	}
	if _, exists := d.handlers[opID]; exists {
		panic("dispatch: multiple registrations for " + opID)
	}
	d.handlers[opID] = h
}

// HandleFunc registers a function as the handler for opID.
func (d *Dispatcher) HandleFunc(opID string, f func(ctx context.Context, op Operation) (Result, error)) {
	d.Register(opID, HandlerFunc(f))
}

// OperationIDs returns the registered operation IDs in sorted order.
func (d *Dispatcher) OperationIDs() []string {
	return slices.Sorted(maps.Keys(d.handlers))
}

// Dispatch runs the handler for opID and sends its response.
//
// The only error returned is the one from op.Send; every other failure is
// turned into a response status.
func (d *Dispatcher) Dispatch(ctx context.Context, opID string, op Operation) error {
	h, ok := d.handlers[opID]
	if !ok {
		d.logger.Warn("no handler for operation", "operation", opID)
		op.SetStatus(http.StatusNotImplemented)
		return op.Send(nil)
	}

	res, err := d.serve(ctx, opID, h, op)
	if err != nil {
		d.logger.Error("operation failed", "operation", opID, "error", err)
		return sendInternalError(op)
	}

	var body []byte
	if res.Body != nil {
		body, err = json.Marshal(res.Body)
		if err != nil {
			d.logger.Error("encoding operation response", "operation", opID, "error", err)
			return sendInternalError(op)
		}
	}

	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}

	if body != nil {
		contentType := res.ContentType
		if contentType == "" {
			contentType = ContentTypeJSON
		}
		op.SetContentType(contentType)
	}
	if res.Chunked {
		op.SetChunked(true)
	}
	if res.Location != "" {
		op.SetLocation(res.Location)
	}
	op.SetStatus(status)

	return op.Send(body)
}

// serve runs h, converting a panic into an error.
func (d *Dispatcher) serve(ctx context.Context, opID string, h Handler, op Operation) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic recovered in operation handler",
				"operation", opID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Serve(ctx, op)
}

func sendInternalError(op Operation) error {
	op.SetStatus(http.StatusInternalServerError)
	return op.Send(nil)
}
