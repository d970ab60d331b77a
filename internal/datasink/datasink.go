package datasink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nerrad567/hnode2-datasink/internal/dispatch"
)

// DeviceType identifies data sink devices in the HNode2 framework.
const DeviceType = "hnode2-datasink-device"

// DispatchID names the data sink endpoint set when registered with a device.
const DispatchID = "hnode2DataSink"

// Operation IDs served by the data sink.
const (
	OpGetStatus        = "getStatus"
	OpGetLoggingStatus = "getLoggingStatus"
	OpSetLoggingConfig = "setLoggingConfig"
	OpGetLogEntries    = "getLogEntries"
	OpAddLogEntries    = "addLogEntries"
)

// LogEntriesPath is the collection new log entries are created under.
const LogEntriesPath = "/hnode2/datasink/logging/log"

// overallStatusOK is the only status the device reports.
const overallStatusOK = "OK"

// Status is the body of getStatus.
type Status struct {
	OverallStatus string `json:"overallStatus"`
}

// Logger defines the logging interface used by the handlers.
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

// Handlers serves the data sink operations.
type Handlers struct {
	backend LogBackend
	logger  Logger
}

// NewHandlers creates the data sink handlers on top of backend.
// A nil backend means Unbacked.
func NewHandlers(backend LogBackend) *Handlers {
	if backend == nil {
		backend = Unbacked{}
	}
	return &Handlers{backend: backend, logger: noopLogger{}}
}

// SetLogger sets the logger for the handlers.
func (h *Handlers) SetLogger(logger Logger) {
	h.logger = logger
}

// Register binds every data sink operation ID on d.
func (h *Handlers) Register(d *dispatch.Dispatcher) {
	d.HandleFunc(OpGetStatus, h.getStatus)
	d.HandleFunc(OpGetLoggingStatus, h.getLoggingStatus)
	d.HandleFunc(OpSetLoggingConfig, h.setLoggingConfig)
	d.HandleFunc(OpGetLogEntries, h.getLogEntries)
	d.HandleFunc(OpAddLogEntries, h.addLogEntries)
}

// NewDispatcher returns a dispatcher serving the data sink operations.
func NewDispatcher(backend LogBackend, logger Logger) *dispatch.Dispatcher {
	h := NewHandlers(backend)
	d := dispatch.New()
	if logger != nil {
		h.SetLogger(logger)
		d.SetLogger(logger)
	}
	h.Register(d)
	return d
}

func (h *Handlers) getStatus(context.Context, dispatch.Operation) (dispatch.Result, error) {
	return jsonResult(Status{OverallStatus: overallStatusOK}), nil
}

func (h *Handlers) getLoggingStatus(ctx context.Context, _ dispatch.Operation) (dispatch.Result, error) {
	status, err := h.backend.Status(ctx)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("reading logging status: %w", err)
	}
	if status == nil {
		status = []any{}
	}
	return jsonResult(status), nil
}

func (h *Handlers) setLoggingConfig(ctx context.Context, op dispatch.Operation) (dispatch.Result, error) {
	body, res, err := readBody(op)
	if body == nil {
		return res, err
	}

	h.logger.Debug("logging config received", "bytes", len(body))
	if err := h.backend.Configure(ctx, body); err != nil {
		return dispatch.Result{}, fmt.Errorf("applying logging config: %w", err)
	}
	return dispatch.Result{Status: http.StatusOK}, nil
}

func (h *Handlers) getLogEntries(ctx context.Context, _ dispatch.Operation) (dispatch.Result, error) {
	entries, err := h.backend.Entries(ctx)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("reading log entries: %w", err)
	}
	if entries == nil {
		entries = map[string]any{}
	}
	return jsonResult(entries), nil
}

func (h *Handlers) addLogEntries(ctx context.Context, op dispatch.Operation) (dispatch.Result, error) {
	body, res, err := readBody(op)
	if body == nil {
		return res, err
	}

	id, err := h.backend.Append(ctx, body)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("appending log entries: %w", err)
	}
	h.logger.Debug("log entries received", "bytes", len(body), "id", id)

	return dispatch.Result{
		Status:   http.StatusCreated,
		Location: LogEntriesPath + "/" + id,
	}, nil
}

// jsonResult is the 200 chunked JSON response shared by the read operations.
func jsonResult(body any) dispatch.Result {
	return dispatch.Result{
		Status:      http.StatusOK,
		ContentType: dispatch.ContentTypeJSON,
		Chunked:     true,
		Body:        body,
	}
}

// readBody reads the whole request body. On failure body is nil and the
// returned result or error is what the handler should return: an
// oversized body becomes 413, anything else an error.
func readBody(op dispatch.Operation) ([]byte, dispatch.Result, error) {
	body, err := io.ReadAll(op.Body())
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dispatch.Result{Status: http.StatusRequestEntityTooLarge}, nil
		}
		return nil, dispatch.Result{}, fmt.Errorf("reading request body: %w", err)
	}
	if body == nil {
		body = []byte{}
	}
	return body, dispatch.Result{}, nil
}
