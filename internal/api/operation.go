package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/hnode2-datasink/internal/dispatch"
	"github.com/nerrad567/hnode2-datasink/internal/hnode"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/influxdb"
)

// httpOperation carries one HTTP request through a dispatcher.
//
// It is used by a single handler goroutine and is not safe for
// concurrent use.
type httpOperation struct {
	w http.ResponseWriter
	r *http.Request

	contentType string
	location    string
	chunked     bool
	status      int

	sent       bool
	sentStatus int
}

func newHTTPOperation(w http.ResponseWriter, r *http.Request) *httpOperation {
	return &httpOperation{w: w, r: r}
}

func (o *httpOperation) Body() io.Reader {
	if o.r.Body == nil {
		return http.NoBody
	}
	return o.r.Body
}

func (o *httpOperation) SetContentType(contentType string) { o.contentType = contentType }
func (o *httpOperation) SetChunked(chunked bool)           { o.chunked = chunked }
func (o *httpOperation) SetLocation(location string)       { o.location = location }
func (o *httpOperation) SetStatus(status int)              { o.status = status }

// Send writes the response. A chunked response flushes its headers before
// the body so the body goes out with chunked transfer encoding; any other
// response carries an exact Content-Length.
func (o *httpOperation) Send(body []byte) error {
	if o.sent {
		return dispatch.ErrAlreadySent
	}
	o.sent = true

	status := o.status
	if status == 0 {
		status = http.StatusOK
	}
	o.sentStatus = status

	h := o.w.Header()
	if o.contentType != "" && body != nil {
		h.Set("Content-Type", o.contentType)
	}
	if o.location != "" {
		h.Set("Location", o.location)
	}

	if !o.chunked || len(body) == 0 {
		h.Set("Content-Length", strconv.Itoa(len(body)))
		o.w.WriteHeader(status)
		if len(body) == 0 {
			return nil
		}
		_, err := o.w.Write(body)
		return err
	}

	rc := http.NewResponseController(o.w)
	o.w.WriteHeader(status)
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := o.w.Write(body); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// operationHandler serves one resolved operation of an endpoint set.
func (s *Server) operationHandler(ep hnode.Endpoint, opID string) http.HandlerFunc {
	logger := s.logger.With("dispatch_id", ep.DispatchID, "operation", opID)

	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		op := newHTTPOperation(w, r)

		if err := ep.Dispatcher.Dispatch(r.Context(), opID, op); err != nil {
			logger.Warn("sending operation response", "error", err, "request_id", requestIDFrom(r.Context()))
		}
		if !op.sent {
			logger.Error("operation finished without a response", "request_id", requestIDFrom(r.Context()))
			op.SetStatus(http.StatusInternalServerError)
			op.Send(nil) //nolint:errcheck // Nothing left to report to
		}

		elapsed := time.Since(start)
		s.metrics.ObserveOperation(ep.DispatchID, opID, op.sentStatus, elapsed)
		if s.telemetry != nil {
			id := s.device.Identity()
			s.telemetry.WriteOperation(influxdb.OperationSample{
				DeviceType: id.DeviceType,
				Instance:   id.Instance,
				Operation:  opID,
				Status:     op.sentStatus,
				Duration:   elapsed,
			})
		}
	}
}
