package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hnode2-datasink/internal/audit"
	"github.com/nerrad567/hnode2-datasink/internal/devconfig"
	"github.com/nerrad567/hnode2-datasink/internal/endpoint"
	"github.com/nerrad567/hnode2-datasink/internal/hnode"
	"github.com/nerrad567/hnode2-datasink/internal/lifecycle"
)

// auditSourceAPI marks journal entries made through this server.
const auditSourceAPI = "api"

// DeviceInfoResponse is the body of GET /hnode2/device/info.
type DeviceInfoResponse struct {
	hnode.Info
	ConfigState string `json:"configState"`
}

// EndpointResponse describes one registered endpoint set.
type EndpointResponse struct {
	DispatchID string           `json:"dispatchID"`
	Title      string           `json:"title"`
	Routes     []endpoint.Route `json:"routes"`
}

// handleDeviceInfo returns the device identity and configuration state.
func (s *Server) handleDeviceInfo(w http.ResponseWriter, _ *http.Request) {
	info, ok := s.device.Info()
	if !ok {
		id := s.device.Identity()
		info = hnode.Info{
			DeviceType: id.DeviceType,
			Instance:   id.Instance,
			Version:    s.device.Version(),
		}
	}
	writeJSON(w, http.StatusOK, DeviceInfoResponse{
		Info:        info,
		ConfigState: s.lifecycle.State().String(),
	})
}

// handleGetConfig returns the active device configuration.
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.lifecycle.Snapshot()
	if cfg == nil {
		writeUnavailable(w, "configuration not loaded")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handlePutConfig replaces the device configuration.
//
// The new document is applied to the device before it is saved; a
// document the device refuses is never persisted.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		writeBadRequest(w, "reading request body failed")
		return
	}

	cfg, err := devconfig.Decode(data)
	if err != nil {
		s.recordConfigUpdate(r.Context(), ConfigUpdateRejected, nil, err)
		writeBadRequest(w, "invalid configuration document")
		return
	}

	if err := s.lifecycle.Update(r.Context(), cfg); err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrRejected):
			s.recordConfigUpdate(r.Context(), ConfigUpdateRejected, cfg, err)
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, lifecycle.ErrNotLoaded):
			writeUnavailable(w, "configuration not loaded")
		default:
			s.recordConfigUpdate(r.Context(), ConfigUpdateFailed, cfg, err)
			s.logger.Error("updating device configuration", "error", err)
			writeInternalError(w, "saving configuration failed")
		}
		return
	}

	s.recordConfigUpdate(r.Context(), ConfigUpdateApplied, cfg, nil)
	s.logger.Info("device configuration updated", "sections", cfg.SectionIDs())
	writeJSON(w, http.StatusOK, s.lifecycle.Snapshot())
}

// recordConfigUpdate counts an update attempt and, when a journal is
// configured, appends it. A journal failure is logged and otherwise ignored.
func (s *Server) recordConfigUpdate(ctx context.Context, result string, cfg *devconfig.Config, cause error) {
	s.metrics.ObserveConfigUpdate(result)
	if s.audit == nil {
		return
	}

	details := map[string]any{}
	if cfg != nil {
		details["sections"] = cfg.SectionIDs()
	}
	if cause != nil {
		details["error"] = cause.Error()
	}

	id := s.device.Identity()
	if err := s.audit.Create(ctx, &audit.Entry{
		Action:     audit.ActionConfigUpdate,
		DeviceType: id.DeviceType,
		Instance:   id.Instance,
		Result:     result,
		Source:     auditSourceAPI,
		Details:    details,
	}); err != nil {
		s.logger.Warn("recording config update", "error", err)
	}
}

// handleConfigHistory returns the journal of configuration updates.
//
// Query parameters: result, limit, offset.
func (s *Server) handleConfigHistory(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "configuration history is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceType: s.device.Identity().DeviceType,
		Instance:   s.device.Identity().Instance,
		Action:     audit.ActionConfigUpdate,
		Result:     q.Get("result"),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing config history", "error", err)
		writeInternalError(w, "listing configuration history failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListEndpoints lists the registered endpoint sets.
func (s *Server) handleListEndpoints(w http.ResponseWriter, _ *http.Request) {
	eps := s.device.Endpoints()
	out := make([]EndpointResponse, 0, len(eps))
	for _, ep := range eps {
		out = append(out, EndpointResponse{
			DispatchID: ep.DispatchID,
			Title:      ep.Table.Title(),
			Routes:     ep.Table.Routes(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoints": out,
		"count":     len(out),
	})
}

// handleEndpointDocument returns the OpenAPI document of one endpoint set.
func (s *Server) handleEndpointDocument(w http.ResponseWriter, r *http.Request) {
	dispatchID := chi.URLParam(r, "dispatchID")
	for _, ep := range s.device.Endpoints() {
		if ep.DispatchID != dispatchID {
			continue
		}
		doc := ep.Table.Document()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(doc) //nolint:errcheck // Best-effort write to response
		return
	}
	writeNotFound(w, "endpoint set not found")
}
