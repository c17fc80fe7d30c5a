package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/makeabledk/firebasevision/internal/observe"
	"github.com/makeabledk/firebasevision/internal/resilience"
	"github.com/makeabledk/firebasevision/pkg/capture"
	"github.com/makeabledk/firebasevision/pkg/geometry"
	"github.com/makeabledk/firebasevision/pkg/pipeline"
	"github.com/makeabledk/firebasevision/pkg/types"
)

// Frame metadata headers of POST /frames.
const (
	HeaderFrameWidth    = "X-Frame-Width"
	HeaderFrameHeight   = "X-Frame-Height"
	HeaderFrameRotation = "X-Frame-Rotation"
)

type errorBody struct {
	Error string `json:"error"`
}

type stateBody struct {
	State       string                     `json:"state"`
	Owner       string                     `json:"owner"`
	Error       string                     `json:"error,omitempty"`
	Zoom        *geometry.ZoomState        `json:"zoom,omitempty"`
	ZoomPercent int                        `json:"zoom_percent"`
	Fit         *geometry.Fit              `json:"fit,omitempty"`
	Origin      *types.Point               `json:"origin,omitempty"`
	Pipeline    *pipeline.GateStats        `json:"pipeline,omitempty"`
	Detector    []resilience.BreakerStatus `json:"detector,omitempty"`
	Permission  *permissionStatus          `json:"permission,omitempty"`
	Controllers []uuid.UUID                `json:"controllers,omitempty"`
}

type frameBody struct {
	Accepted bool              `json:"accepted"`
	Controls *capture.Controls `json:"controls,omitempty"`
}

type permissionStatus struct {
	Pending int `json:"pending"`
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	switch action {
	case "activate":
		s.cfg.Owner.Activate()
	case "deactivate":
		s.cfg.Owner.Deactivate()
	case "destroy":
		s.cfg.Owner.Destroy()
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown lifecycle action %q", action))
		return
	}
	observe.Logger(r.Context()).Info("owner lifecycle signal", "action", action)
	writeJSON(w, http.StatusAccepted, s.state())
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Permission == nil {
		writeError(w, http.StatusConflict, errors.New("permission is not prompt driven"))
		return
	}
	var req struct {
		Granted *bool `json:"granted"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Granted == nil {
		writeError(w, http.StatusBadRequest, errors.New(`"granted" is required`))
		return
	}
	n := s.cfg.Permission.Resolve(*req.Granted)
	observe.Logger(r.Context()).Info("permission resolved", "granted", *req.Granted, "waiters", n)
	writeJSON(w, http.StatusOK, map[string]any{"granted": *req.Granted, "resolved": n})
}

// ── Frames and touch ────────────────────────────────────────────────────────

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Frames == nil {
		writeError(w, http.StatusConflict, errors.New("capture device does not accept pushed frames"))
		return
	}
	meta, err := frameMetadata(r.Header)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("empty frame"))
		return
	}

	body := frameBody{Accepted: s.cfg.Frames.Offer(types.Frame{Data: data, Metadata: meta, CapturedAt: time.Now()})}
	if s.cfg.Controls != nil {
		c := s.cfg.Controls.Controls()
		body.Controls = &c
	}
	writeJSON(w, http.StatusAccepted, body)
}

// frameMetadata parses the frame headers. Rotation defaults to zero.
func frameMetadata(h http.Header) (types.FrameMetadata, error) {
	var meta types.FrameMetadata
	var err error
	if meta.Width, err = intHeader(h, HeaderFrameWidth, true); err != nil {
		return meta, err
	}
	if meta.Height, err = intHeader(h, HeaderFrameHeight, true); err != nil {
		return meta, err
	}
	rot, err := intHeader(h, HeaderFrameRotation, false)
	if err != nil {
		return meta, err
	}
	meta.Rotation = types.Rotation(rot)
	if err := meta.Validate(); err != nil {
		return meta, err
	}
	return meta, nil
}

func intHeader(h http.Header, name string, required bool) (int, error) {
	v := h.Get(name)
	if v == "" {
		if required {
			return 0, fmt.Errorf("missing %s header", name)
		}
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s header %q", name, v)
	}
	return n, nil
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Touch == nil {
		writeError(w, http.StatusConflict, errors.New("touch input not configured"))
		return
	}
	var ev geometry.TouchEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if ev.Action == "" {
		writeError(w, http.StatusBadRequest, errors.New(`"action" is required`))
		return
	}
	s.cfg.Touch.HandleTouch(ev)
	if s.cfg.Zoom == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, zoomBody(s.cfg.Zoom.State()))
}

// ── Camera controls ─────────────────────────────────────────────────────────

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Zoom == nil {
		writeError(w, http.StatusConflict, geometry.ErrZoomUnsupported)
		return
	}
	var req struct {
		Level *int `json:"level"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Level == nil {
		writeError(w, http.StatusBadRequest, errors.New(`"level" is required`))
		return
	}

	st, err := s.cfg.Zoom.Set(*req.Level)
	switch {
	case errors.Is(err, geometry.ErrZoomUnsupported):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		observe.Logger(r.Context()).Warn("zoom request failed", "level", *req.Level, "err", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	s.cfg.Metrics.RecordZoom(r.Context(), st.Percent())
	writeJSON(w, http.StatusOK, zoomBody(st))
}

func zoomBody(st geometry.ZoomState) map[string]any {
	return map[string]any{
		"level":     st.Level,
		"max":       st.Max,
		"supported": st.Supported,
		"percent":   st.Percent(),
	}
}

func (s *Server) handleTorch(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Camera == nil {
		writeError(w, http.StatusConflict, capture.ErrUnsupported)
		return
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New(`"enabled" is required`))
		return
	}
	if err := s.cfg.Camera.SetTorch(*req.Enabled); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": *req.Enabled})
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Camera == nil {
		writeError(w, http.StatusConflict, capture.ErrUnsupported)
		return
	}
	var req struct {
		Mode capture.FocusMode `json:"mode"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Mode.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown focus mode %q", req.Mode))
		return
	}
	if err := s.cfg.Camera.SetFocusMode(req.Mode); err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(req.Mode)})
}

func (s *Server) handleControls(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Controls == nil {
		writeError(w, http.StatusConflict, errors.New("capture device applies its own controls"))
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Controls.Controls())
}

func writeControlError(w http.ResponseWriter, err error) {
	if errors.Is(err, capture.ErrUnsupported) {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeError(w, http.StatusBadGateway, err)
}

// ── Read side ───────────────────────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) state() stateBody {
	body := stateBody{
		State: s.cfg.Controller.State().String(),
		Owner: s.cfg.Owner.CurrentState().String(),
	}
	if err := s.cfg.Controller.Err(); err != nil {
		body.Error = err.Error()
	}
	if s.cfg.Zoom != nil {
		st := s.cfg.Zoom.State()
		body.Zoom = &st
		body.ZoomPercent = st.Percent()
	}
	if s.cfg.Geometry != nil {
		if fit, ok := s.cfg.Geometry.Fit(); ok {
			origin := fit.Origin()
			body.Fit, body.Origin = &fit, &origin
		}
	}
	if s.cfg.Stats != nil {
		st := s.cfg.Stats()
		body.Pipeline = &st
	}
	if s.cfg.Breakers != nil {
		body.Detector = s.cfg.Breakers()
	}
	if s.cfg.Permission != nil {
		body.Permission = &permissionStatus{Pending: s.cfg.Permission.Pending()}
	}
	if s.cfg.Controllers != nil {
		body.Controllers = s.cfg.Controllers()
	}
	return body
}

func (s *Server) handleOverlay(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Canvas.Snapshot())
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Detections == nil {
		writeError(w, http.StatusConflict, errors.New("detection log not configured"))
		return
	}
	limit := defaultRecent
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(n, maxRecent)
	}
	recs, err := s.cfg.Detections.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("read detection log", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("detection log unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

// ── Helpers ─────────────────────────────────────────────────────────────────

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}
