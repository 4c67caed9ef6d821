package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"poolguard/internal/dispatch"
	"poolguard/internal/domain"
	"poolguard/internal/state"
	"poolguard/internal/vision"
)

// Handler serves the alert pipeline HTTP API.
// Params: vision client, dispatcher, and logger.
// Returns: mux-attachable request handlers.
type Handler struct {
	classifier *vision.Client
	dispatcher *dispatch.Dispatcher
	listLimit  int
	logger     *slog.Logger
}

// New creates the API handler.
// Params: vision client, dispatcher, default list limit, and logger.
// Returns: initialized handler.
func New(classifier *vision.Client, dispatcher *dispatch.Dispatcher, listLimit int, logger *slog.Logger) *Handler {
	if listLimit <= 0 {
		listLimit = 50
	}
	return &Handler{
		classifier: classifier,
		dispatcher: dispatcher,
		listLimit:  listLimit,
		logger:     logger,
	}
}

// Register attaches all API routes to one mux.
// Params: target mux.
// Returns: none.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/analyze-frame", h.analyzeFrame)
	mux.HandleFunc("POST /api/alerts", h.createAlert)
	mux.HandleFunc("GET /api/alerts", h.listAlerts)
	mux.HandleFunc("PATCH /api/alerts/{id}", h.dismissAlert)
	mux.HandleFunc("POST /api/incidents", h.createIncident)
	mux.HandleFunc("PATCH /api/incidents/{id}", h.resolveIncident)
}

type analyzeFrameRequest struct {
	ImageBase64 string `json:"imageBase64"`
}

// analyzeFrame classifies one posted frame.
// Params: JSON body with imageBase64.
// Returns: 200 with the analysis result; 400 for bad payloads; 502 upstream.
func (h *Handler) analyzeFrame(w http.ResponseWriter, r *http.Request) {
	var req analyzeFrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ImageBase64 == "" {
		writeError(w, http.StatusBadRequest, "imageBase64 is required")
		return
	}

	result, err := h.classifier.Classify(r.Context(), req.ImageBase64)
	if err != nil {
		switch {
		case errors.Is(err, vision.ErrPayloadTooLarge):
			writeError(w, http.StatusBadRequest, "image too large")
		case errors.Is(err, vision.ErrInvalidImage):
			writeError(w, http.StatusBadRequest, "invalid image payload")
		default:
			h.logger.Error("frame classification failed", "error", err)
			writeError(w, http.StatusBadGateway, "classification failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type createAlertRequest struct {
	FacilityID     string             `json:"facility_id"`
	CameraID       string             `json:"camera_id"`
	Severity       domain.Severity    `json:"severity"`
	TriggerType    domain.TriggerType `json:"trigger_type"`
	Description    string             `json:"description"`
	FrameData      *domain.FrameData  `json:"frame_data"`
	ThumbnailURL   string             `json:"thumbnail_url"`
	CreateIncident *bool              `json:"create_incident"`
}

// createAlert persists one alert posted by an external detector.
// Params: JSON alert body; omitted severity defaults to medium, omitted
// trigger_type to distress, create_incident to the configured toggle.
// Returns: 201 with the stored alert; 400 for validation failures.
func (h *Handler) createAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Severity == "" {
		req.Severity = domain.SeverityMedium
	}
	if req.TriggerType == "" {
		req.TriggerType = domain.TriggerDistress
	}

	alert, err := h.dispatcher.CreateAlert(r.Context(), dispatch.AlertRequest{
		FacilityID:     req.FacilityID,
		CameraID:       req.CameraID,
		Severity:       req.Severity,
		TriggerType:    req.TriggerType,
		Description:    req.Description,
		FrameData:      req.FrameData,
		ThumbnailURL:   req.ThumbnailURL,
		CreateIncident: req.CreateIncident,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("alert create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "alert create failed")
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

// listAlerts returns recent alerts for one facility scope.
// Params: facility_id and limit query parameters.
// Returns: 200 with a newest-first alert array.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit := h.listLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	alerts, err := h.dispatcher.ListAlerts(r.Context(), r.URL.Query().Get("facility_id"), limit)
	if err != nil {
		h.logger.Error("alert list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "alert list failed")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

type dismissAlertRequest struct {
	DismissedAt *time.Time `json:"dismissed_at"`
}

// dismissAlert stamps one alert as dismissed.
// Params: alert id path segment; dismissed_at defaults to server time.
// Returns: 200 with the updated alert; 404 for unknown ids.
func (h *Handler) dismissAlert(w http.ResponseWriter, r *http.Request) {
	var req dismissAlertRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	alert, err := h.dispatcher.DismissAlert(r.Context(), r.PathValue("id"), req.DismissedAt)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		h.logger.Error("alert dismiss failed", "error", err)
		writeError(w, http.StatusInternalServerError, "alert dismiss failed")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type createIncidentRequest struct {
	FacilityID string            `json:"facility_id"`
	CameraID   string            `json:"camera_id"`
	Severity   domain.Severity   `json:"severity"`
	FrameData  *domain.FrameData `json:"frame_data"`
}

// createIncident persists one standalone incident.
// Params: JSON incident body.
// Returns: 201 with the stored incident; 400 for validation failures.
func (h *Handler) createIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	incident, err := h.dispatcher.CreateIncident(r.Context(), dispatch.IncidentRequest{
		FacilityID: req.FacilityID,
		CameraID:   req.CameraID,
		Severity:   req.Severity,
		FrameData:  req.FrameData,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("incident create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "incident create failed")
		return
	}
	writeJSON(w, http.StatusCreated, incident)
}

type resolveIncidentRequest struct {
	ResolvedAt *time.Time `json:"resolved_at"`
}

// resolveIncident stamps one incident as resolved.
// Params: incident id path segment; resolved_at defaults to server time.
// Returns: 200 with the updated incident; 404 for unknown ids.
func (h *Handler) resolveIncident(w http.ResponseWriter, r *http.Request) {
	var req resolveIncidentRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	incident, err := h.dispatcher.ResolveIncident(r.Context(), r.PathValue("id"), req.ResolvedAt)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		h.logger.Error("incident resolve failed", "error", err)
		writeError(w, http.StatusInternalServerError, "incident resolve failed")
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

// writeJSON writes one JSON response body.
// Params: response writer, status, and payload.
// Returns: encode failures are silently dropped after headers are sent.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError writes one JSON error body.
// Params: response writer, status, and message.
// Returns: body shaped as {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
