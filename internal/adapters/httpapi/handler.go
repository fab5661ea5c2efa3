// Package httpapi exposes the warranty service over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"warrantycore/internal/adapters/export"
	"warrantycore/internal/blob"
	"warrantycore/internal/core"
	"warrantycore/pkg/domain"
)

const maxBodyBytes = 1 << 20

// Handler routes the service API. Events and Metrics are optional; their
// routes answer 404 when unset.
type Handler struct {
	Service *core.Service
	Events  http.Handler
	Metrics http.Handler
	Logger  core.Logger

	mux *http.ServeMux
}

// NewHandler constructs a handler over svc.
func NewHandler(svc *core.Service, events, metrics http.Handler, logger core.Logger) *Handler {
	h := &Handler{Service: svc, Events: events, Metrics: metrics, Logger: logger}
	if h.Logger == nil {
		h.Logger = nopLogger{}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("POST /api/products", h.handleRegisterProduct)
	mux.HandleFunc("GET /api/products/{imei}", h.handleGetProduct)
	mux.HandleFunc("GET /api/products/{imei}/warranty", h.handleEvaluateWarranty)
	mux.HandleFunc("POST /api/request", h.handleIntake)
	mux.HandleFunc("GET /api/request/{id}", h.handleGetRequest)
	mux.HandleFunc("GET /api/request/{id}/aggregate", h.handleAggregate)
	mux.HandleFunc("POST /api/request/{id}/report", h.handleArchiveReport)
	mux.HandleFunc("GET /api/request/{id}/report", h.handleLoadReport)
	mux.HandleFunc("GET /api/requests", h.handleListRequests)
	mux.HandleFunc("GET /api/requests/export.xlsx", h.handleExport)
	mux.HandleFunc("POST /api/delivery/update", h.handleLogisticsUpdate)
	mux.HandleFunc("POST /api/repair/update", h.handleRepairUpdate)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	mux.HandleFunc("GET /ws", h.handleEvents)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "service not configured")
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"message": "Warranty Service System API is running"})
}

type warrantyPayload struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Terms     string    `json:"terms"`
}

type productRequest struct {
	IMEI     string           `json:"imei"`
	Name     string           `json:"name"`
	Model    string           `json:"model"`
	Warranty *warrantyPayload `json:"warranty,omitempty"`
}

type productResponse struct {
	Product  domain.Product   `json:"product"`
	Warranty *domain.Warranty `json:"warranty,omitempty"`
}

func (h *Handler) handleRegisterProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.IMEI) == "" {
		writeError(w, http.StatusBadRequest, "imei is required")
		return
	}
	product := domain.Product{IMEI: req.IMEI, Name: req.Name, Model: req.Model}
	if req.Warranty == nil {
		created, _, err := h.Service.RegisterProduct(r.Context(), product)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, productResponse{Product: created})
		return
	}
	if req.Warranty.EndDate.IsZero() {
		writeError(w, http.StatusBadRequest, "warranty end_date is required")
		return
	}
	created, warranty, _, err := h.Service.RegisterCoverage(r.Context(), product, domain.Warranty{
		StartDate: req.Warranty.StartDate,
		EndDate:   req.Warranty.EndDate,
		Terms:     req.Warranty.Terms,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, productResponse{Product: created, Warranty: &warranty})
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.Service.GetProduct(r.Context(), r.PathValue("imei"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (h *Handler) handleEvaluateWarranty(w http.ResponseWriter, r *http.Request) {
	eval, err := h.Service.EvaluateProductWarranty(r.Context(), r.PathValue("imei"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (h *Handler) handleIntake(w http.ResponseWriter, r *http.Request) {
	var req core.IntakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ProductIMEI) == "" {
		writeError(w, http.StatusBadRequest, "product_imei is required")
		return
	}
	created, _, err := h.Service.OnIntake(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.GetServiceRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) handleAggregate(w http.ResponseWriter, r *http.Request) {
	agg, err := h.Service.LoadAggregate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Service.ListServiceRequests(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		want, err := domain.ParseRequestStatus(status)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		filtered := requests[:0]
		for _, req := range requests {
			if req.Status == want {
				filtered = append(filtered, req)
			}
		}
		requests = filtered
	}
	if requests == nil {
		requests = []domain.ServiceRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Service.ListServiceRequests(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	f, err := export.Workbook(requests)
	if err != nil {
		h.Logger.Error("export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	defer func() { _ = f.Close() }()
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=service-requests.xlsx")
	if _, err := f.WriteTo(w); err != nil {
		h.Logger.Warn("export write failed", "error", err)
	}
}

type logisticsUpdateRequest struct {
	RequestID string  `json:"request_id"`
	Status    string  `json:"status"`
	AgentID   *string `json:"agent_id,omitempty"`
}

func (h *Handler) handleLogisticsUpdate(w http.ResponseWriter, r *http.Request) {
	var req logisticsUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := domain.ParseLogisticsStatus(req.Status)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	order, _, err := h.Service.OnLogisticsUpdate(r.Context(), core.LogisticsUpdate{
		RequestID: req.RequestID,
		Status:    status,
		AgentID:   req.AgentID,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "order_id": order.ID, "order": order})
}

type repairUpdateRequest struct {
	RequestID    string  `json:"request_id"`
	Status       string  `json:"status"`
	TechnicianID *string `json:"technician_id,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

func (h *Handler) handleRepairUpdate(w http.ResponseWriter, r *http.Request) {
	var req repairUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status, err := domain.ParseRepairStatus(req.Status)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	repair, _, err := h.Service.OnRepairUpdate(r.Context(), core.RepairUpdate{
		RequestID:    req.RequestID,
		Status:       status,
		TechnicianID: req.TechnicianID,
		Notes:        req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "repair_id": repair.ID, "repair": repair})
}

func (h *Handler) handleArchiveReport(w http.ResponseWriter, r *http.Request) {
	info, err := h.Service.ArchiveServiceReport(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": info})
}

func (h *Handler) handleLoadReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.LoadServiceReport(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.Metrics == nil {
		http.NotFound(w, r)
		return
	}
	h.Metrics.ServeHTTP(w, r)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		http.NotFound(w, r)
		return
	}
	h.Events.ServeHTTP(w, r)
}

// decodeBody reads a JSON body into dst, answering 400 on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid request payload"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeError(w, http.StatusBadRequest, msg)
		return false
	}
	return true
}

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsNotFound(err), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case domain.IsInvalidStatus(err), domain.IsInvalidInput(err):
		return http.StatusBadRequest
	case domain.IsInvalidTransition(err), domain.IsConflict(err):
		return http.StatusConflict
	case domain.IsRuleViolation(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNoBlobStore),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type violationPayload struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Entity   string `json:"entity"`
	EntityID string `json:"entity_id"`
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "status", status, "error", err)
	}
	body := map[string]any{"error": err.Error()}
	if status == http.StatusInternalServerError && domain.IsPersistence(err) {
		body["error"] = "storage failure"
	}
	var rv domain.RuleViolationError
	if errors.As(err, &rv) {
		violations := make([]violationPayload, 0, len(rv.Result.Violations))
		for _, v := range rv.Result.Violations {
			violations = append(violations, violationPayload{
				Rule:     v.Rule,
				Severity: string(v.Severity),
				Message:  v.Message,
				Entity:   string(v.Entity),
				EntityID: v.EntityID,
			})
		}
		body["violations"] = violations
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

