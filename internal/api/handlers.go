/**
 * @description
 * This file contains the HTTP handlers for the sweep-service's operations API.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate engine on the application service bundle, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Engines, models, errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stockloyal/sweep-service/internal/app"
	"github.com/stockloyal/sweep-service/internal/domain"
	"github.com/stockloyal/sweep-service/internal/store"
)

// SweepHandlers holds the application services that handlers will use.
type SweepHandlers struct {
	services *app.Services
	logger   *zap.SugaredLogger
}

// NewSweepHandlers creates a new instance of SweepHandlers.
func NewSweepHandlers(services *app.Services, logger *zap.SugaredLogger) *SweepHandlers {
	return &SweepHandlers{services: services, logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *SweepHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Errorw("failed to encode response", "err", err)
	}
}

func (h *SweepHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps engine errors onto HTTP statuses.
func (h *SweepHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrBatchNotFound),
		errors.Is(err, store.ErrWalletNotFound),
		errors.Is(err, store.ErrMerchantNotFound),
		errors.Is(err, store.ErrBrokerNotFound),
		errors.Is(err, store.ErrCredentialNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrBatchNotStaged),
		errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidSymbol):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Errorw("request failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// optionalUUIDQuery parses an optional uuid query parameter; absence is nil.
func optionalUUIDQuery(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// MarketStatusHandler reports the current market state.
func (h *SweepHandlers) MarketStatusHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.services.Clock.Status(r.Context()))
}

// CreateOrderHandler schedules one order for a member.
func (h *SweepHandlers) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var in app.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.services.Scheduler.CreateScheduledOrder(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// GetOrderHandler fetches one order by id.
func (h *SweepHandlers) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "orderID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	order, err := h.services.Scheduler.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// CancelOrderHandler cancels an order that has not started executing.
func (h *SweepHandlers) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "orderID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	order, err := h.services.Scheduler.CancelOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// ProcessOrdersHandler runs the scheduled-order pipeline immediately.
func (h *SweepHandlers) ProcessOrdersHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.services.Scheduler.ProcessScheduledOrders(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// MemberPositionsHandler proxies a member's brokerage holdings.
func (h *SweepHandlers) MemberPositionsHandler(w http.ResponseWriter, r *http.Request) {
	memberID, err := parseUUIDParam(r, "memberID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid member id")
		return
	}
	broker := r.URL.Query().Get("broker")
	if broker == "" {
		h.writeError(w, http.StatusBadRequest, "broker query parameter is required")
		return
	}
	positions, err := h.services.Scheduler.MemberPositions(r.Context(), memberID, broker)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, positions)
}

// PreviewHandler reports what a prepare run would stage, without writing.
func (h *SweepHandlers) PreviewHandler(w http.ResponseWriter, r *http.Request) {
	merchantID, err := optionalUUIDQuery(r, "merchant_id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid merchant_id")
		return
	}
	result, err := h.services.Prepare.PreviewCounts(r.Context(), merchantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type prepareRequest struct {
	MemberID   *uuid.UUID `json:"member_id,omitempty"`
	MerchantID *uuid.UUID `json:"merchant_id,omitempty"`
}

// PrepareHandler stages a new batch of computed orders.
func (h *SweepHandlers) PrepareHandler(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	result, err := h.services.Prepare.Prepare(r.Context(), req.MemberID, req.MerchantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// BatchStatsHandler aggregates one batch for review.
func (h *SweepHandlers) BatchStatsHandler(w http.ResponseWriter, r *http.Request) {
	batchID, err := parseUUIDParam(r, "batchID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}
	stats, err := h.services.Prepare.Stats(r.Context(), batchID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// BatchDrilldownHandler lists paginated per-member rollups of one batch.
func (h *SweepHandlers) BatchDrilldownHandler(w http.ResponseWriter, r *http.Request) {
	batchID, err := parseUUIDParam(r, "batchID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}
	merchantID, err := optionalUUIDQuery(r, "merchant_id")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid merchant_id")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	filter := domain.DrilldownFilter{
		MerchantID: merchantID,
		Broker:     r.URL.Query().Get("broker"),
		Tier:       r.URL.Query().Get("tier"),
	}

	rollups, err := h.services.Prepare.Drilldown(r.Context(), batchID, page, pageSize, filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rollups)
}

// ApproveBatchHandler promotes a staged batch into live orders.
func (h *SweepHandlers) ApproveBatchHandler(w http.ResponseWriter, r *http.Request) {
	batchID, err := parseUUIDParam(r, "batchID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}
	result, err := h.services.Prepare.Approve(r.Context(), batchID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// DiscardBatchHandler drops a staged batch.
func (h *SweepHandlers) DiscardBatchHandler(w http.ResponseWriter, r *http.Request) {
	batchID, err := parseUUIDParam(r, "batchID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}
	if err := h.services.Prepare.Discard(r.Context(), batchID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.BatchStatusDiscarded)})
}

type sweepRunRequest struct {
	MerchantID *uuid.UUID `json:"merchant_id,omitempty"`
}

// SweepRunHandler executes one sweep dispatch pass.
func (h *SweepHandlers) SweepRunHandler(w http.ResponseWriter, r *http.Request) {
	var req sweepRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	summary, err := h.services.Sweep.Run(r.Context(), req.MerchantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// SweepRunsHandler lists recent sweep run summaries.
func (h *SweepHandlers) SweepRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.services.Sweep.RecentRuns(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, runs)
}

// SweepNotificationsHandler lists the webhook audit rows of one sweep run.
func (h *SweepHandlers) SweepNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	batchID, err := parseUUIDParam(r, "batchID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid sweep batch id")
		return
	}
	notifications, err := h.services.Sweep.Notifications(r.Context(), batchID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, notifications)
}

type journalRunRequest struct {
	MemberIDs []uuid.UUID `json:"member_ids,omitempty"`
}

// JournalRunHandler executes one fund journaling pass.
func (h *SweepHandlers) JournalRunHandler(w http.ResponseWriter, r *http.Request) {
	var req journalRunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	summary, err := h.services.Journal.RunJournal(r.Context(), req.MemberIDs)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// JournalStatusHandler proxies the broker's view of one journal.
func (h *SweepHandlers) JournalStatusHandler(w http.ResponseWriter, r *http.Request) {
	journalID := chi.URLParam(r, "journalID")
	if journalID == "" {
		h.writeError(w, http.StatusBadRequest, "journal id is required")
		return
	}
	journal, err := h.services.Journal.CheckStatus(r.Context(), journalID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, journal)
}
