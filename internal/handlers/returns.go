package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/choocapi/ecommerce-backend/internal/domain"
	"github.com/choocapi/ecommerce-backend/internal/platform/httpx"
	"github.com/choocapi/ecommerce-backend/internal/services"
)

type createReturnRequest struct {
	OrderID   string   `json:"order_id"`
	Reason    string   `json:"reason"`
	ImageURLs []string `json:"image_urls"`
}

// ReturnHandlers exposes the customer-facing return request endpoints.
type ReturnHandlers struct {
	returns services.ReturnService
}

// NewReturnHandlers constructs a new ReturnHandlers instance.
func NewReturnHandlers(returns services.ReturnService) *ReturnHandlers {
	return &ReturnHandlers{returns: returns}
}

// Routes registers the /returns endpoints.
func (h *ReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createReturn)
	r.Get("/", h.listReturns)
	r.Get("/{requestID}", h.getReturn)
}

func (h *ReturnHandlers) createReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createReturnRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	request, err := h.returns.Create(ctx, services.CreateReturnCommand{
		OrderID:   strings.TrimSpace(req.OrderID),
		UserID:    userID,
		Reason:    strings.TrimSpace(req.Reason),
		ImageURLs: req.ImageURLs,
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, returnResponse{Return: buildReturnPayload(request)})
}

func (h *ReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	statuses, ok := parseReturnStatuses(w, r, r.URL.Query()["status"])
	if !ok {
		return
	}

	pagination, ok := parsePagination(w, r)
	if !ok {
		return
	}

	page, err := h.returns.List(ctx, services.ListReturnsQuery{
		UserID:     userID,
		Status:     statuses,
		Pagination: pagination,
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildReturnListResponse(page))
}

func (h *ReturnHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "return request id is required", http.StatusBadRequest))
		return
	}

	request, err := h.returns.Get(ctx, services.GetReturnQuery{RequestID: requestID, UserID: userID})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(request)})
}

type returnResponse struct {
	Return returnPayload `json:"return_request"`
}

type returnListResponse struct {
	Items         []returnPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type returnPayload struct {
	ID          string   `json:"id"`
	OrderID     string   `json:"order_id"`
	UserID      string   `json:"user_id"`
	Reason      string   `json:"reason"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	AdminNote   string   `json:"admin_note,omitempty"`
	Status      string   `json:"status"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
	ApprovedAt  string   `json:"approved_at,omitempty"`
	RejectedAt  string   `json:"rejected_at,omitempty"`
	CompletedAt string   `json:"completed_at,omitempty"`
}

func buildReturnPayload(request domain.ReturnRequest) returnPayload {
	return returnPayload{
		ID:          request.ID,
		OrderID:     request.OrderID,
		UserID:      request.UserID,
		Reason:      request.Reason,
		ImageURLs:   request.ImageURLs,
		AdminNote:   request.AdminNote,
		Status:      string(request.Status),
		CreatedAt:   formatTime(request.CreatedAt),
		UpdatedAt:   formatTime(request.UpdatedAt),
		ApprovedAt:  formatTimePointer(request.ApprovedAt),
		RejectedAt:  formatTimePointer(request.RejectedAt),
		CompletedAt: formatTimePointer(request.CompletedAt),
	}
}

func buildReturnListResponse(page domain.CursorPage[domain.ReturnRequest]) returnListResponse {
	items := make([]returnPayload, 0, len(page.Items))
	for _, request := range page.Items {
		items = append(items, buildReturnPayload(request))
	}
	return returnListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

var validReturnStatuses = map[domain.ReturnStatus]struct{}{
	domain.ReturnStatusPending:   {},
	domain.ReturnStatusApproved:  {},
	domain.ReturnStatusRejected:  {},
	domain.ReturnStatusCompleted: {},
}

func parseReturnStatuses(w http.ResponseWriter, r *http.Request, raw []string) ([]domain.ReturnStatus, bool) {
	filters := parseFilterValues(raw)
	if len(filters) == 0 {
		return nil, true
	}
	statuses := make([]domain.ReturnStatus, 0, len(filters))
	for _, value := range filters {
		status := domain.ReturnStatus(value)
		if _, ok := validReturnStatuses[status]; !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "status filter contains an unknown return status", http.StatusBadRequest))
			return nil, false
		}
		statuses = append(statuses, status)
	}
	return statuses, true
}

func writeReturnError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReturnInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnAlreadyRequested):
		httpx.WriteError(ctx, w, httpx.NewError("return_already_requested", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReturnOrderNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_eligible", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReturnInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("return_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrReturnConflict):
		httpx.WriteError(ctx, w, httpx.NewError("return_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("return_error", "failed to process return request", http.StatusInternalServerError))
	}
}
