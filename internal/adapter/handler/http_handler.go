package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

type HTTPHandler struct {
	orders OrderUseCase
	checks []HealthCheck
	logger *zap.Logger
}

type CreateOrderHTTPRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	ItemID    string `json:"item_id"`
	PromoID   string `json:"promo_id"`
	Amount    int64  `json:"amount"`
}

type RestockHTTPRequest struct {
	ItemID string `json:"item_id"`
	Amount int64  `json:"amount"`
}

type OrderHTTPResponse struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message"`
	Reservation *ReservationBody `json:"reservation,omitempty"`
}

type StockHTTPResponse struct {
	ItemID    string `json:"item_id"`
	Available int64  `json:"available"`
	SoldOut   bool   `json:"sold_out"`
}

func NewHTTPHandler(orders OrderUseCase, logger *zap.Logger, checks ...HealthCheck) *HTTPHandler {
	return &HTTPHandler{orders: orders, checks: checks, logger: logger}
}

// Register adds the API routes to mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/{token}", h.GetReservation)
	mux.HandleFunc("GET /api/stock/{itemID}", h.GetStock)
	mux.HandleFunc("POST /api/admin/restock", h.Restock)
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, OrderHTTPResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	res, err := h.orders.CreateOrder(r.Context(), domain.OrderIntent{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		ItemID:    req.ItemID,
		PromoID:   req.PromoID,
		Amount:    req.Amount,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status, message := http.StatusAccepted, "stock reserved, order pending"
	switch {
	case res.Duplicate:
		status, message = http.StatusOK, "duplicate request"
	case res.Status == domain.LedgerStatusCommitted:
		status, message = http.StatusCreated, "order placed successfully"
	}

	writeJSON(w, status, OrderHTTPResponse{
		Success:     true,
		Message:     message,
		Reservation: toReservationBody(res),
	})
}

func (h *HTTPHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.orders.GetReservation(r.Context(), r.PathValue("token"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, OrderHTTPResponse{
		Success:     true,
		Message:     string(res.Status),
		Reservation: toReservationBody(res),
	})
}

func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.orders.GetItemStock(r.Context(), r.PathValue("itemID"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StockHTTPResponse{
		ItemID:    stock.ItemID,
		Available: stock.Available,
		SoldOut:   stock.SoldOut,
	})
}

func (h *HTTPHandler) Restock(w http.ResponseWriter, r *http.Request) {
	var req RestockHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, OrderHTTPResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	available, err := h.orders.Restock(r.Context(), req.ItemID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StockHTTPResponse{ItemID: req.ItemID, Available: available})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	result := map[string]string{"status": "ok"}
	status := http.StatusOK
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			h.logger.Error("Health check failed", zap.String("dependency", c.Name), zap.Error(err))
			result[c.Name] = "down"
			result["status"] = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		result[c.Name] = "up"
	}

	writeJSON(w, status, result)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, domain.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrStockExhausted):
		status, message = http.StatusGone, "sold out"
	case errors.Is(err, domain.ErrDuplicateRequest):
		status, message = http.StatusConflict, "duplicate request"
	case errors.Is(err, domain.ErrLedgerEntryNotFound), errors.Is(err, domain.ErrItemNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrCacheUnavailable):
		status, message = http.StatusServiceUnavailable, "temporarily unavailable"
	default:
		h.logger.Error("Request failed", zap.Error(err))
	}

	writeJSON(w, status, OrderHTTPResponse{
		Success: false,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
