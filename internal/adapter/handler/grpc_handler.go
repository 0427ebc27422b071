package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

type GRPCHandler struct {
	orders OrderUseCase
	logger *zap.Logger
}

func NewGRPCHandler(orders OrderUseCase, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{orders: orders, logger: logger}
}

// Register attaches OrderService and the health service to s.
func (h *GRPCHandler) Register(s *grpc.Server, checks ...HealthCheck) *HealthServer {
	RegisterOrderServiceServer(s, h)

	hs := NewHealthServer(h.logger, checks...)
	grpc_health_v1.RegisterHealthServer(s, hs)
	return hs
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*ReservationBody, error) {
	res, err := h.orders.CreateOrder(ctx, domain.OrderIntent{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		ItemID:    req.ItemID,
		PromoID:   req.PromoID,
		Amount:    req.Amount,
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toReservationBody(res), nil
}

func (h *GRPCHandler) GetReservation(ctx context.Context, req *GetReservationRequest) (*ReservationBody, error) {
	res, err := h.orders.GetReservation(ctx, req.Token)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toReservationBody(res), nil
}

func (h *GRPCHandler) GetAvailableStock(ctx context.Context, req *GetAvailableStockRequest) (*StockReply, error) {
	stock, err := h.orders.GetItemStock(ctx, req.ItemID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &StockReply{ItemID: stock.ItemID, Available: stock.Available, SoldOut: stock.SoldOut}, nil
}

func (h *GRPCHandler) toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrStockExhausted):
		return status.Error(codes.ResourceExhausted, "sold out")
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, "duplicate request")
	case errors.Is(err, domain.ErrLedgerEntryNotFound), errors.Is(err, domain.ErrItemNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, domain.ErrCacheUnavailable):
		return status.Error(codes.Unavailable, "temporarily unavailable")
	}
	h.logger.Error("RPC failed", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}
