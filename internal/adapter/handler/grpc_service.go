package handler

import (
	"context"

	"google.golang.org/grpc"
)

const orderServiceName = "flashsale.v1.OrderService"

type CreateOrderRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	ItemID    string `json:"item_id"`
	PromoID   string `json:"promo_id"`
	Amount    int64  `json:"amount"`
}

type GetReservationRequest struct {
	Token string `json:"token"`
}

type GetAvailableStockRequest struct {
	ItemID string `json:"item_id"`
}

type StockReply struct {
	ItemID    string `json:"item_id"`
	Available int64  `json:"available"`
	SoldOut   bool   `json:"sold_out"`
}

// OrderServiceServer is the server API for flashsale.v1.OrderService.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*ReservationBody, error)
	GetReservation(context.Context, *GetReservationRequest) (*ReservationBody, error)
	GetAvailableStock(context.Context, *GetAvailableStockRequest) (*StockReply, error)
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

func unaryHandler[Req, Resp any](method string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + orderServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// OrderServiceDesc describes flashsale.v1.OrderService. Messages travel as
// JSON, so callers must use the "json" content-subtype.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateOrder",
			Handler:    unaryHandler("CreateOrder", OrderServiceServer.CreateOrder),
		},
		{
			MethodName: "GetReservation",
			Handler:    unaryHandler("GetReservation", OrderServiceServer.GetReservation),
		},
		{
			MethodName: "GetAvailableStock",
			Handler:    unaryHandler("GetAvailableStock", OrderServiceServer.GetAvailableStock),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flashsale/v1/order.proto",
}
