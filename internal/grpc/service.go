package grpc

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ledger.v1.LedgerService"

// CallerIDHeader carries the authenticated user id, set by a trusted gateway.
const CallerIDHeader = "x-caller-id"

// LedgerService is the server API for ledger.v1.LedgerService.
type LedgerService interface {
	Deposit(context.Context, *DepositRequest) (*ReceiptResponse, error)
	Withdraw(context.Context, *WithdrawRequest) (*ReceiptResponse, error)
	Transfer(context.Context, *TransferRequest) (*TransferResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*BalanceResponse, error)
	GetHistory(context.Context, *GetHistoryRequest) (*HistoryResponse, error)
	GetStatement(context.Context, *GetStatementRequest) (*StatementResponse, error)
}

// RegisterLedgerService registers srv with a gRPC server.
func RegisterLedgerService(s grpc.ServiceRegistrar, srv LedgerService) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerService)(nil),
	Methods: []grpc.MethodDesc{
		unary("Deposit", LedgerService.Deposit),
		unary("Withdraw", LedgerService.Withdraw),
		unary("Transfer", LedgerService.Transfer),
		unary("GetBalance", LedgerService.GetBalance),
		unary("GetHistory", LedgerService.GetHistory),
		unary("GetStatement", LedgerService.GetStatement),
	},
	Streams: []grpc.StreamDesc{},
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](method string, call func(LedgerService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerService), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LedgerServiceClient is the client API for ledger.v1.LedgerService.
type LedgerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewLedgerServiceClient creates a client on top of cc.
func NewLedgerServiceClient(cc grpc.ClientConnInterface) *LedgerServiceClient {
	return &LedgerServiceClient{cc: cc}
}

// WithCallerID returns a context that sends id as the caller of every call.
func WithCallerID(ctx context.Context, id uuid.UUID) context.Context {
	return metadata.AppendToOutgoingContext(ctx, CallerIDHeader, id.String())
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerServiceClient) Deposit(ctx context.Context, in *DepositRequest, opts ...grpc.CallOption) (*ReceiptResponse, error) {
	return invoke[ReceiptResponse](ctx, c.cc, "Deposit", in, opts)
}

func (c *LedgerServiceClient) Withdraw(ctx context.Context, in *WithdrawRequest, opts ...grpc.CallOption) (*ReceiptResponse, error) {
	return invoke[ReceiptResponse](ctx, c.cc, "Withdraw", in, opts)
}

func (c *LedgerServiceClient) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error) {
	return invoke[TransferResponse](ctx, c.cc, "Transfer", in, opts)
}

func (c *LedgerServiceClient) GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	return invoke[BalanceResponse](ctx, c.cc, "GetBalance", in, opts)
}

func (c *LedgerServiceClient) GetHistory(ctx context.Context, in *GetHistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, c.cc, "GetHistory", in, opts)
}

func (c *LedgerServiceClient) GetStatement(ctx context.Context, in *GetStatementRequest, opts ...grpc.CallOption) (*StatementResponse, error) {
	return invoke[StatementResponse](ctx, c.cc, "GetStatement", in, opts)
}
