package grpc

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/mindcare/realtime-service/internal/adapters/config"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/contextkeys"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

const apiKeyMetadata = "x-api-key"

// NotificationHandler serves Dispatch by handing requests to the dispatcher.
type NotificationHandler struct {
	dispatcher domain.NotificationDispatcher
	logger     domain.Logger
}

var _ NotificationServiceServer = (*NotificationHandler)(nil)

func NewNotificationHandler(dispatcher domain.NotificationDispatcher, logger domain.Logger) *NotificationHandler {
	return &NotificationHandler{dispatcher: dispatcher, logger: logger}
}

func (h *NotificationHandler) Dispatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ctx = context.WithValue(ctx, contextkeys.SubsystemKey, "grpc")
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 && ids[0] != "" {
			ctx = context.WithValue(ctx, contextkeys.RequestIDKey, ids[0])
		}
	}

	data, err := in.MarshalJSON()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "request is not valid JSON: %v", err)
	}
	req, err := domain.DecodeNotificationRequest(data)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	n, result, err := h.dispatcher.Dispatch(ctx, req)
	if err != nil {
		if domain.IsProtocolViolation(err) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		h.logger.Error(ctx, "gRPC notification dispatch failed", "error", err.Error())
		return nil, status.Error(codes.Internal, "dispatch failed")
	}
	h.logger.Debug(ctx, "Notification dispatched over gRPC", "notification_id", n.ID, "result", result.String())

	out, err := structpb.NewStruct(map[string]any{
		"notification_id": n.ID,
		"result":          result.String(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// APIKeyInterceptor rejects calls whose x-api-key metadata does not match
// auth.secret_token. An empty secret disables the check.
func APIKeyInterceptor(cfgProvider config.Provider) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		secret := cfgProvider.Get().Auth.SecretToken
		if secret == "" {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		keys := md.Get(apiKeyMetadata)
		if len(keys) == 0 || subtle.ConstantTimeCompare([]byte(keys[0]), []byte(secret)) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid API key")
		}
		return handler(ctx, req)
	}
}

// CallLogInterceptor logs every unary call with its method, status code and duration.
func CallLogInterceptor(logger domain.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		if code == codes.Internal || code == codes.Unknown {
			logger.Warn(ctx, "gRPC call failed", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start).String())
		} else {
			logger.Debug(ctx, "gRPC call completed", "method", info.FullMethod, "code", code.String(), "duration", time.Since(start).String())
		}
		return resp, err
	}
}
