package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// LoggingInterceptor logs every call with its code and duration and turns
// a handler panic into codes.Internal.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panic", zap.String("method", info.FullMethod), zap.Any("panic", r), zap.Stack("stack"))
				resp, err = nil, grpcstatus.Error(codes.Internal, "internal error")
			}
			code := grpcstatus.Code(err)
			fields := []zap.Field{
				zap.String("method", info.FullMethod),
				zap.String("code", code.String()),
				zap.Duration("took", time.Since(start)),
			}
			switch code {
			case codes.OK, codes.NotFound, codes.InvalidArgument, codes.AlreadyExists,
				codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
				logger.Debug("rpc", fields...)
			default:
				logger.Warn("rpc failed", append(fields, zap.Error(err))...)
			}
		}()
		return handler(ctx, req)
	}
}
