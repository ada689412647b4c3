package api

import (
	"context"
	"errors"

	"github.com/matheus3301/convo/internal/rpc"
	"github.com/matheus3301/convo/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	grpcstatus "google.golang.org/grpc/status"
)

// AccountStore looks up the caller's account.
type AccountStore interface {
	GetAccount(did string) (*store.Account, error)
}

type actorKey struct{}

func withActor(ctx context.Context, a *store.Account) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// actorFrom returns the account the interceptor authenticated.
func actorFrom(ctx context.Context) (*store.Account, error) {
	a, ok := ctx.Value(actorKey{}).(*store.Account)
	if !ok {
		return nil, grpcstatus.Error(codes.Unauthenticated, "no actor")
	}
	return a, nil
}

// UnaryInterceptor resolves the convo-actor header to an account. Calls to
// rpc.PublicMethods pass through unauthenticated.
func UnaryInterceptor(accounts AccountStore, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if rpc.PublicMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		did := rpc.ActorFromIncoming(ctx)
		if did == "" {
			logAuthFailure(logger, ctx, "missing actor", info.FullMethod)
			return nil, grpcstatus.Error(codes.Unauthenticated, "missing actor")
		}
		a, err := accounts.GetAccount(did)
		if errors.Is(err, store.ErrNotFound) {
			logAuthFailure(logger, ctx, "unknown actor", info.FullMethod, zap.String("did", did))
			return nil, grpcstatus.Errorf(codes.Unauthenticated, "unknown actor %q", did)
		}
		if err != nil {
			return nil, toStatus(err, "resolve actor")
		}
		return handler(withActor(ctx, a), req)
	}
}

func logAuthFailure(logger *zap.Logger, ctx context.Context, reason, method string, fields ...zap.Field) {
	fields = append(fields, zap.String("reason", reason), zap.String("method", method))
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		fields = append(fields, zap.String("peer_addr", p.Addr.String()))
	}
	logger.Warn("auth failure", fields...)
}
