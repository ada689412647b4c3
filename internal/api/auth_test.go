package api

import (
	"context"
	"errors"
	"testing"

	"github.com/matheus3301/convo/internal/rpc"
	"github.com/matheus3301/convo/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
)

type mockAccounts struct {
	accounts map[string]*store.Account
	err      error
}

func (m *mockAccounts) GetAccount(did string) (*store.Account, error) {
	if m.err != nil {
		return nil, m.err
	}
	if a, ok := m.accounts[did]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func incoming(did string) context.Context {
	if did == "" {
		return context.Background()
	}
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(rpc.ActorHeader, did))
}

func TestUnaryInterceptor(t *testing.T) {
	alice := &store.Account{DID: "did:convo:alice", Handle: "alice"}
	accounts := &mockAccounts{accounts: map[string]*store.Account{alice.DID: alice}}
	intercept := UnaryInterceptor(accounts, zap.NewNop())

	tests := []struct {
		name     string
		method   string
		did      string
		wantCode codes.Code
		wantDID  string
	}{
		{"authenticated", "SendMessage", alice.DID, codes.OK, alice.DID},
		{"missing actor", "SendMessage", "", codes.Unauthenticated, ""},
		{"unknown actor", "GetLog", "did:convo:ghost", codes.Unauthenticated, ""},
		{"public without actor", "CreateAccount", "", codes.OK, ""},
		{"public resolve", "ResolveHandle", "", codes.OK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotDID string
			handler := func(ctx context.Context, _ any) (any, error) {
				if a, err := actorFrom(ctx); err == nil {
					gotDID = a.DID
				}
				return "ok", nil
			}
			info := &grpc.UnaryServerInfo{FullMethod: rpc.FullMethod(tt.method)}
			_, err := intercept(incoming(tt.did), nil, info, handler)
			wantCode(t, err, tt.wantCode)
			if gotDID != tt.wantDID {
				t.Errorf("handler saw actor %q, want %q", gotDID, tt.wantDID)
			}
		})
	}
}

func TestUnaryInterceptorStoreFailure(t *testing.T) {
	intercept := UnaryInterceptor(&mockAccounts{err: errors.New("disk on fire")}, zap.NewNop())
	info := &grpc.UnaryServerInfo{FullMethod: rpc.FullMethod("GetLog")}
	_, err := intercept(incoming("did:convo:alice"), nil, info, func(context.Context, any) (any, error) {
		t.Fatal("handler should not run")
		return nil, nil
	})
	wantCode(t, err, codes.Internal)
}
