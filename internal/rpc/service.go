// Package rpc describes the chat service wire: a gRPC service whose messages
// travel as JSON.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "convo.v1.ChatService"

// ActorHeader is the metadata key carrying the caller's DID.
const ActorHeader = "convo-actor"

// FullMethod returns the gRPC path of a ChatService method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// WithActor attaches the caller's DID to outgoing calls made with ctx.
func WithActor(ctx context.Context, did string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, ActorHeader, did)
}

// ActorFromIncoming returns the DID a caller attached, if any.
func ActorFromIncoming(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(ActorHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}

// ChatServiceServer is the server API for ChatService.
type ChatServiceServer interface {
	CreateAccount(context.Context, *CreateAccountRequest) (*ProfileResponse, error)
	ResolveHandle(context.Context, *ResolveHandleRequest) (*ProfileResponse, error)
	GetConvoForMembers(context.Context, *GetConvoForMembersRequest) (*ConvoResponse, error)
	ListConvos(context.Context, *ListConvosRequest) (*ListConvosResponse, error)
	GetConvo(context.Context, *GetConvoRequest) (*ConvoResponse, error)
	GetMessages(context.Context, *GetMessagesRequest) (*GetMessagesResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*SendMessageResponse, error)
	DeleteMessageForSelf(context.Context, *DeleteMessageForSelfRequest) (*DeleteMessageForSelfResponse, error)
	GetLog(context.Context, *GetLogRequest) (*GetLogResponse, error)
	Block(context.Context, *BlockRequest) (*Empty, error)
	Unblock(context.Context, *BlockRequest) (*Empty, error)
	RequestEmailConfirmation(context.Context, *Empty) (*Empty, error)
	ConfirmEmail(context.Context, *ConfirmEmailRequest) (*Empty, error)
}

// PublicMethods can be called without an actor.
var PublicMethods = map[string]bool{
	FullMethod("CreateAccount"): true,
	FullMethod("ResolveHandle"): true,
}

// ChatServiceDesc is the grpc.ServiceDesc for ChatService.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateAccount", ChatServiceServer.CreateAccount),
		unary("ResolveHandle", ChatServiceServer.ResolveHandle),
		unary("GetConvoForMembers", ChatServiceServer.GetConvoForMembers),
		unary("ListConvos", ChatServiceServer.ListConvos),
		unary("GetConvo", ChatServiceServer.GetConvo),
		unary("GetMessages", ChatServiceServer.GetMessages),
		unary("SendMessage", ChatServiceServer.SendMessage),
		unary("DeleteMessageForSelf", ChatServiceServer.DeleteMessageForSelf),
		unary("GetLog", ChatServiceServer.GetLog),
		unary("Block", ChatServiceServer.Block),
		unary("Unblock", ChatServiceServer.Unblock),
		unary("RequestEmailConfirmation", ChatServiceServer.RequestEmailConfirmation),
		unary("ConfirmEmail", ChatServiceServer.ConfirmEmail),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "convo/v1/chat",
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ChatServiceDesc, srv)
}

func unary[Req, Resp any](name string, call func(ChatServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ChatServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ChatServiceClient is the client API for ChatService.
type ChatServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewChatServiceClient(cc grpc.ClientConnInterface) *ChatServiceClient {
	return &ChatServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ChatServiceClient) CreateAccount(ctx context.Context, in *CreateAccountRequest, opts ...grpc.CallOption) (*ProfileResponse, error) {
	return invoke[ProfileResponse](ctx, c.cc, "CreateAccount", in, opts)
}

func (c *ChatServiceClient) ResolveHandle(ctx context.Context, in *ResolveHandleRequest, opts ...grpc.CallOption) (*ProfileResponse, error) {
	return invoke[ProfileResponse](ctx, c.cc, "ResolveHandle", in, opts)
}

func (c *ChatServiceClient) GetConvoForMembers(ctx context.Context, in *GetConvoForMembersRequest, opts ...grpc.CallOption) (*ConvoResponse, error) {
	return invoke[ConvoResponse](ctx, c.cc, "GetConvoForMembers", in, opts)
}

func (c *ChatServiceClient) ListConvos(ctx context.Context, in *ListConvosRequest, opts ...grpc.CallOption) (*ListConvosResponse, error) {
	return invoke[ListConvosResponse](ctx, c.cc, "ListConvos", in, opts)
}

func (c *ChatServiceClient) GetConvo(ctx context.Context, in *GetConvoRequest, opts ...grpc.CallOption) (*ConvoResponse, error) {
	return invoke[ConvoResponse](ctx, c.cc, "GetConvo", in, opts)
}

func (c *ChatServiceClient) GetMessages(ctx context.Context, in *GetMessagesRequest, opts ...grpc.CallOption) (*GetMessagesResponse, error) {
	return invoke[GetMessagesResponse](ctx, c.cc, "GetMessages", in, opts)
}

func (c *ChatServiceClient) SendMessage(ctx context.Context, in *SendMessageRequest, opts ...grpc.CallOption) (*SendMessageResponse, error) {
	return invoke[SendMessageResponse](ctx, c.cc, "SendMessage", in, opts)
}

func (c *ChatServiceClient) DeleteMessageForSelf(ctx context.Context, in *DeleteMessageForSelfRequest, opts ...grpc.CallOption) (*DeleteMessageForSelfResponse, error) {
	return invoke[DeleteMessageForSelfResponse](ctx, c.cc, "DeleteMessageForSelf", in, opts)
}

func (c *ChatServiceClient) GetLog(ctx context.Context, in *GetLogRequest, opts ...grpc.CallOption) (*GetLogResponse, error) {
	return invoke[GetLogResponse](ctx, c.cc, "GetLog", in, opts)
}

func (c *ChatServiceClient) Block(ctx context.Context, in *BlockRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Block", in, opts)
}

func (c *ChatServiceClient) Unblock(ctx context.Context, in *BlockRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Unblock", in, opts)
}

func (c *ChatServiceClient) RequestEmailConfirmation(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "RequestEmailConfirmation", in, opts)
}

func (c *ChatServiceClient) ConfirmEmail(ctx context.Context, in *ConfirmEmailRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "ConfirmEmail", in, opts)
}
