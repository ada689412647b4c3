package api

import (
	"context"
	"crypto/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/convo/internal/chat"
	"github.com/matheus3301/convo/internal/rpc"
	"github.com/matheus3301/convo/internal/session"
	"github.com/matheus3301/convo/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
	logPageSize     = 100
	emailTokenTTL   = time.Hour
)

// Service implements rpc.ChatServiceServer on top of the store.
type Service struct {
	db     *store.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ rpc.ChatServiceServer = (*Service)(nil)

// NewService creates the chat service backed by db.
func NewService(db *store.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger, now: time.Now}
}

func pageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}

func (s *Service) CreateAccount(_ context.Context, req *rpc.CreateAccountRequest) (*rpc.ProfileResponse, error) {
	if err := session.ValidateHandle(req.Handle); err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	a := &store.Account{
		DID:         "did:convo:" + uuid.NewString(),
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
		Email:       req.Email,
	}
	if err := s.db.CreateAccount(a); err != nil {
		return nil, toStatus(err, "create account")
	}
	s.logger.Info("account created", zap.String("did", a.DID), zap.String("handle", a.Handle))
	return &rpc.ProfileResponse{Profile: profileOf(a)}, nil
}

func (s *Service) ResolveHandle(_ context.Context, req *rpc.ResolveHandleRequest) (*rpc.ProfileResponse, error) {
	a, err := s.db.GetAccountByHandle(req.Handle)
	if err != nil {
		return nil, toStatus(err, "resolve handle")
	}
	return &rpc.ProfileResponse{Profile: profileOf(a)}, nil
}

func (s *Service) GetConvoForMembers(ctx context.Context, req *rpc.GetConvoForMembersRequest) (*rpc.ConvoResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	members := append([]string{actor.DID}, req.Members...)
	others := 0
	for _, did := range members {
		if _, err := s.db.GetAccount(did); err != nil {
			return nil, toStatus(err, "get member")
		}
		if did != actor.DID {
			others++
		}
	}
	if others == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "a conversation needs another member")
	}
	c, created, err := s.db.GetOrCreateConvo(members)
	if err != nil {
		return nil, toStatus(err, "get convo for members")
	}
	if created {
		s.logger.Info("convo created", zap.String("convo", c.ID), zap.Strings("members", c.Members))
	}
	view, err := s.convoView(c, actor.DID)
	if err != nil {
		return nil, err
	}
	return &rpc.ConvoResponse{Convo: *view}, nil
}

func (s *Service) ListConvos(ctx context.Context, req *rpc.ListConvosRequest) (*rpc.ListConvosResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	limit := pageSize(req.Limit)
	convos, err := s.db.ListConvos(actor.DID, req.Cursor, limit)
	if err != nil {
		return nil, toStatus(err, "list convos")
	}
	resp := &rpc.ListConvosResponse{Convos: make([]chat.ConvoView, 0, len(convos))}
	for i := range convos {
		view, err := s.convoView(&convos[i], actor.DID)
		if err != nil {
			return nil, err
		}
		resp.Convos = append(resp.Convos, *view)
	}
	if len(convos) == limit {
		resp.Cursor = convos[len(convos)-1].Rev
	}
	return resp, nil
}

func (s *Service) GetConvo(ctx context.Context, req *rpc.GetConvoRequest) (*rpc.ConvoResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.memberConvo(req.ConvoID, actor.DID)
	if err != nil {
		return nil, err
	}
	view, err := s.convoView(c, actor.DID)
	if err != nil {
		return nil, err
	}
	return &rpc.ConvoResponse{Convo: *view}, nil
}

func (s *Service) GetMessages(ctx context.Context, req *rpc.GetMessagesRequest) (*rpc.GetMessagesResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberConvo(req.ConvoID, actor.DID); err != nil {
		return nil, err
	}
	limit := pageSize(req.Limit)
	msgs, err := s.db.ListMessages(req.ConvoID, actor.DID, req.Cursor, limit)
	if err != nil {
		return nil, toStatus(err, "get messages")
	}

	entries := make([]chat.Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, m.View())
	}
	resp := &rpc.GetMessagesResponse{Messages: rpc.EncodeEntries(entries)}
	if len(msgs) == limit {
		resp.Cursor = msgs[len(msgs)-1].Rev
	}
	// Reading the newest page marks the conversation read.
	if req.Cursor == "" && len(msgs) > 0 {
		if err := s.db.MarkRead(req.ConvoID, actor.DID, msgs[0].Rev); err != nil {
			s.logger.Warn("mark read failed", zap.String("convo", req.ConvoID), zap.Error(err))
		}
	}
	return resp, nil
}

func (s *Service) SendMessage(ctx context.Context, req *rpc.SendMessageRequest) (*rpc.SendMessageResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Message.Text) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "empty message")
	}
	c, err := s.memberConvo(req.ConvoID, actor.DID)
	if err != nil {
		return nil, err
	}
	for _, did := range c.Members {
		if did == actor.DID {
			continue
		}
		blocking, blockedBy, err := s.db.BlockState(actor.DID, did)
		if err != nil {
			return nil, toStatus(err, "send message")
		}
		if blocking || blockedBy {
			return nil, toStatus(errBlocked, "send message")
		}
	}

	m, created, err := s.db.InsertMessage(req.ConvoID, actor.DID, req.Message.Text, req.Message.ClientMsgID)
	if err != nil {
		return nil, toStatus(err, "send message")
	}
	if !created {
		s.logger.Info("duplicate send",
			zap.String("convo", req.ConvoID),
			zap.String("client_msg_id", req.Message.ClientMsgID),
			zap.String("msg_id", m.ID))
	}
	return &rpc.SendMessageResponse{Message: m.View().(chat.MessageView)}, nil
}

func (s *Service) DeleteMessageForSelf(ctx context.Context, req *rpc.DeleteMessageForSelfRequest) (*rpc.DeleteMessageForSelfResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberConvo(req.ConvoID, actor.DID); err != nil {
		return nil, err
	}
	m, err := s.db.GetMessage(req.MessageID, actor.DID)
	if err != nil {
		return nil, toStatus(err, "delete message")
	}
	if m.ConvoID != req.ConvoID {
		return nil, grpcstatus.Errorf(codes.NotFound, "message %q not in convo %q", req.MessageID, req.ConvoID)
	}
	m, err = s.db.DeleteMessageForSelf(actor.DID, req.MessageID)
	if err != nil {
		return nil, toStatus(err, "delete message")
	}
	return &rpc.DeleteMessageForSelfResponse{Deleted: m.View().(chat.DeletedMessageView)}, nil
}

func (s *Service) GetLog(ctx context.Context, req *rpc.GetLogRequest) (*rpc.GetLogResponse, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	// An empty cursor asks where the log currently ends.
	if req.Cursor == "" {
		head, err := s.db.LogHead(actor.DID)
		if err != nil {
			return nil, toStatus(err, "get log")
		}
		return &rpc.GetLogResponse{LogPage: chat.LogPage{Cursor: strconv.FormatInt(head, 10)}}, nil
	}

	after, err := strconv.ParseInt(req.Cursor, 10, 64)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "bad cursor %q", req.Cursor)
	}
	entries, err := s.db.GetLog(actor.DID, after, logPageSize)
	if err != nil {
		return nil, toStatus(err, "get log")
	}
	page := chat.LogPage{Cursor: req.Cursor, Logs: make([]chat.LogEvent, 0, len(entries))}
	for _, e := range entries {
		evt, err := e.Event()
		if err != nil {
			return nil, toStatus(err, "get log")
		}
		page.Logs = append(page.Logs, evt)
		page.Cursor = strconv.FormatInt(e.Seq, 10)
	}
	return &rpc.GetLogResponse{LogPage: page}, nil
}

func (s *Service) Block(ctx context.Context, req *rpc.BlockRequest) (*rpc.Empty, error) {
	actor, err := s.blockTarget(ctx, req.DID)
	if err != nil {
		return nil, err
	}
	if err := s.db.Block(actor.DID, req.DID); err != nil {
		return nil, toStatus(err, "block")
	}
	s.logger.Info("blocked", zap.String("did", actor.DID), zap.String("target", req.DID))
	return &rpc.Empty{}, nil
}

func (s *Service) Unblock(ctx context.Context, req *rpc.BlockRequest) (*rpc.Empty, error) {
	actor, err := s.blockTarget(ctx, req.DID)
	if err != nil {
		return nil, err
	}
	if err := s.db.Unblock(actor.DID, req.DID); err != nil {
		return nil, toStatus(err, "unblock")
	}
	s.logger.Info("unblocked", zap.String("did", actor.DID), zap.String("target", req.DID))
	return &rpc.Empty{}, nil
}

func (s *Service) blockTarget(ctx context.Context, did string) (*store.Account, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if did == actor.DID {
		return nil, grpcstatus.Error(codes.InvalidArgument, "cannot block yourself")
	}
	if _, err := s.db.GetAccount(did); err != nil {
		return nil, toStatus(err, "get account")
	}
	return actor, nil
}

// RequestEmailConfirmation issues a token for the account's email. There is
// no mail delivery: the token goes to the daemon log.
func (s *Service) RequestEmailConfirmation(ctx context.Context, _ *rpc.Empty) (*rpc.Empty, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Email == "" {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "account has no email")
	}
	token := newEmailToken()
	if err := s.db.PutEmailToken(actor.DID, actor.Email, token, s.now().Add(emailTokenTTL)); err != nil {
		return nil, toStatus(err, "request email confirmation")
	}
	s.logger.Info("email confirmation token issued",
		zap.String("did", actor.DID),
		zap.String("email", actor.Email),
		zap.String("token", token))
	return &rpc.Empty{}, nil
}

func (s *Service) ConfirmEmail(ctx context.Context, req *rpc.ConfirmEmailRequest) (*rpc.Empty, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	token := strings.ToUpper(strings.TrimSpace(req.Token))
	if err := s.db.ConfirmEmail(actor.DID, req.Email, token, s.now()); err != nil {
		return nil, toStatus(err, "confirm email")
	}
	return &rpc.Empty{}, nil
}

const tokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newEmailToken returns a token shaped XXXXX-XXXXX.
func newEmailToken() string {
	b := make([]byte, 10)
	_, _ = rand.Read(b)
	var sb strings.Builder
	for i, c := range b {
		if i == 5 {
			sb.WriteByte('-')
		}
		sb.WriteByte(tokenAlphabet[int(c)%len(tokenAlphabet)])
	}
	return sb.String()
}

// memberConvo returns the conversation if did belongs to it. Non-members get
// NotFound so conversation ids do not leak.
func (s *Service) memberConvo(convoID, did string) (*store.Convo, error) {
	c, err := s.db.GetConvo(convoID)
	if err != nil {
		return nil, toStatus(err, "get convo")
	}
	for _, m := range c.Members {
		if m == did {
			return c, nil
		}
	}
	return nil, grpcstatus.Errorf(codes.NotFound, "convo %q not found", convoID)
}

func (s *Service) convoView(c *store.Convo, viewer string) (*chat.ConvoView, error) {
	view := &chat.ConvoView{ID: c.ID, Rev: c.Rev, Members: make([]chat.Profile, 0, len(c.Members))}
	for _, did := range c.Members {
		a, err := s.db.GetAccount(did)
		if err != nil {
			return nil, toStatus(err, "get member")
		}
		p := profileOf(a)
		if did != viewer {
			p.Viewer.Blocking, p.Viewer.BlockedBy, err = s.db.BlockState(viewer, did)
			if err != nil {
				return nil, toStatus(err, "get member")
			}
		}
		view.Members = append(view.Members, p)
	}
	n, err := s.db.UnreadCount(c.ID, viewer)
	if err != nil {
		return nil, toStatus(err, "get convo")
	}
	view.UnreadCount = n
	return view, nil
}

func profileOf(a *store.Account) chat.Profile {
	return chat.Profile{DID: a.DID, Handle: a.Handle, DisplayName: a.DisplayName}
}
