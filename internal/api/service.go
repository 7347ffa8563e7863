package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/tpost/internal/auth"
	"github.com/matheus3301/tpost/internal/bus"
	"github.com/matheus3301/tpost/internal/connectivity"
	"github.com/matheus3301/tpost/internal/favorites"
	"github.com/matheus3301/tpost/internal/graph"
	"github.com/matheus3301/tpost/internal/status"
	"github.com/matheus3301/tpost/internal/store"
	intsync "github.com/matheus3301/tpost/internal/sync"
)

// Account is the sign-in side of the service.
type Account interface {
	Login(ctx context.Context, p auth.Prompter) error
	Logout(ctx context.Context) error
}

// Deps are the components behind the control service.
type Deps struct {
	SessionName string
	Mode        string
	DB          *store.DB
	Bus         *bus.Bus
	Engine      *intsync.Engine
	Favorites   *favorites.Service
	Catalog     *favorites.Catalog
	Monitor     *connectivity.Monitor
	Account     Account
	Logger      *zap.Logger
}

// ControlService implements ControlServer.
type ControlService struct {
	Deps
	startedAt time.Time
}

// NewControlService creates the control service.
func NewControlService(deps Deps) *ControlService {
	return &ControlService{Deps: deps, startedAt: time.Now()}
}

func reply(v any) (*structpb.Struct, error) {
	s, err := toStruct(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%v", err)
	}
	return s, nil
}

// toGRPC maps domain errors onto status codes.
func toGRPC(op string, err error) error {
	switch {
	case errors.Is(err, favorites.ErrNotCached):
		return grpcstatus.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.Is(err, auth.ErrNoClientID):
		return grpcstatus.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, auth.ErrNoAccount), errors.Is(err, auth.ErrInteractionRequired):
		return grpcstatus.Errorf(codes.Unauthenticated, "%s: %v", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Errorf(codes.Canceled, "%s: %v", op, err)
	default:
		return grpcstatus.Errorf(codes.Internal, "%s: %s", op, graph.Summarize(err))
	}
}

func (s *ControlService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := Status{
		Session:       s.SessionName,
		State:         string(s.Monitor.State()),
		Online:        s.Monitor.Online(),
		Authenticated: s.Monitor.Authenticated(),
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		Mode:          s.Mode,
	}
	if n, err := s.DB.CountPosts(ctx); err == nil {
		st.QueueLength = n
	}
	if rec, err := s.Engine.LastDrain(ctx); err == nil && rec != nil {
		st.LastDrain = &LastDrain{
			AtUnixMs:  rec.At.UnixMilli(),
			Attempted: rec.Attempted,
			Synced:    rec.Synced,
			Failed:    rec.Failed,
			LastError: rec.LastError,
		}
	}
	return reply(st)
}

func (s *ControlService) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SubmitRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}

	capture := intsync.CaptureRequest{
		TeamID:             req.TeamID,
		ChannelID:          req.ChannelID,
		ChannelDisplayName: req.ChannelName,
		Text:               req.Text,
		SubFolder:          req.SubFolder,
	}
	for _, f := range req.Files {
		capture.Files = append(capture.Files, store.File{Name: f.Name, MimeType: f.MimeType, Data: f.Data})
	}
	for _, m := range req.Mentions {
		capture.Mentions = append(capture.Mentions, store.Member{ID: m.ID, DisplayName: m.DisplayName})
	}

	out, err := s.Engine.Submit(ctx, capture)
	if err != nil {
		return nil, toGRPC("submit", err)
	}
	resp := SubmitResponse{
		Outcome:  string(out.Outcome),
		PostID:   out.PostID,
		ClientID: out.ClientID,
	}
	if out.SyncErr != nil {
		resp.Error = graph.Summarize(out.SyncErr)
	}
	return reply(resp)
}

func (s *ControlService) SyncNow(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if !s.Monitor.CanSyncNow() {
		return nil, grpcstatus.Errorf(codes.FailedPrecondition, "cannot sync while %s", s.Monitor.State())
	}
	res, err := s.Engine.SyncNow(ctx)
	if err != nil {
		return nil, toGRPC("sync", err)
	}
	resp := DrainResponse{Attempted: res.Attempted, Synced: res.Synced, Failed: res.Failed}
	if n, err := s.DB.CountPosts(ctx); err == nil {
		resp.Remaining = n
	}
	return reply(resp)
}

func (s *ControlService) ListQueue(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	posts, err := s.DB.ListPosts(ctx)
	if err != nil {
		return nil, toGRPC("list queue", err)
	}
	resp := QueueResponse{Posts: make([]QueuedPost, 0, len(posts))}
	for _, p := range posts {
		images, err := s.DB.CountImages(ctx, p.ID)
		if err != nil {
			return nil, toGRPC("list queue", err)
		}
		resp.Posts = append(resp.Posts, QueuedPost{
			ID:          p.ID,
			ClientID:    p.ClientID,
			TeamID:      p.TeamID,
			ChannelID:   p.ChannelID,
			ChannelName: p.ChannelDisplayName,
			Text:        p.Text,
			SubFolder:   p.SubFolder,
			Images:      images,
			Mentions:    len(p.Mentions),
			TimestampMs: p.Timestamp,
		})
	}
	return reply(resp)
}

func (s *ControlService) ListTeams(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	teams, src, err := s.Catalog.Teams(ctx)
	if err != nil {
		return nil, toGRPC("list teams", err)
	}
	resp := TeamsResponse{Source: string(src), Teams: make([]Team, len(teams))}
	for i, t := range teams {
		resp.Teams[i] = Team{ID: t.ID, DisplayName: t.DisplayName, Favorite: t.Favorite}
	}
	return reply(resp)
}

func (s *ControlService) ListChannels(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "team id is required")
	}
	channels, src, err := s.Catalog.Channels(ctx, in.GetValue())
	if err != nil {
		return nil, toGRPC("list channels", err)
	}
	resp := ChannelsResponse{Source: string(src), Channels: make([]Channel, len(channels))}
	for i, c := range channels {
		resp.Channels[i] = Channel{ID: c.ID, DisplayName: c.DisplayName}
	}
	return reply(resp)
}

func (s *ControlService) ListMembers(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "team id is required")
	}
	members, src, err := s.Catalog.Members(ctx, in.GetValue())
	if err != nil {
		return nil, toGRPC("list members", err)
	}
	resp := MembersResponse{Source: string(src), Members: make([]Mention, len(members))}
	for i, m := range members {
		resp.Members[i] = Mention{ID: m.ID, DisplayName: m.DisplayName}
	}
	return reply(resp)
}

func (s *ControlService) ListSubFolders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SubFoldersRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	if req.TeamID == "" || req.ChannelID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "team id and channel id are required")
	}
	folders, src, err := s.Catalog.SubFolders(ctx, req.TeamID, store.Channel{ID: req.ChannelID, DisplayName: req.ChannelName})
	if err != nil {
		return nil, toGRPC("list subfolders", err)
	}
	resp := SubFoldersResponse{Source: string(src), SubFolders: make([]SubFolder, len(folders))}
	for i, f := range folders {
		resp.SubFolders[i] = SubFolder{ID: f.ID, Name: f.Name}
	}
	return reply(resp)
}

func (s *ControlService) SetFavorite(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var req FavoriteRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	if req.TeamID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "team id is required")
	}
	if err := s.Favorites.SetFavorite(ctx, req.TeamID, req.DisplayName, req.Favorite); err != nil {
		return nil, toGRPC("set favorite", err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ControlService) Logout(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.Account.Logout(ctx); err != nil {
		return nil, toGRPC("logout", err)
	}
	return &emptypb.Empty{}, nil
}

// Login runs the device code flow, streaming the code and then the result.
func (s *ControlService) Login(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	send := func(evt LoginEvent) error {
		msg, err := toStruct(evt)
		if err != nil {
			return err
		}
		return stream.Send(msg)
	}

	prompter := auth.PrompterFunc(func(_ context.Context, code auth.DeviceCode) error {
		return send(LoginEvent{
			Type:            LoginCode,
			UserCode:        code.UserCode,
			VerificationURI: code.VerificationURI,
			CompleteURI:     code.VerificationURIComplete,
			ExpiresAtUnixMs: code.ExpiresAt.UnixMilli(),
			QR:              code.QR,
		})
	})

	if err := s.Account.Login(stream.Context(), prompter); err != nil {
		s.Logger.Warn("sign-in failed", zap.Error(err))
		return send(LoginEvent{Type: LoginError, Message: err.Error()})
	}
	return send(LoginEvent{Type: LoginDone, Message: "signed in"})
}

// WatchQueue streams queue changes, per-image progress and connectivity
// transitions until the client goes away.
func (s *ControlService) WatchQueue(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	queue, unsubQueue := s.Bus.Subscribe("queue.", 256)
	defer unsubQueue()
	conn, unsubConn := s.Bus.Subscribe(bus.KindConnectivityChanged, 16)
	defer unsubConn()

	for {
		var evt bus.Event
		select {
		case evt = <-queue:
		case evt = <-conn:
		case <-stream.Context().Done():
			return nil
		}

		msg, err := toStruct(s.queueEvent(evt))
		if err != nil {
			return err
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
}

func (s *ControlService) queueEvent(evt bus.Event) QueueEvent {
	out := QueueEvent{
		EventID:          uuid.New().String(),
		Session:          s.SessionName,
		Kind:             evt.Kind,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
	}
	switch p := evt.Payload.(type) {
	case intsync.QueueChange:
		out.Reason = p.Reason
		out.PostID = p.PostID
		out.ClientID = p.ClientID
		out.Pending = p.Pending
		out.Error = p.Err
	case intsync.Progress:
		out.PostID = p.PostID
		out.ClientID = p.ClientID
		out.Current = p.Current
		out.Total = p.Total
	case status.StatusChange:
		out.State = string(p.To)
	}
	return out
}
