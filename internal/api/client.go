package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client talks to a daemon over its Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon socket at socketPath. The connection is lazy;
// errors surface on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out proto.Message) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out)
}

// call sends req (nil for no arguments) and decodes the Struct reply into out.
func (c *Client) call(ctx context.Context, method string, req proto.Message, out any) error {
	if req == nil {
		req = &emptypb.Empty{}
	}
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, method, req, resp); err != nil {
		return err
	}
	return fromStruct(resp, out)
}

func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	var out Status
	return &out, c.call(ctx, "GetStatus", nil, &out)
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	var out SubmitResponse
	return &out, c.call(ctx, "Submit", in, &out)
}

func (c *Client) SyncNow(ctx context.Context) (*DrainResponse, error) {
	var out DrainResponse
	return &out, c.call(ctx, "SyncNow", nil, &out)
}

func (c *Client) ListQueue(ctx context.Context) (*QueueResponse, error) {
	var out QueueResponse
	return &out, c.call(ctx, "ListQueue", nil, &out)
}

func (c *Client) ListTeams(ctx context.Context) (*TeamsResponse, error) {
	var out TeamsResponse
	return &out, c.call(ctx, "ListTeams", nil, &out)
}

func (c *Client) ListChannels(ctx context.Context, teamID string) (*ChannelsResponse, error) {
	var out ChannelsResponse
	return &out, c.call(ctx, "ListChannels", wrapperspb.String(teamID), &out)
}

func (c *Client) ListMembers(ctx context.Context, teamID string) (*MembersResponse, error) {
	var out MembersResponse
	return &out, c.call(ctx, "ListMembers", wrapperspb.String(teamID), &out)
}

func (c *Client) ListSubFolders(ctx context.Context, req SubFoldersRequest) (*SubFoldersResponse, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	var out SubFoldersResponse
	return &out, c.call(ctx, "ListSubFolders", in, &out)
}

func (c *Client) SetFavorite(ctx context.Context, req FavoriteRequest) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	return c.invoke(ctx, "SetFavorite", in, &emptypb.Empty{})
}

func (c *Client) Logout(ctx context.Context) error {
	return c.invoke(ctx, "Logout", &emptypb.Empty{}, &emptypb.Empty{})
}

// Login starts sign-in and calls fn for each event until the stream ends.
func (c *Client) Login(ctx context.Context, fn func(LoginEvent) error) error {
	return c.stream(ctx, 0, func(s *structpb.Struct) error {
		var evt LoginEvent
		if err := fromStruct(s, &evt); err != nil {
			return err
		}
		return fn(evt)
	})
}

// WatchQueue calls fn for each queue event until ctx is done or fn fails.
func (c *Client) WatchQueue(ctx context.Context, fn func(QueueEvent) error) error {
	return c.stream(ctx, 1, func(s *structpb.Struct) error {
		var evt QueueEvent
		if err := fromStruct(s, &evt); err != nil {
			return err
		}
		return fn(evt)
	})
}

func (c *Client) stream(ctx context.Context, idx int, fn func(*structpb.Struct) error) error {
	desc := &ServiceDesc.Streams[idx]
	cs, err := c.conn.NewStream(ctx, desc, fullMethod(desc.StreamName))
	if err != nil {
		return err
	}
	stream := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: cs}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
