package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"mcphub/internal/supervisor"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client talks to a running hub.
type Client struct {
	cc     grpc.ClientConnInterface
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	name   string
}

// Dial connects to the hub at addr without transport security. name is sent
// as ClientHeader on every call.
func Dial(addr, name string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to hub at %s: %w", addr, err)
	}
	c := NewClient(conn, name)
	c.conn = conn
	return c, nil
}

func NewClient(cc grpc.ClientConnInterface, name string) *Client {
	return &Client{cc: cc, health: healthpb.NewHealthClient(cc), name: name}
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if c.name != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, ClientHeader, c.name)
	}
	return c.cc.Invoke(ctx, method, in, out)
}

func (c *Client) GetServers(ctx context.Context) ([]supervisor.ServerStatus, supervisor.Summary, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, MethodGetServers, &emptypb.Empty{}, out); err != nil {
		return nil, supervisor.Summary{}, err
	}
	var reply serversReply
	if err := decodeStruct(out, &reply); err != nil {
		return nil, supervisor.Summary{}, err
	}
	return reply.Servers, reply.Summary, nil
}

func (c *Client) StartServer(ctx context.Context, name string, mode supervisor.Mode) (supervisor.ServerStatus, error) {
	return c.start(ctx, MethodStartServer, name, mode)
}

func (c *Client) RestartServer(ctx context.Context, name string, mode supervisor.Mode) (supervisor.ServerStatus, error) {
	return c.start(ctx, MethodRestartServer, name, mode)
}

func (c *Client) start(ctx context.Context, method, name string, mode supervisor.Mode) (supervisor.ServerStatus, error) {
	in, err := encodeStruct(startRequest{Name: name, Mode: string(mode)})
	if err != nil {
		return supervisor.ServerStatus{}, err
	}
	out := &structpb.Struct{}
	if err := c.invoke(ctx, method, in, out); err != nil {
		return supervisor.ServerStatus{}, err
	}
	var st supervisor.ServerStatus
	return st, decodeStruct(out, &st)
}

func (c *Client) StopServer(ctx context.Context, name string) error {
	in, err := encodeStruct(nameRequest{Name: name})
	if err != nil {
		return err
	}
	return c.invoke(ctx, MethodStopServer, in, &emptypb.Empty{})
}

func (c *Client) StopAll(ctx context.Context) error {
	return c.invoke(ctx, MethodStopAll, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) Initialize(ctx context.Context, name string) (json.RawMessage, error) {
	return c.result(ctx, MethodInitialize, nameRequest{Name: name})
}

func (c *Client) ListTools(ctx context.Context, name string) (json.RawMessage, error) {
	return c.result(ctx, MethodListTools, nameRequest{Name: name})
}

// CallTool invokes tool on the named server. arguments must be a JSON object
// or empty; it reaches the peer byte for byte.
func (c *Client) CallTool(ctx context.Context, name, tool string, arguments json.RawMessage) (json.RawMessage, error) {
	return c.result(ctx, MethodCallTool, callRequest{Name: name, Tool: tool, ArgumentsJSON: string(arguments)})
}

// Health reports the serving status of service; "" is the hub as a whole and
// a server id is that server.
func (c *Client) Health(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func (c *Client) result(ctx context.Context, method string, req any) (json.RawMessage, error) {
	in, err := encodeStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	v, ok := out.GetFields()[resultField]
	if !ok {
		return json.RawMessage("null"), nil
	}
	raw := json.RawMessage(v.GetStringValue())
	if !json.Valid(raw) {
		return nil, fmt.Errorf("failed to decode result: invalid JSON in %s", resultField)
	}
	return raw, nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return out, nil
}

func decodeStruct(in *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}
	return nil
}
