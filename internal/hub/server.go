// Package hub exposes a Supervisor over gRPC, together with the standard
// health service reporting one entry per running MCP server.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"mcphub/internal/logger"
	"mcphub/internal/packages"
	"mcphub/internal/session"
	"mcphub/internal/supervisor"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Backend is the part of supervisor.Supervisor the hub serves.
type Backend interface {
	Start(ctx context.Context, name string, mode supervisor.Mode) (supervisor.ServerStatus, error)
	Stop(name string) error
	Restart(ctx context.Context, name string, mode supervisor.Mode) (supervisor.ServerStatus, error)
	StopAll()
	GetServers() []supervisor.ServerStatus
	Initialize(ctx context.Context, name string) (json.RawMessage, error)
	ListTools(ctx context.Context, name string) (json.RawMessage, error)
	CallTool(ctx context.Context, name, tool string, arguments any) (json.RawMessage, error)
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithCallTimeout bounds calls that arrive without a deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Server) { s.callTimeout = d }
}

// Server implements SupervisorServer on top of a Backend.
type Server struct {
	backend     Backend
	log         *slog.Logger
	callTimeout time.Duration
	health      *health.Server

	mu    sync.Mutex
	known map[string]bool
}

var _ SupervisorServer = (*Server)(nil)

func NewServer(backend Backend, opts ...Option) *Server {
	s := &Server{
		backend:     backend,
		callTimeout: 30 * time.Second,
		health:      health.NewServer(),
		known:       map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.WithComponent("hub")
	}
	return s
}

// StartAsync listens on port and serves in its own goroutine. It returns the
// bound address and a func that stops the server.
func (s *Server) StartAsync(port int) (*net.TCPAddr, func(), error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	stop := s.StartToListenerAsync(lis)
	tcpAddr, _ := lis.Addr().(*net.TCPAddr)
	return tcpAddr, stop, nil
}

// StartToListenerAsync serves on lis in its own goroutine and returns a func
// that marks the hub not serving and stops it gracefully.
func (s *Server) StartToListenerAsync(lis net.Listener) func() {
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(loggingInterceptor(s.log), deadlineInterceptor(s.callTimeout)),
	)
	RegisterSupervisorServer(grpcServer, s)
	healthpb.RegisterHealthServer(grpcServer, s.health)
	reflection.Register(grpcServer)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			s.log.Error("grpc serve failed", "addr", lis.Addr().String(), "error", err)
		}
	}()
	s.log.Info("hub listening", "addr", lis.Addr().String())

	return func() {
		s.health.Shutdown()
		grpcServer.GracefulStop()
	}
}

// RefreshHealth polls the backend and publishes one health entry per server,
// keyed by server id. Servers that left the registry become SERVICE_UNKNOWN.
// The polled statuses are returned so the caller can report transitions.
func (s *Server) RefreshHealth() []supervisor.ServerStatus {
	servers := s.backend.GetServers()

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(servers))
	for _, st := range servers {
		serving := healthpb.HealthCheckResponse_NOT_SERVING
		if st.Status == supervisor.StatusRunning {
			serving = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(st.ID, serving)
		seen[st.ID] = true
	}
	for id := range s.known {
		if !seen[id] {
			s.health.SetServingStatus(id, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		}
	}
	s.known = seen
	return servers
}

func (s *Server) GetServers(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	servers := s.backend.GetServers()
	return toStruct(serversReply{Servers: servers, Summary: supervisor.Summarize(servers)})
}

func (s *Server) StartServer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.start(ctx, req, s.backend.Start)
}

// RestartServer stops the named server if it is running and starts it again.
func (s *Server) RestartServer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.start(ctx, req, s.backend.Restart)
}

func (s *Server) start(
	ctx context.Context,
	req *structpb.Struct,
	run func(context.Context, string, supervisor.Mode) (supervisor.ServerStatus, error),
) (*structpb.Struct, error) {
	var in startRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	mode := supervisor.ModeHubHosted
	if in.Mode != "" {
		m, err := supervisor.ParseMode(in.Mode)
		if err != nil {
			return nil, toStatus(err)
		}
		mode = m
	}
	st, err := run(ctx, in.Name, mode)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(st)
}

func (s *Server) StopServer(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var in nameRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	if err := s.backend.Stop(in.Name); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) StopAll(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.backend.StopAll()
	return &emptypb.Empty{}, nil
}

func (s *Server) Initialize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in nameRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	raw, err := s.backend.Initialize(ctx, in.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	return resultStruct(raw)
}

func (s *Server) ListTools(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in nameRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	raw, err := s.backend.ListTools(ctx, in.Name)
	if err != nil {
		return nil, toStatus(err)
	}
	return resultStruct(raw)
}

func (s *Server) CallTool(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in callRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, err
	}
	if in.Tool == "" {
		return nil, status.Error(codes.InvalidArgument, "missing tool name")
	}
	var args any
	if in.ArgumentsJSON != "" {
		raw := json.RawMessage(in.ArgumentsJSON)
		if !isJSONObject(raw) {
			return nil, status.Error(codes.InvalidArgument, "arguments_json must be a JSON object")
		}
		args = raw
	}
	raw, err := s.backend.CallTool(ctx, in.Name, in.Tool, args)
	if err != nil {
		return nil, toStatus(err)
	}
	return resultStruct(raw)
}

type nameRequest struct {
	Name string `json:"name"`
}

type startRequest struct {
	Name string `json:"name"`
	Mode string `json:"mode,omitempty"`
}

// callRequest carries the tool arguments as JSON text. A Struct would turn
// every number into a double.
type callRequest struct {
	Name          string `json:"name"`
	Tool          string `json:"tool"`
	ArgumentsJSON string `json:"arguments_json,omitempty"`
}

type serversReply struct {
	Servers []supervisor.ServerStatus `json:"servers"`
	Summary supervisor.Summary        `json:"summary"`
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode reply: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode reply: %v", err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	if n, ok := v.(interface{ name() string }); ok && n.name() == "" {
		return status.Error(codes.InvalidArgument, "missing server name")
	}
	return nil
}

func (r *nameRequest) name() string  { return r.Name }
func (r *startRequest) name() string { return r.Name }
func (r *callRequest) name() string  { return r.Name }

// resultField holds a JSON-RPC result as the exact text the peer sent.
const resultField = "result_json"

func resultStruct(raw json.RawMessage) (*structpb.Struct, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	if !json.Valid(raw) {
		return nil, status.Error(codes.Internal, "failed to encode result: invalid JSON")
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		resultField: structpb.NewStringValue(string(raw)),
	}}, nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

// toStatus maps hub errors to gRPC status codes.
func toStatus(err error) error {
	var pe *session.ProtocolError
	switch {
	case errors.Is(err, supervisor.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, packages.ErrUnknownPackage), errors.Is(err, supervisor.ErrInvalidMode):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, session.ErrNotInitialized):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &pe):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, session.ErrSessionBroken), errors.Is(err, session.ErrSessionSuspect):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
