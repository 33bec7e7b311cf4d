// Package server exposes a gate's approval queue over gRPC so operators can
// inspect and resolve requests from another process.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/gate"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/policy"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/rpc"
)

// HistorySource serves resolved requests from durable storage.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]approval.Request, error)
}

// Server implements rpc.Service on top of a gate.
type Server struct {
	gate       *gate.Gate
	history    HistorySource
	policyPath string
	logger     *slog.Logger
	grpcServer *grpc.Server
}

var _ rpc.Service = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPolicyPath names the policy file ReloadPolicy reads.
func WithPolicyPath(path string) Option {
	return func(s *Server) { s.policyPath = path }
}

// WithHistory serves History from h instead of the in-memory ring.
func WithHistory(h HistorySource) Option {
	return func(s *Server) { s.history = h }
}

// New creates a server for g.
func New(g *gate.Gate, opts ...Option) *Server {
	s := &Server{
		gate:   g,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))
	rpc.Register(s.grpcServer, s)
	return s
}

// ListenAndServe listens on addr and serves until stopped.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until stopped.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("serving approvals", "addr", lis.Addr().String(), "policy_hash", s.gate.Engine().Hash())
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight calls and stops the server. Pending
// approvals are expired first so Authorize calls parked on them return.
func (s *Server) GracefulStop() {
	s.gate.Queue().Close()
	s.grpcServer.GracefulStop()
}

// ReloadPolicy re-reads the policy file and swaps the gate's engine.
// Runs already in flight keep the engine they started with.
func (s *Server) ReloadPolicy() error {
	if s.policyPath == "" {
		return errors.New("no policy file configured")
	}
	e, err := policy.Load(s.policyPath)
	if err != nil {
		return fmt.Errorf("reload policy: %w", err)
	}
	s.gate.SetEngine(e)
	return nil
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	attrs := []any{"method", info.FullMethod, "duration", time.Since(start)}
	if err != nil {
		s.logger.Warn("rpc failed", append(attrs, "code", status.Code(err), "error", err)...)
	} else {
		s.logger.Debug("rpc", attrs...)
	}
	return resp, err
}

// Evaluate returns the decision for an action without escalating it.
func (s *Server) Evaluate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.EvaluateRequest
	if err := decodeAction(in, &req); err != nil {
		return nil, err
	}
	d := s.gate.Check(req.Action, req.Policy, req.RunID)
	return encode(rpc.EvaluateResponse{Decision: d, PolicyHash: s.gate.Engine().Hash()})
}

// Authorize evaluates an action and, when appealable, blocks until a human
// answers, the approval timeout elapses or the caller goes away.
func (s *Server) Authorize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.EvaluateRequest
	if err := decodeAction(in, &req); err != nil {
		return nil, err
	}
	v, err := s.gate.Authorize(ctx, req.Action, req.Policy, req.RunID)
	resp := rpc.AuthorizeResponse{
		Decision:  v.Decision,
		RequestID: v.RequestID,
		Status:    v.Status,
		Proceed:   err == nil && v.Proceed(),
	}
	if err != nil {
		resp.Denied = errors.Is(err, gate.ErrDenied)
		resp.Error = err.Error()
	}
	return encode(resp)
}

// ListPending returns every pending request, oldest first.
func (s *Server) ListPending(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(rpc.ListResponse{Requests: s.gate.Queue().Pending()})
}

// History returns resolved requests, most recent first.
func (s *Server) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req rpc.ListRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.history == nil {
		return encode(rpc.ListResponse{Requests: s.gate.Queue().History(req.Limit)})
	}
	reqs, err := s.history.Recent(ctx, req.Limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read history: %v", err)
	}
	return encode(rpc.ListResponse{Requests: reqs})
}

// Approve resolves one pending request as approved.
func (s *Server) Approve(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.resolveOne(in, s.gate.Queue().Approve)
}

// Reject resolves one pending request as rejected.
func (s *Server) Reject(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.resolveOne(in, s.gate.Queue().Reject)
}

// ApproveAll approves everything pending.
func (s *Server) ApproveAll(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.resolveAll(in, s.gate.Queue().ApproveAll)
}

// RejectAll rejects everything pending.
func (s *Server) RejectAll(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.resolveAll(in, s.gate.Queue().RejectAll)
}

func (s *Server) resolveOne(in *structpb.Struct, resolve func(id, by string) bool) (*structpb.Struct, error) {
	var req rpc.ResolveRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "missing request id")
	}
	if resolve(req.ID, resolver(req.By)) {
		return encode(rpc.ResolveResponse{ID: req.ID, Resolved: 1})
	}
	r, ok := s.gate.Queue().Get(req.ID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "approval request %s not found", req.ID)
	}
	return nil, status.Errorf(codes.FailedPrecondition, "approval request %s already %s", req.ID, r.Status)
}

func (s *Server) resolveAll(in *structpb.Struct, resolve func(by string) int) (*structpb.Struct, error) {
	var req rpc.ResolveRequest
	if err := rpc.Decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return encode(rpc.ResolveResponse{Resolved: resolve(resolver(req.By))})
}

func decodeAction(in *structpb.Struct, req *rpc.EvaluateRequest) error {
	if err := rpc.Decode(in, req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	op, err := model.ParseOperation(string(req.Action.Operation))
	if err == nil {
		req.Action.Operation = op
	}
	if req.Action.Operation == "" {
		return status.Error(codes.InvalidArgument, "missing operation")
	}
	return nil
}

func resolver(by string) string {
	if by = strings.TrimSpace(by); by != "" {
		return by
	}
	return "remote"
}

func encode(v any) (*structpb.Struct, error) {
	out, err := rpc.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
