// Package server exposes trace reconstruction over gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/hostiotrace/internal/audit"
	"github.com/ppiankov/hostiotrace/internal/config"
	"github.com/ppiankov/hostiotrace/internal/model"
	"github.com/ppiankov/hostiotrace/internal/ratelimit"
	"github.com/ppiankov/hostiotrace/internal/tracer"
	"github.com/ppiankov/hostiotrace/internal/wire"
)

// Config holds gRPC server configuration.
type Config struct {
	Listen string
	// ConfigPath is the YAML file the nesting set is loaded from and
	// reloaded on change.
	ConfigPath   string
	AuditLogPath string
}

// Server implements TraceService.
type Server struct {
	mu         sync.RWMutex
	nests      model.NestingSet
	configHash string

	auditLog   *audit.Log
	limiter    *ratelimit.Limiter
	cfg        Config
	grpcServer *grpc.Server
}

// New creates a gRPC server with the configured nesting set.
func New(cfg Config) (*Server, error) {
	c, hash, err := config.LoadConfigWithHash(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	nests, err := c.Nests()
	if err != nil {
		return nil, err
	}

	var auditLog *audit.Log
	if cfg.AuditLogPath != "" {
		auditLog, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	s := &Server{
		nests:      nests,
		configHash: hash,
		auditLog:   auditLog,
		limiter:    ratelimit.New(c.RateLimit),
		cfg:        cfg,
	}
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.limit))
	RegisterTraceServiceServer(s.grpcServer, s)
	return s, nil
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	log.Info("Serving trace service", "addr", lis.Addr(), "nests", s.Nests().Names())
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Close cleans up resources.
func (s *Server) Close() error {
	if s.auditLog != nil {
		return s.auditLog.Close()
	}
	return nil
}

// limit rejects calls from a peer host that exceeded the configured
// rate_limit. The limit is fixed at start; reloads do not change it.
func (s *Server) limit(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	key := "unknown"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		key = p.Addr.String()
		if host, _, err := net.SplitHostPort(key); err == nil {
			key = host
		}
	}
	if r := s.limiter.Allow(key); r.Exceeded {
		log.Warn("Request rate limited", "peer", key, "method", info.FullMethod, "limit", r.Limit)
		return nil, status.Error(codes.ResourceExhausted, r.Reason)
	}
	return handler(ctx, req)
}

// Nests is the nesting set currently in effect.
func (s *Server) Nests() model.NestingSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nests
}

// ConfigHash identifies the configuration file content in effect.
func (s *Server) ConfigHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configHash
}

// ReloadConfig reloads the nesting set from the config file and swaps it in.
// Requests already running keep the set they started with. On error the
// previous set stays in effect.
func (s *Server) ReloadConfig() error {
	c, hash, err := config.LoadConfigWithHash(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	nests, err := c.Nests()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.nests = nests
	s.configHash = hash
	s.mu.Unlock()
	return nil
}

// requestNests is the request's nesting_ops override or the server set.
func (s *Server) requestNests(req *structpb.Struct) (model.NestingSet, error) {
	names, ok, err := stringList(req, "nesting_ops")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !ok {
		return s.Nests(), nil
	}
	nests, err := model.NewNestingSet(names...)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return nests, nil
}

// Reconstruct builds a tree from an event stream.
func (s *Server) Reconstruct(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw, ok, err := fieldJSON(req, "events")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "missing events")
	}
	nests, err := s.requestNests(req)
	if err != nil {
		return nil, err
	}
	subject := req.GetFields()["subject"].GetStringValue()
	if subject == "" {
		subject = "inline"
	}

	events, err := wire.DecodeEvents(raw)
	if err != nil {
		s.record(audit.FromResult("grpc", subject, nil, err))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	b := tracer.NewBuilder(nests)
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, status.FromContextError(err).Err()
		}
		if err := b.Process(ev); err != nil {
			break
		}
	}
	res, err := b.Finish()
	entry := audit.FromResult("grpc", subject, res, err)
	s.record(entry)
	if err != nil {
		return nil, streamStatus(err)
	}

	out, err := treeStruct(res.Root, nests)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out.Fields["trace_id"] = structpb.NewStringValue(entry.TraceID)
	out.Fields["partial"] = structpb.NewBoolValue(res.Partial)
	out.Fields["depth"] = structpb.NewNumberValue(float64(res.Depth))
	out.Fields["events"] = structpb.NewNumberValue(float64(res.Events))
	log.Debug("Reconstructed over gRPC", "trace", entry.TraceID, "events", res.Events, "partial", res.Partial)
	return out, nil
}

// Decode parses a tracer result, normalizes it and returns its event stream.
func (s *Server) Decode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw, ok, err := fieldJSON(req, "result")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "missing result")
	}
	nests, err := s.requestNests(req)
	if err != nil {
		return nil, err
	}
	steps, err := wire.DecodeResult(raw, nests)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	out, err := treeStruct(steps, nests)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	capture, err := wire.EncodeEvents(wire.Flatten(steps))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if out.Fields["events"], err = jsonValue(capture); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// treeStruct holds the fields shared by both responses: stats, steps, issues.
func treeStruct(steps []model.Step, nests model.NestingSet) (*structpb.Struct, error) {
	encoded, err := wire.EncodeResult(steps)
	if err != nil {
		return nil, err
	}
	stepsValue, err := jsonValue(encoded)
	if err != nil {
		return nil, err
	}
	stats, err := marshalValue(model.Count(steps))
	if err != nil {
		return nil, err
	}
	issues := tracer.Check(steps, nests)
	if issues == nil {
		issues = []tracer.Issue{}
	}
	issuesValue, err := marshalValue(issues)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"stats":  stats,
		"steps":  stepsValue,
		"issues": issuesValue,
	}}, nil
}

// streamStatus maps builder errors to status codes. A malformed stream is
// the caller's fault.
func streamStatus(err error) error {
	var se *tracer.StreamError
	if errors.As(err, &se) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func (s *Server) record(e audit.Entry) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Record(e); err != nil {
		log.Warn("Audit record failed", "err", err)
	}
}
