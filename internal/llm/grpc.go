package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the unary RPC served by remote completion backends.
// Request and response are google.protobuf.Struct messages:
// request {prompt, system}, response {text}.
const GenerateMethod = "/catalyze.completion.v1.Completion/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errNotServing               = errors.New("completion backend not serving")
)

// GrpcConfig holds configuration for the gRPC completer.
type GrpcConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcConfig returns default configuration for addr.
func DefaultGrpcConfig(addr string) GrpcConfig {
	return GrpcConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcCompleter implements Completer against a remote completion service.
type GrpcCompleter struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// NewGrpcCompleter dials the backend and waits until the connection is ready.
func NewGrpcCompleter(cfg GrpcConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcCompleter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("grpc completer: %w: empty address", ErrNotConfigured)
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: false,
		}),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create completion client for %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint instead of on the first query.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("completion backend at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to completion backend", "address", cfg.Address)
	return &GrpcCompleter{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Complete invokes GenerateMethod.
func (c *GrpcCompleter) Complete(ctx context.Context, prompt, system string) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"prompt": prompt,
		"system": system,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, GenerateMethod, req, resp); err != nil {
		return "", fmt.Errorf("completion rpc: %w", err)
	}

	text := resp.GetFields()["text"].GetStringValue()
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// Health checks the standard gRPC health service of the backend.
func (c *GrpcCompleter) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection.
func (c *GrpcCompleter) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}
