// Package grpc provides the gRPC connection used to reach a classifier
// sidecar. Messages are plain Go structs carried by a JSON codec, so no
// generated stubs are involved.
package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"

	"github.com/exploopio/sentinel/pkg/core"
)

// Transport owns one client connection to a classifier sidecar.
type Transport struct {
	conn   *grpc.ClientConn
	config *Config
	logger core.Logger
	mu     sync.RWMutex
}

// Config holds gRPC transport configuration.
type Config struct {
	// Sidecar address (host:port)
	Address string `yaml:"address" json:"address"`

	// Bearer token sent as "authorization" metadata
	APIKey string `yaml:"api_key" json:"api_key"`

	// Caller identity sent as "x-sentinel-instance" metadata
	InstanceID string `yaml:"instance_id" json:"instance_id"`

	// TLS configuration
	UseTLS             bool `yaml:"use_tls" json:"use_tls"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`

	// Connection settings
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
	KeepAliveTime    time.Duration `yaml:"keepalive_time" json:"keepalive_time"`
	KeepAliveTimeout time.Duration `yaml:"keepalive_timeout" json:"keepalive_timeout"`
	MaxMsgSize       int           `yaml:"max_msg_size" json:"max_msg_size"`

	// Extra dial options (tests use this for in-memory listeners)
	DialOptions []grpc.DialOption `yaml:"-" json:"-"`

	Logger core.Logger `yaml:"-" json:"-"`
}

// DefaultConfig returns default gRPC config.
func DefaultConfig() *Config {
	return &Config{
		Address:          "localhost:9191",
		Timeout:          20 * time.Second,
		KeepAliveTime:    30 * time.Second,
		KeepAliveTimeout: 10 * time.Second,
		MaxMsgSize:       4 * 1024 * 1024, // 4MB
	}
}

// NewTransport creates a new gRPC transport. Zero fields fall back to
// DefaultConfig values.
func NewTransport(cfg *Config) *Transport {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.KeepAliveTime <= 0 {
		cfg.KeepAliveTime = def.KeepAliveTime
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = def.KeepAliveTimeout
	}
	if cfg.MaxMsgSize <= 0 {
		cfg.MaxMsgSize = def.MaxMsgSize
	}
	return &Transport{
		config: cfg,
		logger: core.OrNop(cfg.Logger),
	}
}

// Connect creates the client connection. The connection itself is
// established lazily by gRPC on the first call.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil // Already connected
	}

	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(t.config.MaxMsgSize),
			grpc.MaxCallSendMsgSize(t.config.MaxMsgSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                t.config.KeepAliveTime,
			Timeout:             t.config.KeepAliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithUnaryInterceptor(t.unaryInterceptor()),
	}

	if t.config.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: t.config.InsecureSkipVerify, //nolint:gosec // Intentional for dev environments
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, t.config.DialOptions...)

	t.logger.Debug("connecting to classifier sidecar %s (tls=%v)", t.config.Address, t.config.UseTLS)

	conn, err := grpc.NewClient(t.config.Address, opts...)
	if err != nil {
		return fmt.Errorf("grpc client %s: %w", t.config.Address, err)
	}
	t.conn = conn
	return nil
}

// Invoke performs one unary call, applying the configured timeout.
func (t *Transport) Invoke(ctx context.Context, method string, req, reply any) error {
	conn := t.Conn()
	if conn == nil {
		return fmt.Errorf("grpc transport not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()
	return conn.Invoke(ctx, method, req, reply)
}

// Close closes the gRPC connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// Conn returns the underlying gRPC connection.
func (t *Transport) Conn() *grpc.ClientConn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

// IsConnected returns true once Connect has succeeded.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

// Address returns the configured sidecar address.
func (t *Transport) Address() string {
	return t.config.Address
}

func (t *Transport) unaryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any,
		cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(t.withMetadata(ctx), method, req, reply, cc, opts...)
		t.logger.Debug("%s took %s (err=%v)", method, time.Since(start), err)
		return err
	}
}

func (t *Transport) withMetadata(ctx context.Context) context.Context {
	md := metadata.MD{}
	if t.config.APIKey != "" {
		md.Set("authorization", "Bearer "+t.config.APIKey)
	}
	if t.config.InstanceID != "" {
		md.Set("x-sentinel-instance", t.config.InstanceID)
	}
	if len(md) == 0 {
		return ctx
	}
	return metadata.NewOutgoingContext(ctx, md)
}
