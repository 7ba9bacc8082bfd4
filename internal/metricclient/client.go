// Package metricclient is the gRPC transport that ships metric events to the
// collector. The service contract is resolved at runtime from a .proto
// schema, and requests are built as dynamic messages.
package metricclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/large-farva/heimdall/internal/compression"
	"github.com/large-farva/heimdall/internal/schema"
)

const (
	DefaultCallTimeout  = 10 * time.Second
	DefaultReadyTimeout = 10 * time.Second
)

// ErrUnknownMethod is returned when the schema has no method of that name.
var ErrUnknownMethod = errors.New("unknown method")

// Options configures a Client.
type Options struct {
	Address      string
	Schema       string // .proto path; empty selects the built-in schema
	Namespace    string
	Service      string
	CallTimeout  time.Duration
	ReadyTimeout time.Duration
	Compression  string // "" or "br"
	MaxInFlight  int    // 0 means unbounded
	Logger       *zap.Logger
}

// Response is the collector's reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CallError describes a failed RPC, carrying the gRPC code and detail when
// the transport provided one.
type CallError struct {
	Method string
	Code   codes.Code
	Detail string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %s failed: %s: %s", e.Method, e.Code, e.Detail)
}

func (e *CallError) Unwrap() error { return e.Err }

// Client wraps a single gRPC channel to the collector. Calls are
// independent: they may run concurrently and are issued whether or not the
// readiness probe succeeded.
type Client struct {
	address     string
	service     protoreflect.ServiceDescriptor
	conn        *grpc.ClientConn
	callTimeout time.Duration
	callOpts    []grpc.CallOption
	sem         *semaphore.Weighted
	log         *zap.Logger

	connected   atomic.Bool
	cancelProbe context.CancelFunc
	probeDone   chan struct{}
	closeOnce   sync.Once
}

// New loads the schema, resolves the service and opens an insecure channel
// to opts.Address. A readiness probe runs in the background and only
// updates Connected.
func New(ctx context.Context, opts Options) (*Client, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}

	log.Info("initializing gRPC client", zap.String("address", opts.Address))

	sd, err := schema.Load(ctx, opts.Schema, opts.Namespace, opts.Service)
	if err != nil {
		return nil, err
	}
	log.Debug("service resolved", zap.String("service", string(sd.FullName())))

	conn, err := grpc.NewClient(opts.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create channel to %s: %w", opts.Address, err)
	}

	c := &Client{
		address:     opts.Address,
		service:     sd,
		conn:        conn,
		callTimeout: opts.CallTimeout,
		log:         log,
		probeDone:   make(chan struct{}),
	}
	if opts.Compression == compression.Name {
		c.callOpts = append(c.callOpts, grpc.UseCompressor(compression.Name))
	}
	if opts.MaxInFlight > 0 {
		c.sem = semaphore.NewWeighted(int64(opts.MaxInFlight))
	}

	probeCtx, cancel := context.WithTimeout(context.Background(), opts.ReadyTimeout)
	c.cancelProbe = cancel
	go c.probe(probeCtx)

	return c, nil
}

// probe waits for the channel to become ready within the bounded wait.
func (c *Client) probe(ctx context.Context) {
	defer close(c.probeDone)
	defer c.cancelProbe()

	c.conn.Connect()
	for {
		state := c.conn.GetState()
		if state == connectivity.Ready {
			c.connected.Store(true)
			c.log.Info("gRPC connection established", zap.String("address", c.address))
			return
		}
		if !c.conn.WaitForStateChange(ctx, state) {
			c.connected.Store(false)
			c.log.Warn("gRPC connection not ready",
				zap.String("address", c.address),
				zap.Stringer("state", c.conn.GetState()),
				zap.Error(ctx.Err()))
			return
		}
	}
}

// Connected reports the outcome of the readiness probe. It is informational
// only.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) Address() string {
	return c.address
}

// SendMessage issues exactly one call of method with message, which must
// marshal to JSON matching the method's input type. The call is bounded by
// the configured per-call deadline.
func (c *Client) SendMessage(ctx context.Context, method string, message any) (*Response, error) {
	md := c.service.Methods().ByName(protoreflect.Name(method))
	if md == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, c.service.FullName(), method)
	}

	body, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	req := dynamicpb.NewMessage(md.Input())
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(body, req); err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.sem.Release(1)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	c.log.Debug("calling gRPC method", zap.String("method", method), zap.ByteString("message", body))

	resp := dynamicpb.NewMessage(md.Output())
	if err := c.conn.Invoke(ctx, schema.FullMethod(c.service, md), req, resp, c.callOpts...); err != nil {
		st, _ := status.FromError(err)
		c.log.Warn("gRPC call failed",
			zap.String("method", method),
			zap.Stringer("code", st.Code()),
			zap.String("details", st.Message()))
		return nil, &CallError{Method: method, Code: st.Code(), Detail: st.Message(), Err: err}
	}

	out, err := (protojson.MarshalOptions{UseProtoNames: true, EmitUnpopulated: true}).Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	var r Response
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	c.log.Debug("gRPC call succeeded", zap.String("method", method), zap.String("status", r.Status))
	return &r, nil
}

// Close stops the probe and tears down the channel.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancelProbe()
		<-c.probeDone
		err = c.conn.Close()
	})
	return err
}
