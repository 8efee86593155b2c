// Copyright 2025 Joseph Cumines
//
// gRPC client for the WeChat automation driver

package driver

import (
	"context"
	"fmt"
	"time"

	longrunningpb "cloud.google.com/go/longrunning/autogen/longrunningpb"
	"github.com/joeycumines/wechat-mcp/internal/history"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service implemented by the driver.
// Every method takes and returns a google.protobuf.Struct, except OpenChat,
// which returns a google.longrunning.Operation whose response is a Struct.
const ServiceName = "wechat.driver.v1.WeChatDriver"

// DialConfig describes how to reach the driver.
type DialConfig struct {
	Address  string
	CertFile string
	TLS      bool
}

// GRPCDriver is a Driver backed by a remote automation service.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type GRPCDriver struct {
	conn         grpc.ClientConnInterface
	ops          longrunningpb.OperationsClient
	logger       *zap.Logger
	closer       func() error
	pollInterval time.Duration
}

// Dial connects to the driver. The connection is established lazily, so
// Dial does not fail when the driver is not yet running.
func Dial(cfg DialConfig, logger *zap.Logger) (*GRPCDriver, error) {
	var opts []grpc.DialOption

	if cfg.TLS {
		creds := credentials.NewTLS(nil)
		if cfg.CertFile != "" {
			var err error
			creds, err = credentials.NewClientTLSFromFile(cfg.CertFile, "")
			if err != nil {
				return nil, fmt.Errorf("failed to load TLS cert: %w", err)
			}
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	d := NewGRPCDriver(conn, logger)
	d.closer = conn.Close
	return d, nil
}

// NewGRPCDriver wraps an existing connection.
func NewGRPCDriver(conn grpc.ClientConnInterface, logger *zap.Logger) *GRPCDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCDriver{
		conn:         conn,
		ops:          longrunningpb.NewOperationsClient(conn),
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
}

// Close closes the underlying connection if Dial created it.
func (d *GRPCDriver) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

// OpenChat starts the OpenChat operation and waits for it to finish.
func (d *GRPCDriver) OpenChat(ctx context.Context, friend string, opts OpenOptions) (Region, error) {
	req, err := structpb.NewStruct(map[string]any{
		"friend":       friend,
		"wechat_path":  opts.WeChatPath,
		"search_pages": opts.SearchPages,
		"maximize":     opts.Maximize,
		"close_wechat": opts.CloseWeChat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	op := &longrunningpb.Operation{}
	if err := d.conn.Invoke(ctx, methodPath("OpenChat"), req, op); err != nil {
		return nil, openChatError(friend, err)
	}
	op, err = waitOperation(ctx, d.ops, op, d.pollInterval)
	if err != nil {
		return nil, openChatError(friend, err)
	}

	var resp structpb.Struct
	if packed := op.GetResponse(); packed != nil {
		if err := packed.UnmarshalTo(&resp); err != nil {
			return nil, fmt.Errorf("failed to parse OpenChat response: %w", err)
		}
	}
	id := resp.GetFields()["region"].GetStringValue()
	if id == "" {
		return nil, fmt.Errorf("driver returned no region for %s", friend)
	}

	d.logger.Debug("opened chat history", zap.String("friend", friend), zap.String("region", id))
	return &grpcRegion{driver: d, id: id}, nil
}

// Send delivers the batches in a single SendMessages call.
func (d *GRPCDriver) Send(ctx context.Context, deliveries []Delivery) error {
	list := make([]any, 0, len(deliveries))
	for _, dl := range deliveries {
		msgs := make([]any, 0, len(dl.Messages))
		for _, m := range dl.Messages {
			msgs = append(msgs, m)
		}
		list = append(list, map[string]any{
			"friend":       dl.Friend,
			"messages":     msgs,
			"search_pages": dl.SearchPages,
			"delay":        dl.Delay.Seconds(),
		})
	}
	if _, err := d.call(ctx, "SendMessages", map[string]any{"deliveries": list}); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrFriendNotFound, status.Convert(err).Message())
		}
		return err
	}
	return nil
}

func (d *GRPCDriver) call(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	resp := &structpb.Struct{}
	if err := d.conn.Invoke(ctx, methodPath(method), req, resp); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return resp, nil
}

func methodPath(method string) string {
	return "/" + ServiceName + "/" + method
}

// openChatError maps driver status codes onto the package's sentinel errors.
func openChatError(friend string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("failed to open chat with %s: %w", friend, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrFriendNotFound, friend)
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: you have not chatted with %s yet", ErrNoHistory, friend)
	default:
		return fmt.Errorf("failed to open chat with %s: %w", friend, err)
	}
}

// grpcRegion is a chat history window held open by the driver.
type grpcRegion struct {
	driver *GRPCDriver
	id     string
}

func (r *grpcRegion) ReadItems(ctx context.Context) ([]history.Item, error) {
	resp, err := r.driver.call(ctx, "ReadItems", map[string]any{"region": r.id})
	if err != nil {
		return nil, err
	}
	values := resp.GetFields()["items"].GetListValue().GetValues()
	items := make([]history.Item, 0, len(values))
	for _, v := range values {
		fields := v.GetStructValue().GetFields()
		item := history.Item{Text: fields["text"].GetStringValue()}
		for _, f := range fields["fragments"].GetListValue().GetValues() {
			item.Fragments = append(item.Fragments, f.GetStringValue())
		}
		items = append(items, item)
	}
	return items, nil
}

// ScrollBack reports the driver's "moved" flag, which is false once the list
// is at the start of history.
func (r *grpcRegion) ScrollBack(ctx context.Context) (bool, error) {
	resp, err := r.driver.call(ctx, "ScrollBack", map[string]any{"region": r.id})
	if err != nil {
		return false, err
	}
	return resp.GetFields()["moved"].GetBoolValue(), nil
}

func (r *grpcRegion) ScrollToEnd(ctx context.Context) error {
	_, err := r.driver.call(ctx, "ScrollToEnd", map[string]any{"region": r.id})
	return err
}

func (r *grpcRegion) Close(ctx context.Context) error {
	_, err := r.driver.call(ctx, "CloseRegion", map[string]any{"region": r.id})
	return err
}

var _ Driver = (*GRPCDriver)(nil)
