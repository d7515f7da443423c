package classifier

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	serrors "github.com/exploopio/sentinel/pkg/errors"
	grpctransport "github.com/exploopio/sentinel/pkg/transport/grpc"
)

// Sidecar service and method names.
const (
	ServiceName    = "sentinel.classifier.v1.Classifier"
	classifyMethod = "/" + ServiceName + "/Classify"
	draftMethod    = "/" + ServiceName + "/Draft"
)

// RemoteClassifier calls a classifier sidecar over gRPC. Requests and replies
// are the Request/Result and DraftRequest/Draft structs, JSON encoded.
type RemoteClassifier struct {
	transport *grpctransport.Transport
}

// NewRemoteClassifier connects a transport to the sidecar.
func NewRemoteClassifier(ctx context.Context, cfg *grpctransport.Config) (*RemoteClassifier, error) {
	t := grpctransport.NewTransport(cfg)
	if err := t.Connect(ctx); err != nil {
		return nil, serrors.E(serrors.KindClassifierUnavailable, "classifier.NewRemoteClassifier", err)
	}
	return &RemoteClassifier{transport: t}, nil
}

// Classify implements Classifier. The sidecar reply goes through the same
// range checks as a chat completion reply.
func (r *RemoteClassifier) Classify(ctx context.Context, req Request) (*Result, error) {
	const op = "classifier.Remote.Classify"

	var res Result
	if err := r.transport.Invoke(ctx, classifyMethod, &req, &res); err != nil {
		return nil, mapRPCError(op, err)
	}
	if res.Confidence < 0 || res.Confidence > 1 {
		return nil, serrors.E(serrors.KindMalformedResponse, op, fmt.Sprintf("confidence %v outside [0,1]", res.Confidence))
	}
	if res.Flagged && !res.Severity.IsValid() {
		return nil, serrors.E(serrors.KindMalformedResponse, op, fmt.Sprintf("unknown severity %q", res.Severity))
	}
	return &res, nil
}

// Draft implements Drafter.
func (r *RemoteClassifier) Draft(ctx context.Context, req DraftRequest) (*Draft, error) {
	const op = "classifier.Remote.Draft"

	var d Draft
	if err := r.transport.Invoke(ctx, draftMethod, &req, &d); err != nil {
		return nil, mapRPCError(op, err)
	}
	if d.Description == "" || len(d.Steps) == 0 {
		return nil, serrors.E(serrors.KindMalformedResponse, op, "draft has no description or steps")
	}
	return &d, nil
}

// Close releases the connection.
func (r *RemoteClassifier) Close() error {
	return r.transport.Close()
}

// String describes the backend for health reporting.
func (r *RemoteClassifier) String() string {
	return "grpc(" + r.transport.Address() + ")"
}

func mapRPCError(op string, err error) error {
	switch status.Code(err) {
	case codes.Canceled:
		return serrors.E(serrors.KindCanceled, op, err)
	case codes.InvalidArgument, codes.Internal, codes.DataLoss:
		return serrors.E(serrors.KindMalformedResponse, op, "sidecar rejected the call", err)
	default:
		return serrors.E(serrors.KindClassifierUnavailable, op, "sidecar call failed", err)
	}
}

// =============================================================================
// Sidecar server side
// =============================================================================

// Backend is what a sidecar serves.
type Backend interface {
	Classifier
	Drafter
}

// RegisterServer exposes backend on s under ServiceName, using the JSON codec.
// Used by Go sidecars and by tests.
func RegisterServer(s *grpc.Server, backend Backend) {
	s.RegisterService(&serviceDesc, backend)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Backend)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Classify", Handler: classifyHandler},
		{MethodName: "Draft", Handler: draftHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sentinel/classifier.json",
}

func classifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Request)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Backend).Classify(ctx, *req.(*Request))
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: classifyMethod}, handler)
}

func draftHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DraftRequest)
	if err := dec(in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Backend).Draft(ctx, *req.(*DraftRequest))
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: draftMethod}, handler)
}

var (
	_ Classifier = (*RemoteClassifier)(nil)
	_ Drafter    = (*RemoteClassifier)(nil)
)
