package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/large-farva/heimdall/internal/schema"
)

const methodSendMetric = "SendMetric"

// metricHandler is the handler type registered with grpc.ServiceDesc.
type metricHandler interface {
	sendMetric(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error)
}

// Server answers SendMetric calls for the service resolved from the schema.
type Server struct {
	service protoreflect.ServiceDescriptor
	method  protoreflect.MethodDescriptor
	store   Store
	log     *zap.Logger
	now     func() time.Time
}

// NewServer binds a server to sd, which must declare SendMetric.
func NewServer(sd protoreflect.ServiceDescriptor, store Store, log *zap.Logger) (*Server, error) {
	md := sd.Methods().ByName(methodSendMetric)
	if md == nil {
		return nil, fmt.Errorf("%w: %s has no %s method", schema.ErrServiceNotFound, sd.FullName(), methodSendMetric)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		service: sd,
		method:  md,
		store:   store,
		log:     log,
		now:     time.Now,
	}, nil
}

// Register adds the metric service to r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&grpc.ServiceDesc{
		ServiceName: string(s.service.FullName()),
		HandlerType: (*metricHandler)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: methodSendMetric, Handler: s.handleSendMetric},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: s.service.ParentFile().Path(),
	}, s)
}

func (s *Server) handleSendMetric(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := dynamicpb.NewMessage(s.method.Input())
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(metricHandler).sendMetric(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: schema.FullMethod(s.service, s.method),
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(metricHandler).sendMetric(ctx, req.(*dynamicpb.Message))
	}
	return interceptor(ctx, in, info, handler)
}

func (s *Server) sendMetric(ctx context.Context, req *dynamicpb.Message) (*dynamicpb.Message, error) {
	eventType := stringField(req, "eventType")
	data := stringField(req, "data")

	s.log.Info("received metric", zap.String("event_type", eventType))
	s.log.Debug("metric data", zap.String("data", data))

	rec := Record{
		ID:         uuid.NewString(),
		EventType:  eventType,
		Message:    data,
		ReceivedAt: s.now().UTC(),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		s.log.Error("error processing metric", zap.Error(err))
		return s.reply("error", "Error: "+err.Error()), nil
	}
	return s.reply("success", "Metric received: "+eventType), nil
}

func (s *Server) reply(status, message string) *dynamicpb.Message {
	out := dynamicpb.NewMessage(s.method.Output())
	setStringField(out, "status", status)
	setStringField(out, "message", message)
	return out
}

func stringField(m *dynamicpb.Message, name string) string {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil || fd.Kind() != protoreflect.StringKind {
		return ""
	}
	return m.Get(fd).String()
}

func setStringField(m *dynamicpb.Message, name, v string) {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil || fd.Kind() != protoreflect.StringKind {
		return
	}
	m.Set(fd, protoreflect.ValueOfString(v))
}
