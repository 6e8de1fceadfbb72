package sbi

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// DeviceConfigServiceName is the fully-qualified gRPC service name of the
// device configuration transport.
const DeviceConfigServiceName = "lightpath.device.v1.DeviceConfig"

// DeviceConfigServer is the server side of the device transport. Requests
// are structs {node, list, key[, value]}; responses carry {value}.
type DeviceConfigServer interface {
	Read(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Write(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var deviceConfigServiceDesc = grpc.ServiceDesc{
	ServiceName: DeviceConfigServiceName,
	HandlerType: (*DeviceConfigServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Read", Handler: unaryHandler("Read", DeviceConfigServer.Read)},
		{MethodName: "Write", Handler: unaryHandler("Write", DeviceConfigServer.Write)},
		{MethodName: "Delete", Handler: unaryHandler("Delete", DeviceConfigServer.Delete)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lightpath/device/v1/device_config.proto",
}

func unaryHandler(method string, call func(DeviceConfigServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + DeviceConfigServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DeviceConfigServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DeviceConfigServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterDeviceConfigServer registers srv on s.
func RegisterDeviceConfigServer(s grpc.ServiceRegistrar, srv DeviceConfigServer) {
	s.RegisterService(&deviceConfigServiceDesc, srv)
}

// NewGRPCServer serves backend over the device transport.
func NewGRPCServer(backend Client) DeviceConfigServer {
	return &grpcServer{backend: backend}
}

type grpcServer struct {
	backend Client
}

func (s *grpcServer) Read(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	node, p, err := decodeRequest(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	raw, err := s.backend.ReadConfig(ctx, node, p)
	if err != nil {
		return nil, ToStatusError(err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, ToStatusError(err)
	}
	resp, err := structpb.NewStruct(map[string]any{"value": v})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return resp, nil
}

func (s *grpcServer) Write(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	node, p, err := decodeRequest(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	value, ok := req.GetFields()["value"]
	if !ok {
		return nil, ToStatusError(fmt.Errorf("%w: write without value", errBadRequest))
	}
	raw, err := json.Marshal(value.AsInterface())
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.backend.WriteConfig(ctx, node, p, json.RawMessage(raw)); err != nil {
		return nil, ToStatusError(err)
	}
	return &structpb.Struct{}, nil
}

func (s *grpcServer) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	node, p, err := decodeRequest(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.backend.DeleteConfig(ctx, node, p); err != nil {
		return nil, ToStatusError(err)
	}
	return &structpb.Struct{}, nil
}

func decodeRequest(req *structpb.Struct) (string, Path, error) {
	f := req.GetFields()
	node := f["node"].GetStringValue()
	if node == "" {
		return "", Path{}, fmt.Errorf("%w: missing node", errBadRequest)
	}
	p := Path{List: f["list"].GetStringValue(), Key: f["key"].GetStringValue()}
	if err := p.Validate(); err != nil {
		return "", Path{}, err
	}
	return node, p, nil
}

// GRPCClient is a Client speaking the device transport.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

// NewGRPCClient wraps an established connection.
func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

// Dial connects to a device transport endpoint with client-side tracing.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
	return grpc.NewClient(target, append(base, opts...)...)
}

// ReadConfig implements Client.
func (c *GRPCClient) ReadConfig(ctx context.Context, node string, p Path) (json.RawMessage, error) {
	req, err := encodeRequest(node, p, nil)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+DeviceConfigServiceName+"/Read", req, resp); err != nil {
		return nil, FromStatusError(err)
	}
	raw, err := json.Marshal(resp.GetFields()["value"].AsInterface())
	if err != nil {
		return nil, fmt.Errorf("encode %s on %s: %w", p, node, err)
	}
	return raw, nil
}

// WriteConfig implements Client.
func (c *GRPCClient) WriteConfig(ctx context.Context, node string, p Path, value any) error {
	req, err := encodeRequest(node, p, value)
	if err != nil {
		return err
	}
	if err := c.conn.Invoke(ctx, "/"+DeviceConfigServiceName+"/Write", req, new(structpb.Struct)); err != nil {
		return FromStatusError(err)
	}
	return nil
}

// DeleteConfig implements Client.
func (c *GRPCClient) DeleteConfig(ctx context.Context, node string, p Path) error {
	req, err := encodeRequest(node, p, nil)
	if err != nil {
		return err
	}
	if err := c.conn.Invoke(ctx, "/"+DeviceConfigServiceName+"/Delete", req, new(structpb.Struct)); err != nil {
		return FromStatusError(err)
	}
	return nil
}

func encodeRequest(node string, p Path, value any) (*structpb.Struct, error) {
	fields := map[string]any{"node": node, "list": p.List, "key": p.Key}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s for %s: %w", p, node, err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, fmt.Errorf("encode %s for %s: %w", p, node, err)
		}
		fields["value"] = generic
	}
	return structpb.NewStruct(fields)
}
