package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/victornm/livequiz/internal/errors"
)

// SessionAdminServer is the operator RPC surface. It only speaks protobuf well-known types,
// so the service is registered by hand instead of from generated code.
type SessionAdminServer interface {
	ListSessions(ctx context.Context, req *emptypb.Empty) (*structpb.ListValue, error)
	GetSession(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
}

const (
	sessionAdminServiceName       = "livequiz.admin.v1.SessionAdmin"
	sessionAdminListSessionsRoute = "/" + sessionAdminServiceName + "/ListSessions"
	sessionAdminGetSessionRoute   = "/" + sessionAdminServiceName + "/GetSession"
)

var _ SessionAdminServer = (*API)(nil)

var sessionAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: sessionAdminServiceName,
	HandlerType: (*SessionAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListSessions",
			Handler:    listSessionsHandler,
		},
		{
			MethodName: "GetSession",
			Handler:    getSessionHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "livequiz/admin/v1/admin.proto",
}

func (a *API) ListSessions(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	v, err := toValue(a.listSessions())
	if err != nil {
		return nil, errors.Internal(err)
	}

	l, err := structpb.NewList(v.([]any))
	if err != nil {
		return nil, errors.Internal(err)
	}

	return l, nil
}

func (a *API) GetSession(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, errors.InvalidArgument("session id is required")
	}

	s, err := a.getSession(req.GetValue())
	if err != nil {
		return nil, err
	}

	v, err := toValue(s)
	if err != nil {
		return nil, errors.Internal(err)
	}

	st, err := structpb.NewStruct(v.(map[string]any))
	if err != nil {
		return nil, errors.Internal(err)
	}

	return st, nil
}

func listSessionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(SessionAdminServer).ListSessions(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: sessionAdminListSessionsRoute,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionAdminServer).ListSessions(ctx, req.(*emptypb.Empty))
	}

	return interceptor(ctx, in, info, handler)
}

func getSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(SessionAdminServer).GetSession(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: sessionAdminGetSessionRoute,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SessionAdminServer).GetSession(ctx, req.(*wrapperspb.StringValue))
	}

	return interceptor(ctx, in, info, handler)
}

// SessionAdminClient calls a SessionAdmin service.
type SessionAdminClient struct {
	cc grpc.ClientConnInterface
}

func NewSessionAdminClient(cc grpc.ClientConnInterface) *SessionAdminClient {
	return &SessionAdminClient{cc: cc}
}

func (c *SessionAdminClient) ListSessions(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, sessionAdminListSessionsRoute, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionAdminClient) GetSession(ctx context.Context, sessionID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, sessionAdminGetSessionRoute, wrapperspb.String(sessionID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
