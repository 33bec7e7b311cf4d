// Package rpc declares the warden.v1.ApprovalService wire contract shared
// by the daemon and its clients. Messages travel as google.protobuf.Struct
// so no generated code is needed; Encode and Decode map them to the typed
// request and response values below.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/approval"
	"github.com/Clauskraft/LocalAgentWhybridSkills-sub003/internal/model"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "warden.v1.ApprovalService"

// Method names.
const (
	MethodEvaluate    = "Evaluate"
	MethodAuthorize   = "Authorize"
	MethodListPending = "ListPending"
	MethodHistory     = "History"
	MethodApprove     = "Approve"
	MethodReject      = "Reject"
	MethodApproveAll  = "ApproveAll"
	MethodRejectAll   = "RejectAll"
)

// FullMethod returns "/warden.v1.ApprovalService/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// EvaluateRequest asks for a decision on one action.
type EvaluateRequest struct {
	Action model.Action        `json:"action"`
	Policy model.PolicyContext `json:"policy"`
	RunID  string              `json:"run_id,omitempty"`
}

// EvaluateResponse carries the decision and the policy that produced it.
type EvaluateResponse struct {
	Decision   model.PolicyDecision `json:"decision"`
	PolicyHash string               `json:"policy_hash"`
}

// AuthorizeResponse is the outcome of a blocking authorization.
type AuthorizeResponse struct {
	Decision  model.PolicyDecision `json:"decision"`
	RequestID string               `json:"request_id,omitempty"`
	Status    approval.Status      `json:"status,omitempty"`
	Proceed   bool                 `json:"proceed"`
	Denied    bool                 `json:"denied,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// ListRequest bounds History. Limit <= 0 means everything held.
type ListRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ListResponse carries approval requests.
type ListResponse struct {
	Requests []approval.Request `json:"requests"`
}

// ResolveRequest names the request to resolve (empty for the *All methods)
// and who resolved it.
type ResolveRequest struct {
	ID string `json:"id,omitempty"`
	By string `json:"by"`
}

// ResolveResponse reports how many requests changed state.
type ResolveResponse struct {
	ID       string `json:"id,omitempty"`
	Resolved int    `json:"resolved"`
}

// Service is implemented by the daemon.
type Service interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Authorize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(Service, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, fn call) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(Service), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(Service), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes warden.v1.ApprovalService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodEvaluate, Service.Evaluate),
		unary(MethodAuthorize, Service.Authorize),
		unary(MethodListPending, Service.ListPending),
		unary(MethodHistory, Service.History),
		unary(MethodApprove, Service.Approve),
		unary(MethodReject, Service.Reject),
		unary(MethodApproveAll, Service.ApproveAll),
		unary(MethodRejectAll, Service.RejectAll),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "warden/v1/approval.proto",
}

// Register attaches impl to s.
func Register(s grpc.ServiceRegistrar, impl Service) {
	s.RegisterService(&ServiceDesc, impl)
}

// Encode converts v to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// Decode fills v from s through its JSON form. A nil s leaves v unchanged.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
