package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name. Requests and
// replies are google.protobuf.Struct values holding the JSON form of the
// types in this package.
const ServiceName = "chatsync.v1.ChatSync"

// ChatSyncServer is the daemon side of the service.
type ChatSyncServer interface {
	Status(context.Context, *Empty) (*StatusReply, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ConversationsReply, error)
	GetConversation(context.Context, *IDRequest) (*ConversationReply, error)
	Open(context.Context, *OpenRequest) (*MessagesReply, error)
	FetchOlder(context.Context, *FetchOlderRequest) (*MessagesReply, error)
	Send(context.Context, *SendRequest) (*SendReply, error)
	Start(context.Context, *UsernameRequest) (*ConversationReply, error)
	Resolve(context.Context, *ResolveRequest) (*ConversationReply, error)
	Delete(context.Context, *IDRequest) (*Empty, error)
	MarkRead(context.Context, *IDRequest) (*Empty, error)
	ListContacts(context.Context, *ListContactsRequest) (*ContactsReply, error)
	SearchUsers(context.Context, *SearchUsersRequest) (*UsersReply, error)
	Refresh(context.Context, *RefreshRequest) (*Empty, error)
	Focus(context.Context, *Empty) (*Empty, error)
	SetDraft(context.Context, *SetDraftRequest) (*Empty, error)
	Watch(*WatchRequest, grpc.ServerStream) error
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(ChatSyncServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handle := func(ctx context.Context, raw any) (any, error) {
				req := new(Req)
				if err := decode(raw.(*structpb.Struct), req); err != nil {
					return nil, invalidArgument(err.Error())
				}
				resp, err := call(srv.(ChatSyncServer), ctx, req)
				if err != nil {
					return nil, toStatus(err)
				}
				return encode(resp)
			}
			if interceptor == nil {
				return handle(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, handle)
		},
	}
}

var watchStream = grpc.StreamDesc{
	StreamName:    "Watch",
	ServerStreams: true,
	Handler: func(srv any, stream grpc.ServerStream) error {
		in := new(structpb.Struct)
		if err := stream.RecvMsg(in); err != nil {
			return err
		}
		req := new(WatchRequest)
		if err := decode(in, req); err != nil {
			return invalidArgument(err.Error())
		}
		return srv.(ChatSyncServer).Watch(req, stream)
	},
}

// ServiceDesc describes the service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatSyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", ChatSyncServer.Status),
		unary("ListConversations", ChatSyncServer.ListConversations),
		unary("GetConversation", ChatSyncServer.GetConversation),
		unary("Open", ChatSyncServer.Open),
		unary("FetchOlder", ChatSyncServer.FetchOlder),
		unary("Send", ChatSyncServer.Send),
		unary("Start", ChatSyncServer.Start),
		unary("Resolve", ChatSyncServer.Resolve),
		unary("Delete", ChatSyncServer.Delete),
		unary("MarkRead", ChatSyncServer.MarkRead),
		unary("ListContacts", ChatSyncServer.ListContacts),
		unary("SearchUsers", ChatSyncServer.SearchUsers),
		unary("Refresh", ChatSyncServer.Refresh),
		unary("Focus", ChatSyncServer.Focus),
		unary("SetDraft", ChatSyncServer.SetDraft),
	},
	Streams:  []grpc.StreamDesc{watchStream},
	Metadata: "chatsync/v1/chatsync.proto",
}

// RegisterChatSyncServer registers srv on s.
func RegisterChatSyncServer(s grpc.ServiceRegistrar, srv ChatSyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}
