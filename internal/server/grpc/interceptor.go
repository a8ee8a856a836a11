package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/server/sessions"
)

// sessionInterceptor moves the browser session id from the call metadata into
// the context of ledger service calls.
func (s *GRPCServer) sessionInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	if strings.HasPrefix(info.FullMethod, "/"+LedgerServiceName+"/") {

		var sid string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			values := md.Get(common.SessionMetadataKey)
			if len(values) > 0 {
				sid = strings.TrimSpace(values[0])
			}
		}
		if len(sid) == 0 {
			return nil, status.Error(codes.InvalidArgument, "missing session id")
		}

		ctx = sessions.WithID(ctx, sid)

	}

	return handler(ctx, req)
}
