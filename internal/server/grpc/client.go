package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/dmitrijs2005/asyncupload/internal/common"
)

// LedgerClient calls the form-save hook on behalf of one browser session.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func withSession(ctx context.Context, sid string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, common.SessionMetadataKey, sid)
}

// Untrack marks path as saved by a form so the cleanup pass keeps it.
func (c *LedgerClient) Untrack(ctx context.Context, sid, path string) error {
	out := new(emptypb.Empty)
	return c.cc.Invoke(withSession(ctx, sid), untrackMethod, wrapperspb.String(path), out)
}

// Clear drops every tracked path of the session.
func (c *LedgerClient) Clear(ctx context.Context, sid string) error {
	out := new(emptypb.Empty)
	return c.cc.Invoke(withSession(ctx, sid), clearMethod, &emptypb.Empty{}, out)
}

func (c *LedgerClient) List(ctx context.Context, sid string) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(withSession(ctx, sid), listMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		paths = append(paths, v.GetStringValue())
	}
	return paths, nil
}
