package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client talks to a running kernel's control socket. tenexctl is the only
// consumer today.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to target (host:port or a unix socket DSN understood by the
// grpc resolver) using the JSON codec registered in codec.go.
func Dial(target string) (*Client, error) {
	cc, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.cc.Close()
}

// QueueStatus fetches the current lock and waiting queue for a project.
func (c *Client) QueueStatus(ctx context.Context, req *QueueStatusRequest) (*QueueStatusResponse, error) {
	resp := new(QueueStatusResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/QueueStatus", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// QueueForceRelease releases a project's execution lock regardless of
// holder.
func (c *Client) QueueForceRelease(ctx context.Context, req *QueueForceReleaseRequest) (*QueueForceReleaseResponse, error) {
	resp := new(QueueForceReleaseResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/QueueForceRelease", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// QueueRemove drops a queued conversation from a project's waiting queue.
func (c *Client) QueueRemove(ctx context.Context, req *QueueRemoveRequest) (*QueueRemoveResponse, error) {
	resp := new(QueueRemoveResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/QueueRemove", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
