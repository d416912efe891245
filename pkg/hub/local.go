package hub

import (
	"context"

	"github.com/friflo/fliox.go/pkg/protocol"
)

// localConnection executes the syncs of a command's client in-process on the
// session of the request invoking the command.
type localConnection struct {
	hub  *Hub
	sess *Session
}

func (c *localConnection) Connect(context.Context) error {
	return nil
}

func (c *localConnection) Close(context.Context) error {
	return nil
}

func (c *localConnection) Send(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error) {
	return c.hub.Execute(ctx, req, c.sess), nil
}
