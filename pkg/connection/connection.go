// Package connection defines how a client reaches a hub. A Connection
// delivers one SyncRequest and returns its SyncResponse. Connections able
// to carry pushed events also implement EventSource.
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/friflo/fliox.go/internal/codec"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/protocol"
)

type Connection interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	// Send fails with an error wrapping constants.ErrTransport when the
	// request could not be delivered or no response was received. Every
	// task of the request is unresolved in that case.
	Send(ctx context.Context, req *protocol.SyncRequest) (*protocol.SyncResponse, error)
}

// EventSource is implemented by connections receiving pushed events.
// The channel is closed when the connection closes.
type EventSource interface {
	Events() <-chan protocol.EventMessage
}

// TransportError wraps err with constants.ErrTransport keeping err in the chain.
func TransportError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", constants.ErrTransport, err)
}

// Toolkit correlates responses received on a duplex connection to the
// requests waiting for them.
type Toolkit struct {
	BaseURL string
	Codec   codec.Codec

	ResponseChannels     map[string]chan *protocol.SyncResponse
	ResponseChannelsLock sync.RWMutex
}

func (tk *Toolkit) CreateResponseChannel(id string) (chan *protocol.SyncResponse, error) {
	tk.ResponseChannelsLock.Lock()
	defer tk.ResponseChannelsLock.Unlock()

	if _, ok := tk.ResponseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	// buffered, so the read loop never waits for a caller that gave up
	ch := make(chan *protocol.SyncResponse, 1)
	tk.ResponseChannels[id] = ch

	return ch, nil
}

func (tk *Toolkit) RemoveResponseChannel(id string) {
	tk.ResponseChannelsLock.Lock()
	defer tk.ResponseChannelsLock.Unlock()
	delete(tk.ResponseChannels, id)
}

func (tk *Toolkit) GetResponseChannel(id string) (chan *protocol.SyncResponse, bool) {
	tk.ResponseChannelsLock.RLock()
	defer tk.ResponseChannelsLock.RUnlock()
	ch, ok := tk.ResponseChannels[id]
	return ch, ok
}

func (tk *Toolkit) PreConnectionChecks() error {
	if tk.BaseURL == "" {
		return constants.ErrNoBaseURL
	}

	if tk.Codec == nil {
		return constants.ErrNoMarshaler
	}

	return nil
}
