package fliox

import (
	"github.com/friflo/fliox.go/pkg/protocol"
)

// Echo returns param unchanged.
func (c *Client) Echo(param any) *CommandTask[any] {
	return Command[any](c, protocol.StdEcho, param)
}

// Host returns the info of the hub serving the client.
func (c *Client) Host() *CommandTask[protocol.HubInfo] {
	return Command[protocol.HubInfo](c, protocol.StdHost, nil)
}

// Containers returns the container names of the client's database.
func (c *Client) Containers() *CommandTask[[]string] {
	return Command[[]string](c, protocol.StdContainers, nil)
}

func (c *Client) Stats() *CommandTask[protocol.DatabaseStats] {
	return Command[protocol.DatabaseStats](c, protocol.StdStats, nil)
}
