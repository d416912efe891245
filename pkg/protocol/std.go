package protocol

import (
	"fmt"

	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/filter"
)

// Commands every database of a hub provides.
const (
	StdEcho       = "std.Echo"
	StdHost       = "std.Host"
	StdContainers = "std.Containers"
	StdCount      = "std.Count"
	StdStats      = "std.Stats"
)

// CountParam is the parameter of std.Count.
type CountParam struct {
	Container  string       `json:"container"`
	Filter     *filter.Expr `json:"filter,omitempty"`
	FilterText string       `json:"filterText,omitempty"`
}

func (p CountParam) Validate() error {
	if p.Container == "" {
		return fmt.Errorf("%w: missing container", constants.ErrValidation)
	}
	if p.Filter != nil && p.FilterText != "" {
		return fmt.Errorf("%w: filter and filterText are exclusive", constants.ErrValidation)
	}
	return nil
}

// ContainerStats is one entry of the std.Stats result.
type ContainerStats struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DatabaseStats is the result of std.Stats.
type DatabaseStats struct {
	Database    string           `json:"db"`
	Containers  []ContainerStats `json:"containers"`
	Commands    []string         `json:"commands"`
	Subscribers int              `json:"subscribers"`
}
