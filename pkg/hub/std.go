package hub

import (
	"github.com/friflo/fliox.go/pkg/database"
	"github.com/friflo/fliox.go/pkg/protocol"
)

// registerStd adds the commands every database of a hub provides.
func registerStd(h *Hub, db *database.Database) {
	db.AddHandler(protocol.StdEcho, func(_ *database.Command, param any) (any, error) {
		return param, nil
	})
	database.AddCommand(db, protocol.StdHost, func(cmd *database.Command, _ any) (protocol.HubInfo, error) {
		return cmd.Hub, nil
	})
	database.AddCommand(db, protocol.StdContainers, func(cmd *database.Command, _ any) ([]string, error) {
		return cmd.Database.ContainerNames(), nil
	})
	database.AddCommand(db, protocol.StdCount, stdCount)
	database.AddCommand(db, protocol.StdStats, func(cmd *database.Command, _ any) (protocol.DatabaseStats, error) {
		return stdStats(h, cmd)
	})
}

func stdCount(cmd *database.Command, param protocol.CountParam) (int, error) {
	prog, err := compileFilter(param.Filter, param.FilterText)
	if err != nil {
		return 0, err
	}
	cont, err := cmd.Database.Container(cmd.Context, param.Container)
	if err != nil {
		return 0, err
	}
	return cont.Count(cmd.Context, prog)
}

func stdStats(h *Hub, cmd *database.Command) (protocol.DatabaseStats, error) {
	db := cmd.Database
	stats := protocol.DatabaseStats{
		Database: db.Name(),
		Commands: db.CommandNames(),
	}
	for _, name := range db.ContainerNames() {
		cont, err := db.Container(cmd.Context, name)
		if err != nil {
			return stats, err
		}
		n, err := cont.Count(cmd.Context, nil)
		if err != nil {
			return stats, err
		}
		stats.Containers = append(stats.Containers, protocol.ContainerStats{Name: name, Count: n})
	}
	if broker, err := h.Broker(db.Name()); err == nil {
		stats.Subscribers = broker.Count()
	}
	return stats, nil
}
