// Package fliox is the client of a fliox hub.
//
// A [Client] buffers tasks created through typed [Container] handles and
// sends them as one SyncRequest when [Client.Sync] is called. After the
// sync every task object carries its own result or error, a failing task
// never affects the other tasks of the same sync.
//
//	jobs := fliox.NewContainer[int64, Job](client, "jobs", models.IntCodec[int64]{})
//	create := jobs.Create(1, Job{Title: "a"})
//	done := jobs.Query(filter.FieldEq("completed", true))
//	err := client.Sync(ctx)
//
// # Connections
//
// The client reaches the hub through a [connection.Connection]: in-process
// ([github.com/friflo/fliox.go/pkg/connection/direct]), request/response over
// HTTP ([github.com/friflo/fliox.go/pkg/connection/http]) or a WebSocket
// ([github.com/friflo/fliox.go/pkg/connection/gorillaws]). Only the in-process
// and the WebSocket connection deliver change events, see [Client.Events].
//
// # Relations
//
// [Resolve] reads the entities referenced by the results of a previous sync
// with a single read task, however many sources reference them.
package fliox
