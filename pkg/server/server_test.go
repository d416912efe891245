package server_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fliox "github.com/friflo/fliox.go"
	"github.com/friflo/fliox.go/internal/codec"
	"github.com/friflo/fliox.go/pkg/connection"
	"github.com/friflo/fliox.go/pkg/connection/gorillaws"
	fhttp "github.com/friflo/fliox.go/pkg/connection/http"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/container/memory"
	"github.com/friflo/fliox.go/pkg/database"
	"github.com/friflo/fliox.go/pkg/hub"
	"github.com/friflo/fliox.go/pkg/logger"
	"github.com/friflo/fliox.go/pkg/metrics"
	"github.com/friflo/fliox.go/pkg/models"
	"github.com/friflo/fliox.go/pkg/protocol"
	"github.com/friflo/fliox.go/pkg/server"
)

type Article struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
}

func newServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	h := hub.New(hub.Info{Name: "server-test"}, hub.WithMetrics(metrics.New()))
	h.AddDatabase(database.New(constants.DefaultDatabase, memory.NewBackend(),
		database.WithContainer("articles", models.KeyString),
	))
	srv := server.New(h)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		assert.NoError(t, h.Close())
	})
	return ts, h
}

func config(t *testing.T, url string, c codec.Codec) *connection.Config {
	t.Helper()
	conf, err := connection.ParseConfig(url)
	require.NoError(t, err)
	conf.Codec = c
	conf.Logger = logger.Discard()
	conf.Timeout = 5 * time.Second
	return conf
}

func connectWS(t *testing.T, url string, c codec.Codec) *gorillaws.Connection {
	t.Helper()
	conn := gorillaws.New(config(t, url, c))
	require.NoError(t, conn.Connect(context.Background()))
	t.Cleanup(func() {
		_ = conn.Close(context.Background())
	})
	return conn
}

func articles(c *fliox.Client) *fliox.Container[string, Article] {
	return fliox.NewContainer[string, Article](c, "articles", models.StringCodec{})
}

func TestServer_health(t *testing.T) {
	ts, _ := newServer(t)

	resp, err := http.Get(ts.URL + constants.HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestServer_sync(t *testing.T) {
	testCases := []struct {
		name  string
		codec codec.Codec
	}{
		{name: "json", codec: codec.NewJSON()},
		{name: "cbor", codec: codec.NewCBOR()},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts, _ := newServer(t)
			ctx := context.Background()
			conn := fhttp.New(config(t, ts.URL, tc.codec))
			require.NoError(t, conn.Connect(ctx))
			c := fliox.New(conn)
			a := articles(c)

			a.Create("a1", Article{Name: "pen", Price: 2})
			a.Create("a2", Article{Name: "book", Price: 12})
			cheap := a.QueryText("price < 10")
			require.NoError(t, c.Sync(ctx))

			assert.Equal(t, []string{"a1"}, cheap.Keys())
			assert.Equal(t, []Article{{Name: "pen", Price: 2}}, cheap.Values())

			dup := a.Create("a1", Article{Name: "pen"})
			assert.ErrorIs(t, c.Sync(ctx), constants.ErrDuplicateKey)
			assert.ErrorIs(t, dup.Err(), constants.ErrDuplicateKey)
		})
	}
}

func TestServer_badRequest(t *testing.T) {
	ts, _ := newServer(t)

	resp, err := http.Post(ts.URL+constants.SyncPath, codec.JSONContentType, strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, codec.JSONContentType, resp.Header.Get("Content-Type"))

	var body protocol.SyncResponse
	require.NoError(t, codec.NewJSON().NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Error)
	assert.Equal(t, protocol.ValidationError, body.Error.Kind)
}

func TestServer_requestError(t *testing.T) {
	ts, _ := newServer(t)
	conn := fhttp.New(config(t, ts.URL, codec.NewJSON()))

	resp, err := conn.Send(context.Background(), &protocol.SyncRequest{Database: "unknown", ReqID: "r1", Tasks: []protocol.SyncTask{
		{Type: protocol.TaskQuery, Container: "articles"},
	}})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.ErrorIs(t, resp.Error, constants.ErrDatabaseNotFound)
}

func TestServer_subscribeOverHTTP(t *testing.T) {
	ts, _ := newServer(t)
	c := fliox.New(fhttp.New(config(t, ts.URL, codec.NewJSON())))

	_, err := c.Events()
	assert.ErrorIs(t, err, constants.ErrNoEvents)

	sub := articles(c).SubscribeChanges()
	require.Error(t, c.Sync(context.Background()))
	assert.ErrorIs(t, sub.Err(), constants.ErrValidation)
}

func TestServer_metrics(t *testing.T) {
	ts, _ := newServer(t)
	c := fliox.New(fhttp.New(config(t, ts.URL, codec.NewJSON())))
	articles(c).QueryAll()
	require.NoError(t, c.Sync(context.Background()))

	resp, err := http.Get(ts.URL + constants.MetricsPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body.String(), `fliox_sync_requests_total{db="main_db",result="ok"} 1`)
	assert.Contains(t, body.String(), `fliox_tasks_total{db="main_db",result="ok",task="query"} 1`)
}

func TestServer_websocketEvents(t *testing.T) {
	testCases := []struct {
		name  string
		codec codec.Codec
	}{
		{name: "json", codec: codec.NewJSON()},
		{name: "cbor", codec: codec.NewCBOR()},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts, h := newServer(t)
			ctx := context.Background()

			listener := fliox.New(connectWS(t, ts.URL, tc.codec), fliox.WithClientID("listener"))
			events, err := listener.Events()
			require.NoError(t, err)
			sub := articles(listener).SubscribeChanges(models.ChangeCreate, models.ChangeUpdate)
			require.NoError(t, listener.Sync(ctx))
			require.NoError(t, sub.Err())

			broker, err := h.Broker(constants.DefaultDatabase)
			require.NoError(t, err)
			assert.Equal(t, 1, broker.Count())

			writer := fliox.New(fhttp.New(config(t, ts.URL, codec.NewJSON())))
			a := articles(writer)
			a.Create("a1", Article{Name: "pen", Price: 2})
			a.Delete("a1")
			a.Upsert("a2", Article{Name: "book", Price: 12})
			require.NoError(t, writer.Sync(ctx))

			var received []protocol.EventMessage
			for len(received) < 2 {
				select {
				case ev := <-events:
					received = append(received, ev)
				case <-time.After(2 * time.Second):
					require.FailNow(t, "timeout waiting for events", "received %d", len(received))
				}
			}
			require.Equal(t, protocol.EventChange, received[0].Type)
			assert.Equal(t, uint64(1), received[0].Seq)
			assert.Equal(t, models.ChangeCreate, received[0].Change.Change)
			assert.Equal(t, models.StringKey("a1"), received[0].Change.Key)
			assert.Equal(t, uint64(2), received[1].Seq)
			assert.Equal(t, models.ChangeUpdate, received[1].Change.Change)
			assert.Equal(t, models.StringKey("a2"), received[1].Change.Key)
		})
	}
}

func TestServer_websocketClose(t *testing.T) {
	ts, h := newServer(t)
	ctx := context.Background()
	conn := connectWS(t, ts.URL, codec.NewJSON())
	c := fliox.New(conn)

	msg := c.SubscribeMessage("*")
	require.NoError(t, c.Sync(ctx))
	require.NoError(t, msg.Err())

	broker, err := h.Broker(constants.DefaultDatabase)
	require.NoError(t, err)
	require.Equal(t, 1, broker.Count())

	require.NoError(t, conn.Close(ctx))

	assert.Eventually(t, func() bool { return broker.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	_, err = conn.Send(ctx, &protocol.SyncRequest{Tasks: []protocol.SyncTask{{Type: protocol.TaskQuery, Container: "articles"}}})
	assert.ErrorIs(t, err, constants.ErrTransport)
}

func storedDoc(t *testing.T, h *hub.Hub, key string) models.Document {
	t.Helper()
	resp := h.Execute(context.Background(), &protocol.SyncRequest{Tasks: []protocol.SyncTask{
		{Type: protocol.TaskRead, Container: "articles", Keys: []models.EntityKey{models.StringKey(key)}},
	}}, nil)
	require.Nil(t, resp.Error)
	require.Nil(t, resp.Results[0].Error)
	require.Len(t, resp.Results[0].Entities, 1)
	return resp.Results[0].Entities[0].Doc
}

func TestServer_typedNumbers(t *testing.T) {
	ts, h := newServer(t)
	ctx := context.Background()

	writers := []struct {
		key   string
		codec codec.Codec
	}{
		{key: "json", codec: codec.NewJSON()},
		{key: "cbor", codec: codec.NewCBOR()},
	}
	for i, w := range writers {
		c := fliox.New(fhttp.New(config(t, ts.URL, w.codec)))
		articles(c).Create(w.key, Article{Name: "pen", Price: i + 2})
		require.NoError(t, c.Sync(ctx))

		doc := storedDoc(t, h, w.key)
		assert.Equal(t, int64(i+2), doc["price"], w.key)
	}

	reader := fliox.New(connectWS(t, ts.URL, codec.NewCBOR()))
	a := articles(reader)
	read := a.Read("json", "cbor")
	three := a.QueryText("price == 3")
	require.NoError(t, reader.Sync(ctx))

	assert.Equal(t, &Article{Name: "pen", Price: 2}, read.Get("json"))
	assert.Equal(t, &Article{Name: "pen", Price: 3}, read.Get("cbor"))
	assert.Equal(t, []string{"cbor"}, three.Keys())
}

func TestServer_emptyDocument(t *testing.T) {
	testCases := []struct {
		name    string
		connect func(t *testing.T, url string) connection.Connection
	}{
		{name: "http json", connect: func(t *testing.T, url string) connection.Connection {
			return fhttp.New(config(t, url, codec.NewJSON()))
		}},
		{name: "http cbor", connect: func(t *testing.T, url string) connection.Connection {
			return fhttp.New(config(t, url, codec.NewCBOR()))
		}},
		{name: "ws cbor", connect: func(t *testing.T, url string) connection.Connection {
			return connectWS(t, url, codec.NewCBOR())
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts, _ := newServer(t)
			ctx := context.Background()
			conn := tc.connect(t, ts.URL)
			c := fliox.New(conn)
			docs := fliox.NewContainer[string, models.Document](c, "articles", models.StringCodec{})

			created := docs.Create("a1", models.Document{})
			upserted := docs.Upsert("a2", models.Document{})
			patched := docs.Patch("a1", models.Document{})
			read := docs.Read("a1", "a2")
			require.NoError(t, c.Sync(ctx))

			require.NoError(t, created.Err())
			require.NoError(t, upserted.Err())
			require.NoError(t, patched.Err())
			assert.True(t, read.Found("a1"))
			assert.True(t, read.Found("a2"))
			assert.Empty(t, *read.Get("a1"))
		})
	}
}
