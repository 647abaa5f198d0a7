package nats

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// runServer starts an in-process NATS server on a random port.
func runServer(t *testing.T, jetStream bool) *server.Server {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: jetStream,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func connectClient(t *testing.T, ns *server.Server) *Client {
	t.Helper()

	client, err := Connect(context.Background(), Config{URL: ns.ClientURL()}, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// fakeGateway answers bridge requests on <prefix>.<op> from its own connection.
type fakeGateway struct {
	conn   *nats.Conn
	prefix string

	mu       sync.Mutex
	requests map[string][]bridgeRequest
	replies  map[string]bridgeReply
}

func startGateway(t *testing.T, ns *server.Server, prefix string) *fakeGateway {
	t.Helper()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	g := &fakeGateway{
		conn:     nc,
		prefix:   prefix,
		requests: make(map[string][]bridgeRequest),
		replies:  make(map[string]bridgeReply),
	}

	_, err = nc.Subscribe(prefix+".*", func(msg *nats.Msg) {
		op := strings.TrimPrefix(msg.Subject, prefix+".")
		if op == opEvents || msg.Reply == "" {
			return
		}

		var req bridgeRequest
		_ = json.Unmarshal(msg.Data, &req)

		g.mu.Lock()
		g.requests[op] = append(g.requests[op], req)
		reply := g.replies[op]
		g.mu.Unlock()

		data, _ := json.Marshal(reply)
		_ = msg.Respond(data)
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	return g
}

func (g *fakeGateway) reply(op string, r bridgeReply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies[op] = r
}

func (g *fakeGateway) received(op string) []bridgeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]bridgeRequest(nil), g.requests[op]...)
}

func (g *fakeGateway) emit(t *testing.T, data string) {
	t.Helper()
	require.NoError(t, g.conn.Publish(g.prefix+"."+opEvents, []byte(data)))
	require.NoError(t, g.conn.Flush())
}
