package plugin

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"testing"

	"github.com/felixgeelhaar/aarii/internal/embedding"
)

type failingEmbedder struct{}

func (failingEmbedder) Embed(texts []string) ([][]float32, error) { return nil, errors.New("model crashed") }
func (failingEmbedder) Dimensions() int                           { return 2 }

func dial(t *testing.T, impl Embedder) *EmbedderRPC {
	t.Helper()

	p := &EmbedderPlugin{Impl: impl}
	srvImpl, err := p.Server(nil)
	if err != nil {
		t.Fatalf("server failed: %v", err)
	}

	server := rpc.NewServer()
	if err := server.RegisterName("Plugin", srvImpl); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	clientConn, serverConn := net.Pipe()
	go server.ServeConn(serverConn)

	client := rpc.NewClient(clientConn)
	t.Cleanup(func() { client.Close() })

	raw, err := p.Client(nil, client)
	if err != nil {
		t.Fatalf("client failed: %v", err)
	}
	return raw.(*EmbedderRPC)
}

func TestEmbedderRPC(t *testing.T) {
	stub := dial(t, FromEmbedder(embedding.NewHash(16)))

	if stub.Dimensions() != 16 {
		t.Errorf("expected 16 dimensions, got %d", stub.Dimensions())
	}

	vecs, err := stub.Embed([]string{"hello world", ""})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 16 {
		t.Fatalf("unexpected vectors %v", vecs)
	}

	local, _ := embedding.NewHash(16).Embed(context.Background(), []string{"hello world"})
	for i := range local[0] {
		if local[0][i] != vecs[0][i] {
			t.Fatal("expected remote vector to match local embedding")
		}
	}
}

func TestEmbedderRPC_Error(t *testing.T) {
	stub := dial(t, failingEmbedder{})
	if _, err := stub.Embed([]string{"x"}); err == nil {
		t.Error("expected error to cross the RPC boundary")
	}
}

func TestPluginMap(t *testing.T) {
	if _, ok := PluginMap[EmbedderName]; !ok {
		t.Errorf("expected %q in plugin map", EmbedderName)
	}
}
