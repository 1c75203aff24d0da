// Package plugin lets an embedding model run in a separate process. The host
// launches the plugin binary with hashicorp/go-plugin and talks to it over
// net/rpc, so heavyweight or native model runtimes stay out of the main binary.
package plugin

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/felixgeelhaar/aarii/internal/embedding"
	"github.com/felixgeelhaar/aarii/internal/errdefs"
	"github.com/hashicorp/go-plugin"
)

// HandshakeConfig is used to handshake between host and plugin.
var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "AARII_PLUGIN_MAGIC_COOKIE",
	MagicCookieValue: "aarii-embedder",
}

// EmbedderName is the key the embedder is dispensed under.
const EmbedderName = "embedder"

// Embedder is the contract a plugin binary implements. RPC calls carry no
// context; cancellation is checked on the host side.
type Embedder interface {
	Embed(texts []string) ([][]float32, error)
	Dimensions() int
}

type EmbedArgs struct {
	Texts []string
}

type EmbedReply struct {
	Vectors [][]float32
}

// EmbedderRPCServer runs inside the plugin process.
type EmbedderRPCServer struct {
	Impl Embedder
}

func (s *EmbedderRPCServer) Embed(args EmbedArgs, reply *EmbedReply) error {
	vecs, err := s.Impl.Embed(args.Texts)
	if err != nil {
		return err
	}
	reply.Vectors = vecs
	return nil
}

func (s *EmbedderRPCServer) Dimensions(args interface{}, reply *int) error {
	*reply = s.Impl.Dimensions()
	return nil
}

// EmbedderRPC is the host-side stub.
type EmbedderRPC struct {
	client *rpc.Client
}

func (c *EmbedderRPC) Embed(texts []string) ([][]float32, error) {
	var reply EmbedReply
	if err := c.client.Call("Plugin.Embed", EmbedArgs{Texts: texts}, &reply); err != nil {
		return nil, err
	}
	return reply.Vectors, nil
}

func (c *EmbedderRPC) Dimensions() int {
	var dim int
	if err := c.client.Call("Plugin.Dimensions", new(interface{}), &dim); err != nil {
		return 0
	}
	return dim
}

// EmbedderPlugin implements plugin.Plugin for the net/rpc protocol.
type EmbedderPlugin struct {
	Impl Embedder
}

func (p *EmbedderPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &EmbedderRPCServer{Impl: p.Impl}, nil
}

func (p *EmbedderPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &EmbedderRPC{client: c}, nil
}

// PluginMap is the map of plugins the host can dispense.
var PluginMap = map[string]plugin.Plugin{
	EmbedderName: &EmbedderPlugin{},
}

// Serve blocks, serving impl to a host process. Call it from a plugin main.
func Serve(impl Embedder) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]plugin.Plugin{
			EmbedderName: &EmbedderPlugin{Impl: impl},
		},
	})
}

// FromEmbedder adapts an in-process embedder so it can be served.
func FromEmbedder(e embedding.Embedder) Embedder {
	return localEmbedder{e}
}

type localEmbedder struct {
	e embedding.Embedder
}

func (l localEmbedder) Embed(texts []string) ([][]float32, error) {
	return l.e.Embed(context.Background(), texts)
}

func (l localEmbedder) Dimensions() int {
	return l.e.Dimensions()
}

// Client is a launched plugin, usable as an embedding.Embedder.
type Client struct {
	proc *plugin.Client
	impl Embedder
	dim  int
}

// Launch starts the plugin binary at path and dispenses its embedder.
func Launch(path string, args ...string) (*Client, error) {
	proc := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              exec.Command(path, args...), // #nosec G204
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := proc.Client()
	if err != nil {
		proc.Kill()
		return nil, fmt.Errorf("failed to start embedder plugin %s: %w", path, err)
	}
	raw, err := rpcClient.Dispense(EmbedderName)
	if err != nil {
		proc.Kill()
		return nil, fmt.Errorf("failed to dispense embedder: %w", err)
	}
	impl, ok := raw.(Embedder)
	if !ok {
		proc.Kill()
		return nil, fmt.Errorf("plugin %s does not provide an embedder", path)
	}

	return &Client{proc: proc, impl: impl, dim: impl.Dimensions()}, nil
}

func (c *Client) Dimensions() int {
	return c.dim
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vecs, err := c.impl.Embed(texts)
	if err != nil {
		return nil, &errdefs.ProviderError{Provider: "plugin", Op: "embed", Err: err}
	}
	return vecs, nil
}

// Close terminates the plugin process.
func (c *Client) Close() {
	if c.proc != nil {
		c.proc.Kill()
	}
}
