package cli

import (
	"github.com/felixgeelhaar/aarii/internal/embedding"
	"github.com/felixgeelhaar/aarii/internal/plugin"
	"github.com/spf13/cobra"
)

var pluginDim int

var pluginCmd = &cobra.Command{
	Use:    "plugin",
	Short:  "Embedding plugin helpers",
	Hidden: true,
}

// serve-hash runs the hashing embedder as a plugin process, for wiring
// checks of embedding.backend: plugin without a model.
var pluginServeHashCmd = &cobra.Command{
	Use:   "serve-hash",
	Short: "Serve the hashing embedder over the plugin protocol",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		plugin.Serve(plugin.FromEmbedder(embedding.NewHash(pluginDim)))
	},
}

func init() {
	RootCmd.AddCommand(pluginCmd)
	pluginCmd.AddCommand(pluginServeHashCmd)
	pluginServeHashCmd.Flags().IntVar(&pluginDim, "dim", embedding.DefaultDimensions, "Vector dimensions")
}
