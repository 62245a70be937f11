package mcp

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/agentcore-ai/agentcore/internal/tool"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

// RegisterFromConfig connects to every enabled MCP server in cfg and
// registers each of its tools into reg with a "source: mcp" tag (spec
// §4.6's tool shape). A server that fails to connect is logged and
// skipped; one broken MCP server must not keep the rest of the Tool
// Registry from loading.
func RegisterFromConfig(ctx context.Context, cfg map[string]types.MCPConfig, reg *tool.Registry, logger zerolog.Logger) *Client {
	client := NewClient()
	for name, sc := range cfg {
		if sc.Enabled != nil && !*sc.Enabled {
			continue
		}
		serverCfg := &Config{
			Enabled:     true,
			Type:        TransportType(sc.Type),
			URL:         sc.URL,
			Headers:     sc.Headers,
			Command:     sc.Command,
			Environment: sc.Environment,
			Timeout:     sc.Timeout,
		}
		if err := client.AddServer(ctx, name, serverCfg); err != nil {
			logger.Warn().Err(err).Str("server", name).Msg("mcp server connect failed")
			continue
		}
	}

	for _, t := range client.Tools() {
		reg.Register(NewMCPToolWrapper(t, client))
	}
	return client
}
