// contender MCP server.
// Exposes run/campaign status tools over MCP stdio transport, backed
// by contenderd's status HTTP surface.
package main

import (
	"fmt"
	"os"

	mcptools "github.com/gateway-fm/contender/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	contenderdURL := os.Getenv("CONTENDERD_URL")
	if contenderdURL == "" {
		contenderdURL = "http://localhost:13001"
	}

	s := server.NewMCPServer(
		"contender",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := mcptools.NewClient(contenderdURL)
	mcptools.RegisterTools(s, client)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}
