package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/squatguru/formguru/internal/analysis"
	"github.com/squatguru/formguru/internal/mcp"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// formguru-mcp serves the FormGuru MCP tools over stdio for desktop
// assistants, reading catalog data from a running FormGuru server.
func main() {
	serverURL := flag.String("server", "http://localhost:8080", "FormGuru server URL")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("formguru-mcp", Version)
		return
	}

	// stdout is the MCP transport.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("FormGuru MCP starting", "version", Version, "server", *serverURL)

	s := mcp.New(mcp.NewHTTPClient(*serverURL), analysis.DefaultOptions(), Version, log)
	if err := server.ServeStdio(s); err != nil {
		log.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
