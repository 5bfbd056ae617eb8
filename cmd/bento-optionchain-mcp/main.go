// Copyright (c) 2025 Neomantra Corp
//
// bento-optionchain-mcp is a Model Context Protocol server exposing
// option-chain retrieval as a tool, matching the teacher's
// cmd/dbn-go-mcp-data entrypoint shape.
//
// NOTE: this incurs Databento billing, handle with care!
//

package main

import (
	"fmt"
	"log/slog"
	"os"

	mcp_server "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/pflag"

	"github.com/algoratio/bento-optionchain/internal/optcache"
	"github.com/algoratio/bento-optionchain/internal/optconfig"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optmcp"
	"github.com/algoratio/bento-optionchain/internal/optplan"
	"github.com/algoratio/bento-optionchain/internal/optquote"
	"github.com/algoratio/bento-optionchain/internal/optrequest"
	"github.com/algoratio/bento-optionchain/internal/optsink"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"
)

///////////////////////////////////////////////////////////////////////////////

const (
	mcpServerVersion = "0.0.1"

	defaultSSEHostPort = ":8890"

	serverInstructions = `bento-optionchain-mcp fetches and persists historical US equity option chains from Databento.

IMPORTANT — BILLING: fetch_option_chain incurs Databento billing for the underlying symbology and timeseries calls.

Call fetch_option_chain with a symbol and valuation date (and optional time) to retrieve and gap-fill that underlier's chain and write it to disk.`
)

var cfg = optconfig.Default()

func main() {
	var useSSE bool
	var sseHostPort string
	var showHelp bool

	cfg.BindFlags(pflag.CommandLine)
	pflag.BoolVarP(&useSSE, "sse", "", false, "use SSE transport (default is STDIO transport)")
	pflag.StringVarP(&sseHostPort, "port", "p", defaultSSEHostPort, "host:port for SSE connections")
	pflag.BoolVarP(&showHelp, "help", "h", false, "show help")
	pflag.Parse()

	if showHelp {
		fmt.Fprintf(os.Stdout, "usage: %s [opts]\n\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		logger.Error("failed to resolve Databento API key", "error", err)
		os.Exit(1)
	}

	planCfg := optplan.DefaultConfig(cfg.Dataset, cfg.Cbbo1STimeRange, cfg.Cbbo1MTimeRange)

	inner := optquote.NewDatabentoProvider(apiKey)
	provider := optquote.NewRateLimitedProvider(inner, int64(cfg.SymbologyThreads), int64(cfg.TimeseriesThreads), int(planCfg.SplitThreshold), cfg.Retries, logger)
	defer provider.Close()

	model := optsymbology.NewModel()
	cache := optcache.NewCache(cfg.LookupTimeRange)
	sink := optsink.NewCSVSink(cfg.BasePath, cfg.OutDateDirs, optsink.SideBySide)

	reqCfg := optrequest.Config{Dataset: cfg.Dataset, NDte: cfg.Dte, Plan: planCfg}
	orch := optrequest.NewOrchestrator(provider, model, cache, sink, reqCfg, nil, logger)

	mcpSrv := optmcp.NewServer(orch, cfg.RiskFreeRate, optmarket.NasdaqClose, logger)

	mcpServer := mcp_server.NewMCPServer("bento-optionchain-mcp", mcpServerVersion,
		mcp_server.WithRecovery(),
		mcp_server.WithInstructions(serverInstructions),
	)
	mcpSrv.RegisterTools(mcpServer)

	if useSSE {
		sseServer := mcp_server.NewSSEServer(mcpServer)
		logger.Info("MCP SSE server started", "hostPort", sseHostPort)
		if err := sseServer.Start(sseHostPort); err != nil {
			logger.Error("MCP SSE server error", "error", err)
			os.Exit(1)
		}
		return
	}
	logger.Info("MCP STDIO server started")
	if err := mcp_server.ServeStdio(mcpServer); err != nil {
		logger.Error("MCP STDIO server error", "error", err)
		os.Exit(1)
	}
}
