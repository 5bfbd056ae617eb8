// Copyright (c) 2025 Neomantra Corp

package optmcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcp_server "github.com/mark3labs/mcp-go/server"

	"github.com/algoratio/bento-optionchain/internal/optmarket"
)

///////////////////////////////////////////////////////////////////////////////

// RegisterTools registers the option-chain MCP tool surface on mcpServer.
func (s *Server) RegisterTools(mcpServer *mcp_server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("fetch_option_chain",
			mcp.WithDescription("Fetches and persists a put/call option chain for one underlier as of a valuation date/time. CAUTION: this incurs Databento billing for the underlying symbology and timeseries calls."),
			mcp.WithDestructiveHintAnnotation(false),
			mcp.WithIdempotentHintAnnotation(true),
			mcp.WithString("symbol",
				mcp.Required(),
				mcp.Description("Underlier ticker, e.g. SPY"),
			),
			mcp.WithString("date",
				mcp.Required(),
				mcp.Description("Valuation date, YYYY-MM-DD"),
			),
			mcp.WithString("time",
				mcp.Description("Valuation time, HH:MM[:SS], interpreted in the exchange close timezone. Defaults to the exchange close."),
			),
		),
		s.fetchOptionChainHandler,
	)
}

func (s *Server) fetchOptionChainHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, err := request.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultErrorf("missing symbol: %s", err), nil
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	dateStr, err := request.RequireString("date")
	if err != nil {
		return mcp.NewToolResultErrorf("missing date: %s", err), nil
	}
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return mcp.NewToolResultErrorf("invalid date %q: %s", dateStr, err), nil
	}

	at := time.Date(date.Year(), date.Month(), date.Day(), s.ExchangeClose.Hour, s.ExchangeClose.Minute, 0, 0, s.ExchangeClose.Location())
	if timeStr, err := request.RequireString("time"); err == nil && timeStr != "" {
		layout := "15:04"
		if strings.Count(timeStr, ":") == 2 {
			layout = "15:04:05"
		}
		clock, err := time.ParseInLocation(layout, timeStr, s.ExchangeClose.Location())
		if err != nil {
			return mcp.NewToolResultErrorf("invalid time %q: %s", timeStr, err), nil
		}
		at = time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, s.ExchangeClose.Location())
	}

	env := optmarket.NewStaticEnvironment(s.RiskFreeRate, s.ExchangeClose)
	if err := s.Orchestrator.RequestOptionChains(ctx, symbol, at.UTC(), env); err != nil {
		return mcp.NewToolResultErrorf("failed to fetch option chain: %s", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("fetched and persisted option chain for %s at %s", symbol, at.UTC().Format(time.RFC3339))), nil
}
