// Copyright (c) 2025 Neomantra Corp

// Package optmcp exposes option-chain retrieval as an MCP tool surface,
// replacing the teacher's internal/mcp_data + internal/mcp_meta with the
// one tool this pipeline needs: fetching and persisting a single
// underlier/date chain on demand.
package optmcp

import (
	"log/slog"

	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optrequest"
)

// Server holds the shared collaborators MCP tool handlers call into,
// matching internal/mcp_meta.Server's role as shared per-process state.
type Server struct {
	Orchestrator *optrequest.Orchestrator
	ExchangeClose optmarket.ExchangeClose
	RiskFreeRate  float64
	Logger        *slog.Logger
}

// NewServer builds a Server over an already-wired Orchestrator.
func NewServer(orch *optrequest.Orchestrator, riskFreeRate float64, exchangeClose optmarket.ExchangeClose, logger *slog.Logger) *Server {
	return &Server{
		Orchestrator:  orch,
		ExchangeClose: exchangeClose,
		RiskFreeRate:  riskFreeRate,
		Logger:        logger,
	}
}
