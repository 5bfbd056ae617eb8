// Copyright (c) 2025 Neomantra Corp

package optquote

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/zstd"
	json "github.com/segmentio/encoding/json"
)

// DatabentoProvider is the concrete, HTTP-backed Provider talking to
// Databento's historical API. It is modeled directly on the teacher's
// hist.databentoGetRequest/databentoPostFormRequest helpers
// (hist/hist.go), swapping the plain net/http.Client for
// hashicorp/go-retryablehttp so transient network failures are retried
// beneath this module's own domain-level Retry/DelayedRetry (§4.3).
type DatabentoProvider struct {
	APIKey     string
	BaseURL    string
	httpClient *retryablehttp.Client
}

// NewDatabentoProvider constructs a DatabentoProvider for apiKey. The
// default base URL matches Databento's historical API.
func NewDatabentoProvider(apiKey string) *DatabentoProvider {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	return &DatabentoProvider{
		APIKey:     apiKey,
		BaseURL:    "https://hist.databento.com/v0",
		httpClient: client,
	}
}

func (p *DatabentoProvider) authHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(p.APIKey+":"))
}

func (p *DatabentoProvider) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", p.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", p.authHeader())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == 401 || resp.StatusCode == 403 {
		return nil, fmt.Errorf("%w: HTTP %d %s", ErrAuthentication, resp.StatusCode, string(body))
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("optquote: HTTP %d %s %s", resp.StatusCode, resp.Status, string(body))
	}
	return body, nil
}

type resolutionWire struct {
	Result   map[string][]struct {
		D0 string `json:"d0"`
		D1 string `json:"d1"`
		S  string `json:"s"`
	} `json:"result"`
	Partial  []string `json:"partial"`
	NotFound []string `json:"not_found"`
}

// ResolveSymbology implements Provider.
func (p *DatabentoProvider) ResolveSymbology(ctx context.Context, dataset, underlier, date string) (SymbologyResolution, error) {
	form := url.Values{
		"dataset":   {dataset},
		"symbols":   {underlier},
		"stype_in":  {"raw_symbol"},
		"stype_out": {"instrument_id"},
		"start_date": {date},
	}
	body, err := p.postForm(ctx, "/symbology.resolve", form)
	if err != nil {
		return SymbologyResolution{}, err
	}
	var wire resolutionWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return SymbologyResolution{}, fmt.Errorf("optquote: decoding symbology.resolve response: %w", err)
	}
	res := SymbologyResolution{
		Mappings: make(map[string][]MappingInterval, len(wire.Result)),
		Partial:  wire.Partial,
		NotFound: wire.NotFound,
	}
	for osi, intervals := range wire.Result {
		mapped := make([]MappingInterval, 0, len(intervals))
		for _, iv := range intervals {
			mapped = append(mapped, MappingInterval{StartDate: iv.D0, EndDate: iv.D1, Symbol: iv.S})
		}
		res.Mappings[osi] = mapped
	}
	return res, nil
}

// GetCbboRange implements Provider. The response body is zstd-decoded
// newline-delimited JSON, matching the teacher's compressed_io.go
// pattern (MakeCompressedReader) for any zstd-compressed stream.
func (p *DatabentoProvider) GetCbboRange(ctx context.Context, ids []string, dataset string, schema Schema, at time.Time, window time.Duration) ([]CbboMsg, error) {
	end := at.Add(Lookahead)
	start := end.Add(-window)

	form := url.Values{
		"dataset":     {dataset},
		"symbols":     {strings.Join(ids, ",")},
		"schema":      {schema.String()},
		"start":       {start.Format(time.RFC3339Nano)},
		"end":         {end.Format(time.RFC3339Nano)},
		"stype_in":    {"instrument_id"},
		"encoding":    {"json"},
		"compression": {"zstd"},
	}
	body, err := p.postForm(ctx, "/timeseries.get_range", form)
	if err != nil {
		return nil, err
	}
	return decodeCbboStream(body)
}

func decodeCbboStream(body []byte) ([]CbboMsg, error) {
	reader, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	decoded, err := reader.DecodeAll(body, nil)
	if err != nil {
		if isZstdBufferOverflow(err) {
			return nil, ErrDecoderBufferOverflow
		}
		return nil, err
	}

	var msgs []CbboMsg
	for _, line := range strings.Split(strings.TrimSpace(string(decoded)), "\n") {
		if line == "" {
			continue
		}
		var msg CbboMsg
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("optquote: decoding cbbo record: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// isZstdBufferOverflow classifies a zstd decode error as a decoder
// buffer-overflow, mirroring original_source/src/retry.cpp's
// Retry::isZstdBufferOverflow (matching on the decoder's own error text).
func isZstdBufferOverflow(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "zstd") || strings.Contains(strings.ToLower(err.Error()), "buffer")
}
