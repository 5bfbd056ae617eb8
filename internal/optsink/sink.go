// Copyright (c) 2025 Neomantra Corp

// Package optsink turns a completed option chain into tabular output: a
// CSV writer over a pluggable output-stream factory, in either a
// side-by-side (put and call columns on one row per strike) or stacked
// (one row per put or call record) layout, plus a missing-chain notice
// writer for symbols an Orchestrator pass could not retrieve.
package optsink

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/algoratio/bento-optionchain/internal/optchain"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optsnapshot"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"
)

// CSVFormat picks between the stacked and side-by-side column layouts,
// matching PersisterCSV::CSVFormat. Stacked is the zero value, matching
// the source's default constructor argument.
type CSVFormat int

const (
	Stacked CSVFormat = iota
	SideBySide
)

// nullCell is DataGrid::Format::m_defaultNull, rendered for a timestamp
// column whose value was never set.
const nullCell = "{null}"

// OutputFactory opens a writer for pathname, matching
// PersisterCSV::Outputter. Tests substitute one that writes to a buffer
// instead of the filesystem.
type OutputFactory func(pathname string) (io.WriteCloser, error)

// MissingEntry is one symbol/expiry the Orchestrator failed to build a
// chain for, matching requestersynchronous's
// std::list<std::pair<Timestamp, std::string>> missing list.
type MissingEntry struct {
	At         time.Time
	ExpiryDate string
}

// Sink persists a completed option chain, or notes symbols a pass could
// not retrieve, matching the abstract Persister base class.
type Sink interface {
	Persist(chain optchain.OptionChain, env optmarket.Environment, logger *slog.Logger) error
	PersistMissing(symbol, valuationDate string, missing []MissingEntry) error
}

// CSVSink writes option chains as CSV files under basePath, one file per
// chain, matching PersisterCSV.
type CSVSink struct {
	basePath         string
	splitFoldersByDate bool
	format           CSVFormat
	outputter        OutputFactory
	missingOutputter OutputFactory
}

// NewCSVSink constructs a CSVSink writing plain files under basePath,
// matching PersisterCSV's constructor.
func NewCSVSink(basePath string, splitFoldersByDate bool, format CSVFormat) *CSVSink {
	return &CSVSink{
		basePath:           basePath,
		splitFoldersByDate: splitFoldersByDate,
		format:             format,
		outputter:          fileOutputter,
		missingOutputter:   fileOutputter,
	}
}

// SetOutputter overrides the chain-file output factory, matching
// PersisterCSV::setOutputter (used by tests to capture output without
// touching the filesystem).
func (s *CSVSink) SetOutputter(outputter OutputFactory) {
	s.outputter = outputter
}

// SetMissingOutputter overrides the missing-notice output factory,
// matching PersisterCSV::setMissingOutputter.
func (s *CSVSink) SetMissingOutputter(outputter OutputFactory) {
	s.missingOutputter = outputter
}

func fileOutputter(pathname string) (io.WriteCloser, error) {
	if dir := filepath.Dir(pathname); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("optsink: creating directory for %s: %w", pathname, err)
		}
	}
	return os.Create(pathname)
}

// filenamePart builds the directory+basename prefix shared by a chain's
// file and its missing-notice file, matching PersisterCSV::filenamePart.
func (s *CSVSink) filenamePart(valuationDate, symbol string) string {
	path := s.basePath
	if s.splitFoldersByDate {
		path += "/" + valuationDate
	}
	path += "/" + strings.ToLower(symbol)
	return path
}

// Persist writes chain's CSV file under basePath (inside a valuation-date
// subdirectory when splitFoldersByDate is set), with the lower-cased
// underlier as the file-name prefix, matching PersisterCSV::persist.
func (s *CSVSink) Persist(chain optchain.OptionChain, env optmarket.Environment, logger *slog.Logger) error {
	exchangeClose := env.ExchangeClose()
	chainTime := chain.ChainTime()
	expiryTime, err := chain.ExpiryTime(exchangeClose)
	if err != nil {
		return fmt.Errorf("optsink: computing expiry time for %s/%s/%s: %w",
			chain.Underlier, chain.ValuationDate, chain.ExpiryDate, err)
	}
	pcpRate, err := optchain.ParityRate(chain, env, logger)
	if err != nil {
		return fmt.Errorf("optsink: computing parity rate for %s/%s/%s: %w",
			chain.Underlier, chain.ValuationDate, chain.ExpiryDate, err)
	}
	precision := math.NaN()
	if score, scoreErr := optchain.ParityRateQualityScore(chain, env); scoreErr == nil {
		precision = math.Sqrt(score)
	} else if logger != nil {
		logger.Warn("optsink: failed to compute precision", "underlier", chain.Underlier,
			"valuation_date", chain.ValuationDate, "expiry_date", chain.ExpiryDate, "error", scoreErr)
	}

	outputPath := s.filenamePart(chain.ValuationDate, chain.Underlier)
	outputPath += fmt.Sprintf("_chain_%s_%s_n%d.csv", chain.ValuationDate, chain.ExpiryDate, len(chain.Puts))
	w, err := s.outputter(outputPath)
	if err != nil {
		return fmt.Errorf("optsink: opening %s: %w", outputPath, err)
	}
	defer w.Close()

	csvWriter := csv.NewWriter(w)
	loc := exchangeClose.Location()
	switch s.format {
	case SideBySide:
		err = writeSideBySide(csvWriter, chain, chainTime, expiryTime, pcpRate, precision, loc)
	case Stacked:
		err = writeStacked(csvWriter, chain, chainTime, expiryTime, pcpRate, precision, loc)
	default:
		return fmt.Errorf("optsink: unsupported CSV format %d", s.format)
	}
	if err != nil {
		return err
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// PersistMissing writes one line per missing symbol/expiry to a
// timestamped notice file, matching PersisterCSV::persistMissing. It is
// a no-op if missing is empty, matching the source's early return.
func (s *CSVSink) PersistMissing(symbol, valuationDate string, missing []MissingEntry) error {
	if len(missing) == 0 {
		return nil
	}
	basePath := s.filenamePart(valuationDate, symbol)
	pathName := basePath + fmt.Sprintf("_missing_%s_%s.txt", valuationDate, missing[0].At.Format("15-04-05"))
	w, err := s.missingOutputter(pathName)
	if err != nil {
		return fmt.Errorf("optsink: opening %s: %w", pathName, err)
	}
	defer w.Close()
	for _, entry := range missing {
		if _, err := fmt.Fprintf(w, "%s EXP %s\n", entry.At.Format("2006-01-02 15:04:05"), entry.ExpiryDate); err != nil {
			return err
		}
	}
	return nil
}

// cellKind distinguishes how a cell value is rendered to text, matching
// the dispatch DataGrid::DataType would otherwise do dynamically -- kept
// as an explicit, exhaustive Go type switch instead.
type cellKind int

const (
	cellString cellKind = iota
	cellDouble
	cellPrecision
	cellInt
	cellDate
	cellTimeOfDay
	cellTimestamp
)

type cell struct {
	kind cellKind
	s    string
	f    float64
	i    int64
	t    time.Time
}

func stringCell(s string) cell    { return cell{kind: cellString, s: s} }
func doubleCell(f float64) cell   { return cell{kind: cellDouble, f: f} }
func precisionCell(f float64) cell { return cell{kind: cellPrecision, f: f} }
func intCell(i uint64) cell       { return cell{kind: cellInt, i: int64(i)} }
func dateCell(t time.Time) cell   { return cell{kind: cellDate, t: t} }
func timeOfDayCell(t time.Time) cell { return cell{kind: cellTimeOfDay, t: t} }
func timestampCell(t time.Time) cell { return cell{kind: cellTimestamp, t: t} }

// formatCell renders c in loc, matching DataGrid::Format's
// DoubleFormat (".2f"/".4f"), m_defaultDateFormat ("%Y-%m-%d"),
// m_defaultTimeFormat ("%H:%M:%S") and m_defaultTimestampFormat
// ("%Y-%m-%d %H:%M:%S"), with unset timestamps rendered as
// DataGrid::Format::m_defaultNull.
func formatCell(c cell, loc *time.Location) string {
	switch c.kind {
	case cellString:
		return c.s
	case cellDouble:
		if math.IsNaN(c.f) {
			return "nan"
		}
		return strconv.FormatFloat(c.f, 'f', 2, 64)
	case cellPrecision:
		if math.IsNaN(c.f) {
			return "nan"
		}
		return strconv.FormatFloat(c.f, 'f', 4, 64)
	case cellInt:
		return strconv.FormatInt(c.i, 10)
	case cellDate:
		if c.t.IsZero() {
			return nullCell
		}
		return c.t.In(loc).Format("2006-01-02")
	case cellTimeOfDay:
		if c.t.IsZero() {
			return nullCell
		}
		return c.t.In(loc).Format("15:04:05")
	case cellTimestamp:
		if c.t.IsZero() {
			return nullCell
		}
		return c.t.In(loc).Format("2006-01-02 15:04:05")
	default:
		return ""
	}
}

func renderRow(cells []cell, loc *time.Location) []string {
	row := make([]string, len(cells))
	for i, c := range cells {
		row[i] = formatCell(c, loc)
	}
	return row
}

var sideBySideHeader = []string{
	"Symbol", "Date", "Time", "Rate", "Strike",
	"C_bid", "C_mid", "C_ask", "P_bid", "P_mid", "P_ask", "ExpDate",
	"C_BidSize", "C_AskSize", "C_RecvTime", "C_LastTrade", "C_LastTradeTime", "C_LastTradeSize", "C_Comment",
	"P_BidSize", "P_AskSize", "P_RecvTime", "P_LastTrade", "P_LastTradeTime", "P_LastTradeSize", "P_Comment",
	"Precision",
}

var stackedHeader = []string{
	"Symbol", "Date", "Time", "Rate", "Type", "Strike",
	"bid", "mid", "ask", "ExpDate",
	"BidSize", "AskSize", "RecvTime", "LastTrade", "LastTradeTime", "LastTradeSize", "Comment",
	"Precision",
}

func sortedStrikeKeys(m optsnapshot.RecordMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// writeSideBySide emits one row per strike present on both sides of the
// chain, matching CSVFromOptionChain::Algos::sideBySide's put-driven,
// call-matched iteration.
func writeSideBySide(w *csv.Writer, chain optchain.OptionChain, chainTime, expiryTime time.Time, pcpRate, precision float64, loc *time.Location) error {
	if err := w.Write(sideBySideHeader); err != nil {
		return err
	}
	for _, strikeKey := range sortedStrikeKeys(chain.Puts) {
		call, ok := chain.Calls[strikeKey]
		if !ok {
			continue
		}
		put := chain.Puts[strikeKey]
		strike, err := optsymbology.FromStrikeKeyAsString(strikeKey)
		if err != nil {
			continue
		}
		row := renderRow([]cell{
			stringCell(chain.Underlier), dateCell(chainTime), timeOfDayCell(chainTime), doubleCell(pcpRate), stringCell(strike),
			doubleCell(call.BidPriceOrNaN()), doubleCell(call.MidPrice()), doubleCell(call.AskPriceOrNaN()),
			doubleCell(put.BidPriceOrNaN()), doubleCell(put.MidPrice()), doubleCell(put.AskPriceOrNaN()),
			dateCell(expiryTime),
			intCell(call.BidPrice.Weight), intCell(call.AskPrice.Weight), timestampCell(call.RecvTime),
			doubleCell(call.TradePriceOrNaN()), timestampCell(call.PriceTime), intCell(call.Price.Weight), stringCell(call.Comment),
			intCell(put.BidPrice.Weight), intCell(put.AskPrice.Weight), timestampCell(put.RecvTime),
			doubleCell(put.TradePriceOrNaN()), timestampCell(put.PriceTime), intCell(put.Price.Weight), stringCell(put.Comment),
			precisionCell(precision),
		}, loc)
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// writeStacked emits one row per put record, then one row per call
// record, matching CSVFromOptionChain::Algos::stacked's two separate
// passes over the put and call maps.
func writeStacked(w *csv.Writer, chain optchain.OptionChain, chainTime, expiryTime time.Time, pcpRate, precision float64, loc *time.Location) error {
	if err := w.Write(stackedHeader); err != nil {
		return err
	}
	writeSide := func(recordMap optsnapshot.RecordMap, optType string) error {
		for _, strikeKey := range sortedStrikeKeys(recordMap) {
			rec := recordMap[strikeKey]
			strike, err := optsymbology.FromStrikeKeyAsString(strikeKey)
			if err != nil {
				continue
			}
			row := renderRow([]cell{
				stringCell(chain.Underlier), dateCell(chainTime), timeOfDayCell(chainTime), doubleCell(pcpRate), stringCell(optType), stringCell(strike),
				doubleCell(rec.BidPriceOrNaN()), doubleCell(rec.MidPrice()), doubleCell(rec.AskPriceOrNaN()),
				dateCell(expiryTime),
				intCell(rec.BidPrice.Weight), intCell(rec.AskPrice.Weight), timestampCell(rec.RecvTime),
				doubleCell(rec.TradePriceOrNaN()), timestampCell(rec.PriceTime), intCell(rec.Price.Weight), stringCell(rec.Comment),
				precisionCell(precision),
			}, loc)
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	}
	if err := writeSide(chain.Puts, "Put"); err != nil {
		return err
	}
	return writeSide(chain.Calls, "Call")
}
