// Copyright (c) 2025 Neomantra Corp

package optsink

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	pqfile "github.com/apache/arrow-go/v18/parquet/file"
	pqschema "github.com/apache/arrow-go/v18/parquet/schema"

	"github.com/algoratio/bento-optionchain/internal/optchain"
	"github.com/algoratio/bento-optionchain/internal/optmarket"
	"github.com/algoratio/bento-optionchain/internal/optsnapshot"
	"github.com/algoratio/bento-optionchain/internal/optsymbology"
)

// ArrowSink is a columnar side-channel sink alongside CSVSink, writing
// one Parquet file per chain in the stacked put/call row shape, adapted
// from the teacher's internal/file parquet writer (there is no Parquet
// export anywhere in original_source; this sink exists purely so an
// operator can query chains with a columnar engine instead of parsing
// CSV).
type ArrowSink struct {
	basePath           string
	splitFoldersByDate bool
}

// NewArrowSink constructs an ArrowSink writing files under basePath,
// mirroring CSVSink's directory layout.
func NewArrowSink(basePath string, splitFoldersByDate bool) *ArrowSink {
	return &ArrowSink{basePath: basePath, splitFoldersByDate: splitFoldersByDate}
}

func arrowGroupNode() *pqschema.GroupNode {
	return pqschema.MustGroup(pqschema.NewGroupNode("schema", parquet.Repetitions.Required, pqschema.FieldList{
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted("symbol", parquet.Repetitions.Optional, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1)),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted("valuation_date", parquet.Repetitions.Optional, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1)),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted("expiry_date", parquet.Repetitions.Optional, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1)),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeLogical("chain_time", parquet.Repetitions.Optional, pqschema.NewTimestampLogicalType(true, pqschema.TimeUnitNanos), parquet.Types.Int64, 0, -1)),
		pqschema.NewFloat64Node("rate", parquet.Repetitions.Optional, -1),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted("type", parquet.Repetitions.Optional, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1)),
		pqschema.NewFloat64Node("strike", parquet.Repetitions.Optional, -1),
		pqschema.NewFloat64Node("bid", parquet.Repetitions.Optional, -1),
		pqschema.NewFloat64Node("mid", parquet.Repetitions.Optional, -1),
		pqschema.NewFloat64Node("ask", parquet.Repetitions.Optional, -1),
		pqschema.NewInt64Node("bid_size", parquet.Repetitions.Optional, -1),
		pqschema.NewInt64Node("ask_size", parquet.Repetitions.Optional, -1),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeLogical("recv_time", parquet.Repetitions.Optional, pqschema.NewTimestampLogicalType(true, pqschema.TimeUnitNanos), parquet.Types.Int64, 0, -1)),
		pqschema.NewFloat64Node("last_trade", parquet.Repetitions.Optional, -1),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeLogical("last_trade_time", parquet.Repetitions.Optional, pqschema.NewTimestampLogicalType(true, pqschema.TimeUnitNanos), parquet.Types.Int64, 0, -1)),
		pqschema.NewInt64Node("last_trade_size", parquet.Repetitions.Optional, -1),
		pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted("comment", parquet.Repetitions.Optional, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1)),
		pqschema.NewFloat64Node("precision", parquet.Repetitions.Optional, -1),
	}, -1))
}

// Persist writes chain's records as Parquet rows, matching CSVSink's
// filename convention but with a .parquet extension.
func (s *ArrowSink) Persist(chain optchain.OptionChain, env optmarket.Environment, logger *slog.Logger) error {
	chainTime := chain.ChainTime()
	pcpRate, err := optchain.ParityRate(chain, env, logger)
	if err != nil {
		return fmt.Errorf("optsink: computing parity rate for %s/%s/%s: %w",
			chain.Underlier, chain.ValuationDate, chain.ExpiryDate, err)
	}
	precision := math.NaN()
	if score, scoreErr := optchain.ParityRateQualityScore(chain, env); scoreErr == nil {
		precision = math.Sqrt(score)
	} else if logger != nil {
		logger.Warn("optsink: failed to compute precision", "underlier", chain.Underlier, "error", scoreErr)
	}

	outputPath := (&CSVSink{basePath: s.basePath, splitFoldersByDate: s.splitFoldersByDate}).filenamePart(chain.ValuationDate, chain.Underlier)
	outputPath += fmt.Sprintf("_chain_%s_%s_n%d.parquet", chain.ValuationDate, chain.ExpiryDate, len(chain.Puts))

	outFile, err := createWithDirs(outputPath)
	if err != nil {
		return fmt.Errorf("optsink: opening %s: %w", outputPath, err)
	}
	defer outFile.Close()

	pwProperties := parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(compress.Codecs.Snappy))
	pw := pqfile.NewParquetWriter(outFile, arrowGroupNode(), pqfile.WithWriterProps(pwProperties))
	defer pw.Close()

	rgw := pw.AppendBufferedRowGroup()
	writeRow := func(optType string, strikeKey string, rec optsnapshot.Record) error {
		strike, err := optsymbology.FromStrikeKey(strikeKey)
		if err != nil {
			return nil
		}
		return writeArrowRow(rgw, chain, chainTime, pcpRate, optType, strike, rec, precision)
	}
	for _, strikeKey := range sortedStrikeKeys(chain.Puts) {
		if err := writeRow("Put", strikeKey, chain.Puts[strikeKey]); err != nil {
			return err
		}
	}
	for _, strikeKey := range sortedStrikeKeys(chain.Calls) {
		if err := writeRow("Call", strikeKey, chain.Calls[strikeKey]); err != nil {
			return err
		}
	}
	rgw.Close()
	return pw.FlushWithFooter()
}

// PersistMissing writes the same plain-text notice CSVSink does, so an
// Orchestrator can use either sink interchangeably.
func (s *ArrowSink) PersistMissing(symbol, valuationDate string, missing []MissingEntry) error {
	csvSink := NewCSVSink(s.basePath, s.splitFoldersByDate, Stacked)
	return csvSink.PersistMissing(symbol, valuationDate, missing)
}

func writeArrowRow(rgw pqfile.BufferedRowGroupWriter, chain optchain.OptionChain, chainTime time.Time,
	pcpRate float64, optType string, strike float64, rec optsnapshot.Record, precision float64) error {
	def := []int16{1}
	col := func(i int) pqfile.ColumnChunkWriter {
		cw, _ := rgw.Column(i)
		return cw
	}
	col(0).(*pqfile.ByteArrayColumnChunkWriter).WriteBatch([]parquet.ByteArray{[]byte(chain.Underlier)}, def, nil)
	col(1).(*pqfile.ByteArrayColumnChunkWriter).WriteBatch([]parquet.ByteArray{[]byte(chain.ValuationDate)}, def, nil)
	col(2).(*pqfile.ByteArrayColumnChunkWriter).WriteBatch([]parquet.ByteArray{[]byte(chain.ExpiryDate)}, def, nil)
	col(3).(*pqfile.Int64ColumnChunkWriter).WriteBatch([]int64{chainTime.UnixNano()}, def, nil)
	col(4).(*pqfile.Float64ColumnChunkWriter).WriteBatch([]float64{pcpRate}, def, nil)
	col(5).(*pqfile.ByteArrayColumnChunkWriter).WriteBatch([]parquet.ByteArray{[]byte(optType)}, def, nil)
	col(6).(*pqfile.Float64ColumnChunkWriter).WriteBatch([]float64{strike}, def, nil)
	col(7).(*pqfile.Float64ColumnChunkWriter).WriteBatch([]float64{rec.BidPriceOrNaN()}, def, nil)
	col(8).(*pqfile.Float64ColumnChunkWriter).WriteBatch([]float64{rec.MidPrice()}, def, nil)
	col(9).(*pqfile.Float64ColumnChunkWriter).WriteBatch([]float64{rec.AskPriceOrNaN()}, def, nil)
	col(10).(*pqfile.Int64ColumnChunkWriter).WriteBatch([]int64{int64(rec.BidPrice.Weight)}, def, nil)
	col(11).(*pqfile.Int64ColumnChunkWriter).WriteBatch([]int64{int64(rec.AskPrice.Weight)}, def, nil)
	col(12).(*pqfile.Int64ColumnChunkWriter).WriteBatch([]int64{rec.RecvTime.UnixNano()}, def, nil)
	col(13).(*pqfile.Float64ColumnChunkWriter).WriteBatch([]float64{rec.TradePriceOrNaN()}, def, nil)
	col(14).(*pqfile.Int64ColumnChunkWriter).WriteBatch([]int64{rec.PriceTime.UnixNano()}, def, nil)
	col(15).(*pqfile.Int64ColumnChunkWriter).WriteBatch([]int64{int64(rec.Price.Weight)}, def, nil)
	col(16).(*pqfile.ByteArrayColumnChunkWriter).WriteBatch([]parquet.ByteArray{[]byte(rec.Comment)}, def, nil)
	col(17).(*pqfile.Float64ColumnChunkWriter).WriteBatch([]float64{precision}, def, nil)
	return nil
}

func createWithDirs(pathname string) (*os.File, error) {
	w, err := fileOutputter(pathname)
	if err != nil {
		return nil, err
	}
	return w.(*os.File), nil
}
