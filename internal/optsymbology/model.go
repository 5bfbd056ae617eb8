// Copyright (c) 2025 Neomantra Corp

package optsymbology

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/algoratio/bento-optionchain/internal/optquote"
)

// OsiToInstrumentID pairs an OSI identifier with the instrument id it
// resolved to.
type OsiToInstrumentID struct {
	Osi          string
	InstrumentID string
}

// StrikeKeyToOsiInstrumentMap maps every strike key for an underlier and
// expiry date (within one side of the chain) to its OSI/instrument-id
// pair.
type StrikeKeyToOsiInstrumentMap map[string]OsiToInstrumentID

// StrikeKeyPutCallMap combines the put and call sides of a chain for one
// underlier and expiry date.
type StrikeKeyPutCallMap struct {
	Puts  StrikeKeyToOsiInstrumentMap
	Calls StrikeKeyToOsiInstrumentMap
}

func newStrikeKeyPutCallMap() *StrikeKeyPutCallMap {
	return &StrikeKeyPutCallMap{
		Puts:  make(StrikeKeyToOsiInstrumentMap),
		Calls: make(StrikeKeyToOsiInstrumentMap),
	}
}

// ExpiryToPutCallMap maps an expiry date to its put/call chain.
type ExpiryToPutCallMap map[string]*StrikeKeyPutCallMap

// ValuationDateToExpiryPutCallMap maps a valuation date to the expiry
// dates resolved for it.
type ValuationDateToExpiryPutCallMap map[string]ExpiryToPutCallMap

// UnderlierToPutCallMap maps an underlier to all its resolved valuation
// dates.
type UnderlierToPutCallMap map[string]ValuationDateToExpiryPutCallMap

// UnmappedMapping records an OSI identifier that resolved to more than
// one mapping interval -- unexpected for a single business-day request.
type UnmappedMapping struct {
	Osi      string
	Interval optquote.MappingInterval
}

// Unmapped collects the diagnostic leftovers of a symbology resolution:
// OSI identifiers with no interval, identifiers that failed to parse as
// OSI, and identifiers that resolved to more than one interval.
type Unmapped struct {
	OsiIdentifiers        []string
	InvalidOsiIdentifiers []string
	Mappings              []UnmappedMapping
}

// Model is the nested underlier -> valuation-date -> expiry-date ->
// strike-key instrument table built from one or more symbology
// resolutions. It is safe for concurrent use.
type Model struct {
	mu       sync.RWMutex
	table    UnderlierToPutCallMap
	unmapped Unmapped
}

// NewModel constructs an empty Model.
func NewModel() *Model {
	return &Model{table: make(UnderlierToPutCallMap)}
}

// Insert absorbs a symbology resolution's mappings into the table,
// recording anything it cannot cleanly place into Unmapped. It matches
// OptionInstruments::insert field-for-field, including its assumption
// that a single-business-day resolution has at most one interval per
// OSI identifier.
func (m *Model) Insert(resolution optquote.SymbologyResolution) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for osiIdentifier, intervals := range resolution.Mappings {
		if len(intervals) == 0 {
			m.unmapped.OsiIdentifiers = append(m.unmapped.OsiIdentifiers, osiIdentifier)
			continue
		}
		osi, err := ParseOsi(osiIdentifier)
		if err != nil {
			m.unmapped.InvalidOsiIdentifiers = append(m.unmapped.InvalidOsiIdentifiers, osiIdentifier)
			continue
		}
		first := intervals[0]
		valuationDate := first.StartDate

		expiryToPutCallMap, ok := m.table[osi.Underlier][valuationDate]
		if !ok {
			if _, ok := m.table[osi.Underlier]; !ok {
				m.table[osi.Underlier] = make(ValuationDateToExpiryPutCallMap)
			}
			expiryToPutCallMap = make(ExpiryToPutCallMap)
			m.table[osi.Underlier][valuationDate] = expiryToPutCallMap
		}
		strikeKeyPutCallMap, ok := expiryToPutCallMap[osi.ExpiryDate]
		if !ok {
			strikeKeyPutCallMap = newStrikeKeyPutCallMap()
			expiryToPutCallMap[osi.ExpiryDate] = strikeKeyPutCallMap
		}

		side := strikeKeyPutCallMap.Calls
		if osi.IsPut() {
			side = strikeKeyPutCallMap.Puts
		}
		side[osi.StrikeKey()] = OsiToInstrumentID{Osi: osiIdentifier, InstrumentID: first.Symbol}

		for _, extra := range intervals[1:] {
			m.unmapped.Mappings = append(m.unmapped.Mappings, UnmappedMapping{Osi: osiIdentifier, Interval: extra})
		}
	}
}

// GetUnmapped returns a snapshot of the diagnostic leftovers accumulated
// across every Insert call so far.
func (m *Model) GetUnmapped() Unmapped {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Unmapped{
		OsiIdentifiers:        append([]string(nil), m.unmapped.OsiIdentifiers...),
		InvalidOsiIdentifiers: append([]string(nil), m.unmapped.InvalidOsiIdentifiers...),
		Mappings:              append([]UnmappedMapping(nil), m.unmapped.Mappings...),
	}
}

// GetStrikeKeyPutCallMap returns the chain for underlier, valuation date
// and expiry date, or nil if nothing has been resolved for it yet.
func (m *Model) GetStrikeKeyPutCallMap(underlier, date, expiryDate string) *StrikeKeyPutCallMap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strikeKeyPutCallMapLocked(underlier, date, expiryDate)
}

func (m *Model) strikeKeyPutCallMapLocked(underlier, date, expiryDate string) *StrikeKeyPutCallMap {
	dateLevel, ok := m.table[underlier]
	if !ok {
		return nil
	}
	expiryLevel, ok := dateLevel[date]
	if !ok {
		return nil
	}
	return expiryLevel[expiryDate]
}

// Contains reports whether a chain has been resolved for underlier, date
// and expiryDate.
func (m *Model) Contains(underlier, date, expiryDate string) bool {
	return m.GetStrikeKeyPutCallMap(underlier, date, expiryDate) != nil
}

// GetExpiryDatesForDTE lists every expiry date on or after date whose
// distance from date is within nDte days, in ascending order. It
// matches OptionInstruments::getExpiryDatesForDTE, relying on
// lexicographic == chronological ordering of yyyy-mm-dd expiry strings
// to stop early once the window is exceeded.
func (m *Model) GetExpiryDatesForDTE(underlier, date string, nDte int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expiryDates []string
	dateLevel, ok := m.table[underlier]
	if !ok {
		return expiryDates, nil
	}
	expiryLevel, ok := dateLevel[date]
	if !ok {
		return expiryDates, nil
	}
	ofDate, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("optsymbology: parsing valuation date %q: %w", date, err)
	}
	for _, expDate := range sortedKeys(expiryLevel) {
		ofExpDate, err := time.Parse("2006-01-02", expDate)
		if err != nil {
			return nil, fmt.Errorf("optsymbology: parsing expiry date %q: %w", expDate, err)
		}
		if ofExpDate.Before(ofDate) {
			continue
		}
		if ofExpDate.Sub(ofDate) <= time.Duration(nDte)*24*time.Hour {
			expiryDates = append(expiryDates, expDate)
		} else {
			break
		}
	}
	return expiryDates, nil
}

// GetNextExpiryDate returns the 0-DTE expiry (if one exists for date)
// followed by the next later expiry date, matching
// OptionInstruments::getNextExpiryDate.
func (m *Model) GetNextExpiryDate(underlier, date string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expiryDates []string
	dateLevel, ok := m.table[underlier]
	if !ok {
		return expiryDates, nil
	}
	expiryLevel, ok := dateLevel[date]
	if !ok {
		return expiryDates, nil
	}
	ofDate, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("optsymbology: parsing valuation date %q: %w", date, err)
	}
	for _, expDate := range sortedKeys(expiryLevel) {
		ofExpDate, err := time.Parse("2006-01-02", expDate)
		if err != nil {
			return nil, fmt.Errorf("optsymbology: parsing expiry date %q: %w", expDate, err)
		}
		if ofExpDate.Before(ofDate) {
			continue
		}
		expiryDates = append(expiryDates, expDate)
		if expDate != date {
			break
		}
	}
	return expiryDates, nil
}

// MakeOsiToInstrumentIDMap flattens both sides of a chain into a single
// OSI-identifier -> instrument-id map.
func MakeOsiToInstrumentIDMap(chain StrikeKeyPutCallMap) map[string]string {
	out := make(map[string]string, len(chain.Puts)+len(chain.Calls))
	for _, pair := range chain.Puts {
		out[pair.Osi] = pair.InstrumentID
	}
	for _, pair := range chain.Calls {
		out[pair.Osi] = pair.InstrumentID
	}
	return out
}

// MakeInstrumentIDToOsiMap is the inverse of MakeOsiToInstrumentIDMap.
func MakeInstrumentIDToOsiMap(chain StrikeKeyPutCallMap) map[string]string {
	out := make(map[string]string, len(chain.Puts)+len(chain.Calls))
	for _, pair := range chain.Puts {
		out[pair.InstrumentID] = pair.Osi
	}
	for _, pair := range chain.Calls {
		out[pair.InstrumentID] = pair.Osi
	}
	return out
}

// MakeStrikeKeyToInstrumentIDMap flattens one side of a chain into a
// strike-key -> instrument-id map.
func MakeStrikeKeyToInstrumentIDMap(side StrikeKeyToOsiInstrumentMap) map[string]string {
	out := make(map[string]string, len(side))
	for key, pair := range side {
		out[key] = pair.InstrumentID
	}
	return out
}

// GetUnderliers lists every underlier with at least one resolved chain.
func (m *Model) GetUnderliers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.table)
}

// GetValuationDates lists every valuation date resolved for underlier.
func (m *Model) GetValuationDates(underlier string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.table[underlier])
}

// GetExpiryDates lists every expiry date resolved for underlier and
// valuationDate.
func (m *Model) GetExpiryDates(underlier, valuationDate string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.table[underlier][valuationDate])
}

// GetStrikeKeys lists the strike keys on the put (put=true) or call
// side of the chain for underlier, valuationDate and expiryDate.
func (m *Model) GetStrikeKeys(underlier, valuationDate, expiryDate string, put bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.strikeKeyPutCallMapLocked(underlier, valuationDate, expiryDate)
	if chain == nil {
		return nil
	}
	side := chain.Calls
	if put {
		side = chain.Puts
	}
	return sortedKeys(side)
}

// GetStrikes lists the decimal strike values, in strike-key order, on
// the put or call side of the chain for underlier, valuationDate and
// expiryDate.
func (m *Model) GetStrikes(underlier, valuationDate, expiryDate string, put bool) ([]string, error) {
	keys := m.GetStrikeKeys(underlier, valuationDate, expiryDate, put)
	strikes := make([]string, 0, len(keys))
	for _, key := range keys {
		strike, err := FromStrikeKeyAsString(key)
		if err != nil {
			return nil, err
		}
		strikes = append(strikes, strike)
	}
	return strikes, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
