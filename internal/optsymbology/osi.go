// Copyright (c) 2025 Neomantra Corp

// Package optsymbology parses OSI option identifiers, builds the nested
// underlier/valuation-date/expiry/strike instrument table a symbology
// resolution populates, and derives expiry-date lists from it.
package optsymbology

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// osiRegex matches the OSI option symbol format: an underlier of one or
// more capital letters, optional padding spaces, 2-digit year, 2-digit month, 2-digit day,
// C or P, 5-digit dollar strike, 3-digit decimal strike.
var osiRegex = regexp.MustCompile(`^([A-Z]+)\s*(\d{2})(\d{2})(\d{2})(C|P)(\d{5})(\d{3})$`)

const (
	TypeCall = "C"
	TypePut  = "P"
)

// Osi holds the fields extracted from a parsed OSI option identifier.
type Osi struct {
	Identifier    string
	Underlier     string
	ExpiryDate    string // yyyy-mm-dd
	Type          string // "C" or "P"
	StrikeDollars string
	StrikeDecimal string
	Strike        string
}

// ErrInvalidOsi is returned by ParseOsi when identifier does not match
// the OSI option symbol format.
var ErrInvalidOsi = errors.New("optsymbology: invalid OSI identifier format")

// ParseOsi extracts the underlier, expiry date, type and strike from an
// OSI option identifier, matching original_source's OsiOption
// constructor field-for-field.
func ParseOsi(identifier string) (Osi, error) {
	match := osiRegex.FindStringSubmatch(identifier)
	if match == nil {
		return Osi{}, fmt.Errorf("%w: %s", ErrInvalidOsi, identifier)
	}
	dollars, decimal := match[6], match[7]
	return Osi{
		Identifier:    identifier,
		Underlier:     match[1],
		ExpiryDate:    "20" + match[2] + "-" + match[3] + "-" + match[4],
		Type:          match[5],
		StrikeDollars: dollars,
		StrikeDecimal: decimal,
		Strike:        formatStrike(dollars, decimal),
	}, nil
}

// IsCall reports whether o is a call option.
func (o Osi) IsCall() bool { return o.Type == TypeCall }

// IsPut reports whether o is a put option.
func (o Osi) IsPut() bool { return o.Type == TypePut }

// StrikeKey returns the sortable strike key (8-digit dollars+decimal
// concatenation) used to index a StrikeKeyToOsiInstrumentMap.
func (o Osi) StrikeKey() string {
	return o.StrikeDollars + o.StrikeDecimal
}

// formatStrike trims leading zeros from the dollar portion and trailing
// zeros from the decimal portion, joining them with a decimal point
// when a decimal remainder survives -- matching OsiOption::getStrike.
func formatStrike(strikeDollars, strikeDecimal string) string {
	dollars := strings.TrimLeft(strikeDollars, "0")
	if dollars == "" {
		dollars = "0"
	}
	decimal := strings.TrimRight(strikeDecimal, "0")
	if decimal == "" {
		return dollars
	}
	return dollars + "." + decimal
}

// ToStrikeKey turns a float strike into its 8-character strike-key
// string (5-digit dollars, 3-digit decimal), matching
// OsiOption::toStrikeKey. Strikes whose integer part exceeds 5 digits
// are truncated to their least-significant 5 digits.
func ToStrikeKey(strike float64) string {
	whole := int64(strike)
	frac := strike - float64(whole)
	dollars := strconv.FormatInt(whole, 10)
	if len(dollars) > 5 {
		dollars = dollars[len(dollars)-5:]
	}
	for len(dollars) < 5 {
		dollars = "0" + dollars
	}
	decimal := fmt.Sprintf("%.3f", frac)
	decimal = strings.TrimPrefix(decimal, "0.")
	if len(decimal) > 3 {
		decimal = decimal[:3]
	}
	for len(decimal) < 3 {
		decimal += "0"
	}
	return dollars + decimal
}

// ErrInvalidStrikeKey is returned when a strike key is not exactly 8
// digits long.
var ErrInvalidStrikeKey = errors.New("optsymbology: invalid strike key format")

// FromStrikeKey turns an 8-character strike key back into its float64
// strike value, matching OsiOption::fromStrikeKey.
func FromStrikeKey(strikeKey string) (float64, error) {
	if len(strikeKey) != 8 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeKey, strikeKey)
	}
	dollars, err := strconv.Atoi(strikeKey[:5])
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeKey, strikeKey)
	}
	decimal, err := strconv.Atoi(strikeKey[5:8])
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStrikeKey, strikeKey)
	}
	return float64(dollars) + float64(decimal)/1000.0, nil
}

// FromStrikeKeyAsString turns an 8-character strike key into its
// trimmed decimal string representation, matching
// OsiOption::fromStrikeKeyAsString.
func FromStrikeKeyAsString(strikeKey string) (string, error) {
	if len(strikeKey) != 8 {
		return "", fmt.Errorf("%w: %s", ErrInvalidStrikeKey, strikeKey)
	}
	return formatStrike(strikeKey[:5], strikeKey[5:8]), nil
}
