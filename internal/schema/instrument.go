// Package schema defines the canonical data model shared across the bridge.
package schema

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tidemark/mdbridge/errs"
)

// InstrumentID uniquely identifies an instrument within the bridge.
type InstrumentID string

// Contract is the venue-specific descriptor needed to address an instrument
// on the external gateway.
type Contract struct {
	Symbol       string            `json:"symbol"`
	SecurityType string            `json:"securityType"`
	Exchange     string            `json:"exchange"`
	Currency     string            `json:"currency"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Clone returns a deep copy of the contract.
func (c Contract) Clone() Contract {
	out := c
	if len(c.Attributes) > 0 {
		out.Attributes = make(map[string]string, len(c.Attributes))
		for k, v := range c.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Instrument pairs an identifier with its venue contract descriptor.
// Instances are immutable once loaded by the directory.
type Instrument struct {
	ID       InstrumentID
	Contract Contract
	TickSize decimal.Decimal
}

// IsCurrencyPair reports whether the instrument belongs to the
// currency-pair asset class, for which the venue reports no trade prints.
func (i Instrument) IsCurrencyPair() bool {
	return strings.EqualFold(strings.TrimSpace(i.Contract.SecurityType), "CASH")
}

// Validate checks the minimum contract surface required to address the
// instrument on the venue.
func (i Instrument) Validate() error {
	if strings.TrimSpace(string(i.ID)) == "" {
		return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage("instrument id required"))
	}
	if strings.TrimSpace(i.Contract.Symbol) == "" {
		return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage("contract symbol required"))
	}
	if strings.TrimSpace(i.Contract.SecurityType) == "" {
		return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage("contract security type required"))
	}
	return nil
}

// MarketDataType selects the venue market data feed mode.
type MarketDataType string

const (
	MarketDataRealtime      MarketDataType = "realtime"
	MarketDataFrozen        MarketDataType = "frozen"
	MarketDataDelayed       MarketDataType = "delayed"
	MarketDataDelayedFrozen MarketDataType = "delayed_frozen"
)

// Code returns the venue wire code for the feed mode.
func (t MarketDataType) Code() int {
	switch t {
	case MarketDataFrozen:
		return 2
	case MarketDataDelayed:
		return 3
	case MarketDataDelayedFrozen:
		return 4
	default:
		return 1
	}
}
