package model

import "time"

// PriceBar is one daily OHLCV bar. (Symbol, Date) is unique.
type PriceBar struct {
	Symbol        string    `json:"symbol"`
	Date          time.Time `json:"date"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         *float64  `json:"close"`
	Volume        int64     `json:"volume"`
	AdjustedClose *float64  `json:"adjusted_close,omitempty"`
	Source        string    `json:"source"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// LookupStatus describes how a price lookup resolved.
type LookupStatus string

const (
	// LookupExact means a bar exists for the requested date.
	LookupExact LookupStatus = "exact"
	// LookupNearest means the most recent prior trading day within the lookback was used.
	LookupNearest LookupStatus = "nearest"
	// LookupUnavailable means no bar exists within the lookback window.
	LookupUnavailable LookupStatus = "unavailable"
	// LookupNullClose means the resolved bar has no close price (a data-quality defect).
	LookupNullClose LookupStatus = "null_close"
)

// PriceLookup is the result of a point-in-time price query.
type PriceLookup struct {
	Symbol    string       `json:"symbol"`
	Requested time.Time    `json:"requested"`
	Status    LookupStatus `json:"status"`
	Bar       *PriceBar    `json:"bar,omitempty"`
}

// Found reports whether the lookup produced a usable close price.
func (l *PriceLookup) Found() bool {
	return l != nil && (l.Status == LookupExact || l.Status == LookupNearest) && l.Bar != nil && l.Bar.Close != nil
}

// Price returns the resolved close, or zero when Found is false.
func (l *PriceLookup) Price() float64 {
	if !l.Found() {
		return 0
	}
	return *l.Bar.Close
}

// ResolveLookup classifies the most recent bar on or before requested (nil if
// none was found within the lookback).
func ResolveLookup(symbol string, requested time.Time, bar *PriceBar) *PriceLookup {
	l := &PriceLookup{Symbol: symbol, Requested: Day(requested)}
	switch {
	case bar == nil:
		l.Status = LookupUnavailable
	case bar.Close == nil:
		l.Status = LookupNullClose
		l.Bar = bar
	case Day(bar.Date).Equal(l.Requested):
		l.Status = LookupExact
		l.Bar = bar
	default:
		l.Status = LookupNearest
		l.Bar = bar
	}
	return l
}

// Coverage summarizes the stored bars for one symbol.
type Coverage struct {
	Symbol string    `json:"symbol"`
	First  time.Time `json:"first"`
	Last   time.Time `json:"last"`
	Bars   int       `json:"bars"`
}

// Float returns a pointer to v, for nullable price fields.
func Float(v float64) *float64 {
	return &v
}
