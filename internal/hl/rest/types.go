package rest

import "github.com/shopspring/decimal"

type BookLevel struct {
	Px decimal.Decimal `json:"px"`
	Sz decimal.Decimal `json:"sz"`
	N  int             `json:"n"`
}

// L2Book levels are [bids, asks], each best-first.
type L2Book struct {
	Coin   string         `json:"coin"`
	Time   int64          `json:"time"`
	Levels [2][]BookLevel `json:"levels"`
}

type AssetMeta struct {
	Name         string `json:"name"`
	SzDecimals   int    `json:"szDecimals"`
	MaxLeverage  int    `json:"maxLeverage"`
	OnlyIsolated bool   `json:"onlyIsolated"`
}

// Meta lists perp assets; an asset's id is its index in Universe.
type Meta struct {
	Universe []AssetMeta `json:"universe"`
}

type Leverage struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

type Position struct {
	Coin          string           `json:"coin"`
	Szi           decimal.Decimal  `json:"szi"`
	EntryPx       *decimal.Decimal `json:"entryPx"`
	Leverage      Leverage         `json:"leverage"`
	PositionValue decimal.Decimal  `json:"positionValue"`
	UnrealizedPnl decimal.Decimal  `json:"unrealizedPnl"`
}

type AssetPosition struct {
	Position Position `json:"position"`
	Type     string   `json:"type"`
}

type MarginSummary struct {
	AccountValue    decimal.Decimal `json:"accountValue"`
	TotalNtlPos     decimal.Decimal `json:"totalNtlPos"`
	TotalMarginUsed decimal.Decimal `json:"totalMarginUsed"`
}

type ClearinghouseState struct {
	MarginSummary  MarginSummary   `json:"marginSummary"`
	Withdrawable   decimal.Decimal `json:"withdrawable"`
	AssetPositions []AssetPosition `json:"assetPositions"`
	Time           int64           `json:"time"`
}

// OpenOrder side is "B" for bids and "A" for asks.
type OpenOrder struct {
	Coin       string          `json:"coin"`
	Side       string          `json:"side"`
	LimitPx    decimal.Decimal `json:"limitPx"`
	Sz         decimal.Decimal `json:"sz"`
	Oid        int64           `json:"oid"`
	Timestamp  int64           `json:"timestamp"`
	ReduceOnly bool            `json:"reduceOnly"`
	Cloid      string          `json:"cloid,omitempty"`
}

type Candle struct {
	OpenTime  int64           `json:"t"`
	CloseTime int64           `json:"T"`
	Coin      string          `json:"s"`
	Interval  string          `json:"i"`
	Open      decimal.Decimal `json:"o"`
	Close     decimal.Decimal `json:"c"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Volume    decimal.Decimal `json:"v"`
	Trades    int             `json:"n"`
}
