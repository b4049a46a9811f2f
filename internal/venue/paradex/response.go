package paradex

import (
	ydecimal "github.com/yanun0323/decimal"
)

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type results[T any] struct {
	Results []T `json:"results"`
}

type orderBookResponse struct {
	Market        string               `json:"market"`
	Bids          [][]ydecimal.Decimal `json:"bids"` // [0]price [1]size
	Asks          [][]ydecimal.Decimal `json:"asks"` // [0]price [1]size
	LastUpdatedAt int64                `json:"last_updated_at"`
	SeqNo         int64                `json:"seq_no"`
}

type positionResponse struct {
	Market string `json:"market"`
	Side   string `json:"side"`
	Size   string `json:"size"`
	Status string `json:"status"`
}

type accountResponse struct {
	Account         string `json:"account"`
	FreeCollateral  string `json:"free_collateral"`
	AccountValue    string `json:"account_value"`
	TotalCollateral string `json:"total_collateral"`
}

type orderRequest struct {
	Market             string `json:"market"`
	Side               string `json:"side"`
	Type               string `json:"type"`
	Size               string `json:"size"`
	Price              string `json:"price"`
	Instruction        string `json:"instruction"`
	ClientID           string `json:"client_id,omitempty"`
	Signature          string `json:"signature,omitempty"`
	SignatureTimestamp int64  `json:"signature_timestamp,omitempty"`
}

type orderResponse struct {
	ID            string `json:"id"`
	ClientID      string `json:"client_id"`
	Market        string `json:"market"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Size          string `json:"size"`
	RemainingSize string `json:"remaining_size"`
	Price         string `json:"price"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"created_at"`
}

type marketResponse struct {
	Symbol             string `json:"symbol"`
	PriceTickSize      string `json:"price_tick_size"`
	OrderSizeIncrement string `json:"order_size_increment"`
	MinNotional        string `json:"min_notional"`
}
