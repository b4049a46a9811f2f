package hyperliquid

import "encoding/json"

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

type clearinghouseState struct {
	AssetPositions []struct {
		Position struct {
			Coin string `json:"coin"`
			Szi  string `json:"szi"`
		} `json:"position"`
	} `json:"assetPositions"`
}

type metaResponse struct {
	Universe []struct {
		Name       string `json:"name"`
		SzDecimals int32  `json:"szDecimals"`
	} `json:"universe"`
}

type orderWire struct {
	Asset      int       `json:"a"`
	IsBuy      bool      `json:"b"`
	Price      string    `json:"p"`
	Size       string    `json:"s"`
	ReduceOnly bool      `json:"r"`
	Type       orderType `json:"t"`
	Cloid      string    `json:"c,omitempty"`
}

type orderType struct {
	Limit struct {
		Tif string `json:"tif"`
	} `json:"limit"`
}

type orderAction struct {
	Type     string      `json:"type"`
	Orders   []orderWire `json:"orders"`
	Grouping string      `json:"grouping"`
}

type exchangeRequest struct {
	Action    orderAction `json:"action"`
	Nonce     int64       `json:"nonce"`
	Signature string      `json:"signature"`
}

// exchangeResponse.Response is a string on "err" and an object on "ok".
type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type orderResponseData struct {
	Type string `json:"type"`
	Data struct {
		Statuses []orderStatus `json:"statuses"`
	} `json:"data"`
}

type orderStatus struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}
