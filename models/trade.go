package models

import "time"

const (
	ExchangeBinance = "binance"
	ExchangeBybit   = "bybit"

	MarketFutures = "futures"

	SourceRest   = "rest"
	SourceStream = "stream"
)

// TradeEvent is the canonical normalized trade used by the aggregation core.
// IsBuyerMaker follows the Binance convention: true means the buyer was the
// resting order, so the aggressor was a seller.
type TradeEvent struct {
	Price        float64 `json:"price"`
	Volume       float64 `json:"volume"`
	IsBuyerMaker bool    `json:"is_buyer_maker"`
	Timestamp    int64   `json:"timestamp"`
}

// RawTradeMessage wraps an undecoded trade payload from any exchange.
type RawTradeMessage struct {
	Exchange  string
	Symbol    string
	Market    string
	Source    string
	Data      []byte
	Timestamp time.Time
}

// TradeBatch represents a batch of normalized trades for one exchange/symbol
type TradeBatch struct {
	BatchID     string       `json:"batch_id"`
	Exchange    string       `json:"exchange"`
	Symbol      string       `json:"symbol"`
	Market      string       `json:"market"`
	Events      []TradeEvent `json:"events"`
	RecordCount int          `json:"record_count"`
	Timestamp   time.Time    `json:"timestamp"`
	ProcessedAt time.Time    `json:"processed_at"`
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// BINANCE ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// BinanceAggTrade mirrors one element of the futures GET /fapi/v1/aggTrades
// response. Price and quantity arrive as strings.
type BinanceAggTrade struct {
	AggregateID  int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	Timestamp    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// BinanceAggTradeEvent mirrors the aggTrade websocket event structure.
type BinanceAggTradeEvent struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	AggregateID  int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// BYBIT /////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// BybitRecentTrade is one entry of the v5 GET /v5/market/recent-trade list.
// Side is the taker side ("Buy" or "Sell"); time is millis as a string.
type BybitRecentTrade struct {
	ExecID       string `json:"execId"`
	Symbol       string `json:"symbol"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	Side         string `json:"side"`
	Time         string `json:"time"`
	IsBlockTrade bool   `json:"isBlockTrade"`
}

// BybitRecentTradeResp represents the v5 recent-trade REST envelope.
type BybitRecentTradeResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string             `json:"category"`
		List     []BybitRecentTrade `json:"list"`
	} `json:"result"`
	Time int64 `json:"time"`
}

// BybitTradeTick is a single trade inside a publicTrade websocket push.
type BybitTradeTick struct {
	TradeTime    int64  `json:"T"`
	Symbol       string `json:"s"`
	Side         string `json:"S"`
	Volume       string `json:"v"`
	Price        string `json:"p"`
	Direction    string `json:"L"`
	TradeID      string `json:"i"`
	IsBlockTrade bool   `json:"BT"`
}

// BybitTradeResp represents a publicTrade update from Bybit websocket
type BybitTradeResp struct {
	Topic string           `json:"topic"`
	Type  string           `json:"type"`
	Ts    int64            `json:"ts"`
	Data  []BybitTradeTick `json:"data"`
}
