package models

import "encoding/json"

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// BINANCE ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// BinanceDepthResp mirrors Binance's futures diff depth websocket event.
type BinanceDepthResp struct {
	Event            string      `json:"e"`
	Time             int64       `json:"E"`
	TransactionTime  int64       `json:"T"`
	Symbol           string      `json:"s"`
	FirstUpdateID    int64       `json:"U"`
	LastUpdateID     int64       `json:"u"`
	PrevLastUpdateID int64       `json:"pu"`
	Bids             [][2]string `json:"b"`
	Asks             [][2]string `json:"a"`
}

// BinanceSnapshotResp mirrors the futures REST depth response.
type BinanceSnapshotResp struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Time         int64       `json:"E"`
	TradeTime    int64       `json:"T"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// BYBIT /////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// BybitBookResp represents an orderbook.<depth>.<symbol> message from the
// Bybit v5 public websocket. Type is either "snapshot" or "delta".
type BybitBookResp struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Ts    int64  `json:"ts"`
	Cts   int64  `json:"cts"`
	Data  struct {
		Symbol   string     `json:"s"`
		Bids     [][]string `json:"b"`
		Asks     [][]string `json:"a"`
		UpdateID int64      `json:"u"`
		Seq      int64      `json:"seq"`
	} `json:"data"`
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// OKX //////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// OkxBookResp represents a message of the OKX v5 "books" channel. Action is
// "snapshot" for the first push after subscribing and "update" afterwards.
type OkxBookResp struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string        `json:"action"`
	Data   []OkxBookData `json:"data"`
}

// OkxBookData holds one book push. Levels are
// [price, size, deprecated, number of orders].
type OkxBookData struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	Ts        string     `json:"ts"`
	Checksum  int64      `json:"checksum"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// BITFINEX ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// BitfinexEvent is a control message of the Bitfinex v2 websocket.
type BitfinexEvent struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Prec    string `json:"prec"`
	Freq    string `json:"freq"`
	Len     string `json:"len"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

// BitfinexBookEntry is one book tuple. Aggregated (P*) books send
// [price, count, amount]; raw (R0) books send [order id, price, amount].
// The sign of amount gives the side: positive for bids.
type BitfinexBookEntry [3]json.Number
