package processor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"bookflow/models"
)

// ParseRaw decodes a venue message into a BookEvent. The variant of the
// resulting event is the one requested by the reader.
func ParseRaw(raw models.RawBookMessage) (models.BookEvent, error) {
	ev := models.BookEvent{
		Exchange:   raw.Exchange,
		Symbol:     raw.Symbol,
		Market:     raw.Market,
		Variant:    raw.Variant,
		ReceivedAt: raw.Timestamp,
	}

	var err error
	switch raw.Exchange {
	case "binance":
		err = parseBinance(raw, &ev)
	case "bybit":
		err = parseBybit(raw, &ev)
	case "okx":
		err = parseOkx(raw, &ev)
	case "bitfinex":
		err = parseBitfinex(raw, &ev)
	default:
		err = fmt.Errorf("unsupported exchange %q", raw.Exchange)
	}
	if err != nil {
		return models.BookEvent{}, err
	}
	if ev.Timestamp == 0 && !raw.Timestamp.IsZero() {
		ev.Timestamp = raw.Timestamp.UnixMilli()
	}
	return ev, nil
}

func parseBinance(raw models.RawBookMessage, ev *models.BookEvent) error {
	var err error
	switch raw.MessageType {
	case "snapshot":
		var resp models.BinanceSnapshotResp
		if err := json.Unmarshal(raw.Data, &resp); err != nil {
			return fmt.Errorf("decode binance snapshot: %w", err)
		}
		ev.Kind = models.KindSnapshot
		ev.Nonce = resp.LastUpdateID
		ev.Timestamp = resp.Time
		if ev.Bids, err = pairLevels(resp.Bids); err != nil {
			return fmt.Errorf("binance bids: %w", err)
		}
		if ev.Asks, err = pairLevels(resp.Asks); err != nil {
			return fmt.Errorf("binance asks: %w", err)
		}
	case "delta":
		var resp models.BinanceDepthResp
		if err := json.Unmarshal(raw.Data, &resp); err != nil {
			return fmt.Errorf("decode binance depth: %w", err)
		}
		ev.Kind = models.KindDelta
		ev.FirstNonce = resp.FirstUpdateID
		ev.Nonce = resp.LastUpdateID
		ev.PrevNonce = resp.PrevLastUpdateID
		ev.Timestamp = resp.Time
		if resp.Symbol != "" {
			ev.Symbol = resp.Symbol
		}
		if ev.Bids, err = pairLevels(resp.Bids); err != nil {
			return fmt.Errorf("binance bids: %w", err)
		}
		if ev.Asks, err = pairLevels(resp.Asks); err != nil {
			return fmt.Errorf("binance asks: %w", err)
		}
	default:
		return fmt.Errorf("unknown binance message type %q", raw.MessageType)
	}
	return nil
}

func parseBybit(raw models.RawBookMessage, ev *models.BookEvent) error {
	var resp models.BybitBookResp
	if err := json.Unmarshal(raw.Data, &resp); err != nil {
		return fmt.Errorf("decode bybit book: %w", err)
	}
	switch resp.Type {
	case "snapshot":
		ev.Kind = models.KindSnapshot
	case "delta":
		ev.Kind = models.KindDelta
		// update ids are consecutive within a stream
		ev.FirstNonce = resp.Data.UpdateID
	default:
		return fmt.Errorf("unknown bybit message type %q", resp.Type)
	}
	ev.Nonce = resp.Data.UpdateID
	ev.Timestamp = resp.Ts
	if resp.Data.Symbol != "" {
		ev.Symbol = resp.Data.Symbol
	}

	var err error
	if ev.Bids, err = listLevels(resp.Data.Bids, false); err != nil {
		return fmt.Errorf("bybit bids: %w", err)
	}
	if ev.Asks, err = listLevels(resp.Data.Asks, false); err != nil {
		return fmt.Errorf("bybit asks: %w", err)
	}
	return nil
}

func parseOkx(raw models.RawBookMessage, ev *models.BookEvent) error {
	var resp models.OkxBookResp
	if err := json.Unmarshal(raw.Data, &resp); err != nil {
		return fmt.Errorf("decode okx book: %w", err)
	}
	if len(resp.Data) == 0 {
		return fmt.Errorf("okx book message without data")
	}
	switch resp.Action {
	case "snapshot":
		ev.Kind = models.KindSnapshot
	case "update":
		ev.Kind = models.KindDelta
	default:
		return fmt.Errorf("unknown okx action %q", resp.Action)
	}

	d := resp.Data[0]
	ev.Nonce = d.SeqID
	if ev.Kind == models.KindDelta {
		ev.PrevNonce = d.PrevSeqID
	}
	if resp.Arg.InstID != "" {
		ev.Symbol = resp.Arg.InstID
	}
	if d.Ts != "" {
		ts, err := strconv.ParseInt(d.Ts, 10, 64)
		if err != nil {
			return fmt.Errorf("okx ts %q: %w", d.Ts, err)
		}
		ev.Timestamp = ts
	}

	withCount := ev.Variant == models.VariantCounted
	var err error
	if ev.Bids, err = listLevels(d.Bids, withCount); err != nil {
		return fmt.Errorf("okx bids: %w", err)
	}
	if ev.Asks, err = listLevels(d.Asks, withCount); err != nil {
		return fmt.Errorf("okx asks: %w", err)
	}
	return nil
}

// parseBitfinex decodes the payload of a book channel message: a list of
// entries for snapshots, a single entry for updates.
func parseBitfinex(raw models.RawBookMessage, ev *models.BookEvent) error {
	var entries []models.BitfinexBookEntry
	switch raw.MessageType {
	case "snapshot":
		ev.Kind = models.KindSnapshot
		if err := json.Unmarshal(raw.Data, &entries); err != nil {
			return fmt.Errorf("decode bitfinex snapshot: %w", err)
		}
	case "delta":
		ev.Kind = models.KindDelta
		var entry models.BitfinexBookEntry
		if err := json.Unmarshal(raw.Data, &entry); err != nil {
			return fmt.Errorf("decode bitfinex update: %w", err)
		}
		entries = append(entries, entry)
	default:
		return fmt.Errorf("unknown bitfinex message type %q", raw.MessageType)
	}

	for _, e := range entries {
		u, bid, err := bitfinexLevel(e, ev.Variant)
		if err != nil {
			return err
		}
		if bid {
			ev.Bids = append(ev.Bids, u)
		} else {
			ev.Asks = append(ev.Asks, u)
		}
	}
	return nil
}

// bitfinexLevel converts one entry. The side is given by the sign of the
// amount; removals keep a signed amount of 1 to carry the side.
func bitfinexLevel(e models.BitfinexBookEntry, variant models.BookVariant) (models.LevelUpdate, bool, error) {
	amount, err := e[2].Float64()
	if err != nil {
		return models.LevelUpdate{}, false, fmt.Errorf("bitfinex amount %q: %w", e[2], err)
	}
	bid := amount > 0
	amount = math.Abs(amount)

	switch variant {
	case models.VariantRaw, models.VariantIndexed:
		// [order id, price, amount]; price 0 removes the order
		price, err := e[1].Float64()
		if err != nil {
			return models.LevelUpdate{}, false, fmt.Errorf("bitfinex price %q: %w", e[1], err)
		}
		if price == 0 {
			amount = 0
		}
		return models.LevelUpdate{Price: price, Amount: amount, ID: e[0].String()}, bid, nil
	case models.VariantCounted:
		// [price, count, amount]; count 0 removes the level
		price, err := e[0].Float64()
		if err != nil {
			return models.LevelUpdate{}, false, fmt.Errorf("bitfinex price %q: %w", e[0], err)
		}
		count, err := e[1].Int64()
		if err != nil {
			return models.LevelUpdate{}, false, fmt.Errorf("bitfinex count %q: %w", e[1], err)
		}
		if count == 0 {
			amount = 0
		}
		return models.LevelUpdate{Price: price, Amount: amount, Count: count}, bid, nil
	default:
		return models.LevelUpdate{}, false, fmt.Errorf("bitfinex books are raw or counted, got %q", variant)
	}
}

func pairLevels(levels [][2]string) ([]models.LevelUpdate, error) {
	out := make([]models.LevelUpdate, 0, len(levels))
	for _, l := range levels {
		price, err := strconv.ParseFloat(l[0], 64)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", l[0], err)
		}
		amount, err := strconv.ParseFloat(l[1], 64)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", l[1], err)
		}
		out = append(out, models.LevelUpdate{Price: price, Amount: amount})
	}
	return out, nil
}

// listLevels parses [price, amount, ...] string tuples. With withCount the
// order count is read from the fourth element (OKX layout).
func listLevels(levels [][]string, withCount bool) ([]models.LevelUpdate, error) {
	out := make([]models.LevelUpdate, 0, len(levels))
	for _, l := range levels {
		if len(l) < 2 {
			return nil, fmt.Errorf("short level %v", l)
		}
		price, err := strconv.ParseFloat(l[0], 64)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", l[0], err)
		}
		amount, err := strconv.ParseFloat(l[1], 64)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", l[1], err)
		}
		u := models.LevelUpdate{Price: price, Amount: amount}
		if withCount {
			if len(l) < 4 {
				return nil, fmt.Errorf("level %v has no order count", l)
			}
			if u.Count, err = strconv.ParseInt(l[3], 10, 64); err != nil {
				return nil, fmt.Errorf("count %q: %w", l[3], err)
			}
		}
		out = append(out, u)
	}
	return out, nil
}
