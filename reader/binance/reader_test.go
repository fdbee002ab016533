package binance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	"bookflow/config"
	"bookflow/internal/channel"
	"bookflow/models"
)

func minimalConfig() *config.Config {
	return &config.Config{
		Reader: config.ReaderConfig{
			Timeout:        time.Second,
			ReconnectDelay: time.Second,
			RateLimit:      config.RateLimitConfig{RequestsPerSecond: 5, BurstSize: 5},
		},
		Source: config.SourceConfig{
			Binance: config.ExchangeConfig{
				Enabled:     true,
				URL:         "wss://example.com/ws",
				SnapshotURL: "https://example.com/fapi/v1/depth",
				IntervalMs:  100,
				Limit:       10,
				Symbols:     []string{"BTCUSDT"},
			},
		},
	}
}

func TestNewReader(t *testing.T) {
	r := NewReader(minimalConfig(), channel.NewChannels(1, 1))
	if r == nil {
		t.Fatal("NewReader returned nil")
	}
	if r.client.BaseURL != "https://example.com" {
		t.Fatalf("base url = %q", r.client.BaseURL)
	}
	if r.market() != "futures" {
		t.Fatalf("default market = %q", r.market())
	}
}

func TestStartDisabled(t *testing.T) {
	cfg := minimalConfig()
	cfg.Source.Binance.Enabled = false
	r := NewReader(cfg, channel.NewChannels(1, 1))
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error for disabled source")
	}
}

func TestResyncMergesRequests(t *testing.T) {
	r := NewReader(minimalConfig(), channel.NewChannels(1, 1))
	if err := r.Resync("BTCUSDT"); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if err := r.Resync("BTCUSDT"); err != nil {
		t.Fatalf("second Resync: %v", err)
	}
	if len(r.resyncC) != 1 {
		t.Fatalf("queued %d resyncs, want 1", len(r.resyncC))
	}
	// queue holds one slot per configured symbol plus one
	r.Resync("ETHUSDT")
	if err := r.Resync("SOLUSDT"); err == nil {
		t.Fatal("expected error when the queue is full")
	}
}

func TestDepthMessage(t *testing.T) {
	event := &futures.WsDepthEvent{
		Event:            "depthUpdate",
		Time:             1700000000000,
		Symbol:           "BTCUSDT",
		FirstUpdateID:    11,
		LastUpdateID:     12,
		PrevLastUpdateID: 10,
		Bids:             []futures.Bid{{Price: "100.5", Quantity: "0"}},
		Asks:             []futures.Ask{{Price: "101", Quantity: "2"}},
	}
	msg, err := depthMessage(event, "futures")
	if err != nil {
		t.Fatalf("depthMessage: %v", err)
	}
	if msg.MessageType != "delta" || msg.Variant != models.VariantPrice || msg.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var resp models.BinanceDepthResp
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.FirstUpdateID != 11 || resp.PrevLastUpdateID != 10 || resp.Bids[0] != [2]string{"100.5", "0"} {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}
