package bitfinex

import (
	"testing"
	"time"

	"bookflow/config"
	"bookflow/internal/channel"
	"bookflow/models"
)

func minimalConfig() *config.Config {
	return &config.Config{
		Reader: config.ReaderConfig{Timeout: time.Second, ReconnectDelay: time.Second},
		Source: config.SourceConfig{
			Bitfinex: config.ExchangeConfig{
				Enabled:    true,
				URL:        "wss://example.com/ws/2",
				Limit:      100,
				Symbols:    []string{"tBTCUSD"},
				Precisions: []string{"P0", "R0"},
			},
		},
	}
}

func TestLength(t *testing.T) {
	tests := []struct {
		limit int
		prec  string
		want  string
	}{
		{0, "P0", "25"},
		{1, "P0", "1"},
		{50, "P1", "100"},
		{1000, "P0", "250"},
		{1000, "R0", "100"},
	}
	for _, tt := range tests {
		if got := length(tt.limit, tt.prec); got != tt.want {
			t.Errorf("length(%d, %s) = %s, want %s", tt.limit, tt.prec, got, tt.want)
		}
	}
}

func TestSubscribeRequests(t *testing.T) {
	r := NewReader(minimalConfig(), channel.NewChannels(1, 1))
	reqs := r.subscribeRequests("tBTCUSD")
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[0].Prec != "P0" || reqs[1].Prec != "R0" || reqs[0].Len != "100" || reqs[0].Channel != "book" {
		t.Fatalf("unexpected requests: %+v", reqs)
	}
}

func TestHandleMessage(t *testing.T) {
	ch := channel.NewChannels(8, 1)
	r := NewReader(minimalConfig(), ch)

	r.handleMessage(nil, []byte(`{"event":"info","version":2,"serverId":"x","platform":{"status":1}}`))
	r.handleMessage(nil, []byte(`{"event":"subscribed","channel":"book","chanId":17,"symbol":"tBTCUSD","prec":"P0","freq":"F0","len":"100","pair":"BTCUSD"}`))
	r.handleMessage(nil, []byte(`{"event":"subscribed","channel":"book","chanId":18,"symbol":"tBTCUSD","prec":"R0","freq":"F0","len":"100","pair":"BTCUSD"}`))

	r.handleMessage(nil, []byte(`[17,[[7254.7,3,3.3],[7254.8,1,-1]]]`))
	r.handleMessage(nil, []byte(`[17,"hb"]`))
	r.handleMessage(nil, []byte(`[17,[7254.7,0,1]]`))
	r.handleMessage(nil, []byte(`[18,[[34006738527,7254.6,0.5]]]`))
	r.handleMessage(nil, []byte(`[99,[7254.7,0,1]]`))

	if len(ch.Raw) != 3 {
		t.Fatalf("raw messages = %d, want 3", len(ch.Raw))
	}
	want := []struct {
		kind    string
		market  string
		variant models.BookVariant
	}{
		{"snapshot", "P0", models.VariantCounted},
		{"delta", "P0", models.VariantCounted},
		{"snapshot", "R0", models.VariantRaw},
	}
	for i, w := range want {
		msg := <-ch.Raw
		if msg.MessageType != w.kind || msg.Market != w.market || msg.Variant != w.variant || msg.Symbol != "tBTCUSD" {
			t.Fatalf("message %d = %+v, want %+v", i, msg, w)
		}
	}
}

func TestEmptySnapshot(t *testing.T) {
	ch := channel.NewChannels(1, 1)
	r := NewReader(minimalConfig(), ch)
	r.handleMessage(nil, []byte(`{"event":"subscribed","channel":"book","chanId":5,"symbol":"tBTCUSD","prec":"P0"}`))
	r.handleMessage(nil, []byte(`[5,[]]`))

	if msg := <-ch.Raw; msg.MessageType != "snapshot" {
		t.Fatalf("message type = %s", msg.MessageType)
	}
}

func TestResyncForgetsChannels(t *testing.T) {
	r := NewReader(minimalConfig(), channel.NewChannels(1, 1))
	r.handleMessage(nil, []byte(`{"event":"subscribed","channel":"book","chanId":17,"symbol":"tBTCUSD","prec":"P0"}`))

	if err := r.Resync("tBTCUSD"); err == nil {
		t.Fatal("expected error without a connection")
	}
	if len(r.subs) != 0 {
		t.Fatalf("subscriptions = %v, want none", r.subs)
	}
}
