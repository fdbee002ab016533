package okx

import (
	"bytes"
	"compress/flate"
	"context"
	"net/http"
	"net/http/httptest"
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
			Okx: config.ExchangeConfig{
				Enabled: true,
				URL:     "wss://example.com/ws/v5/public",
				Symbols: []string{"BTC-USDT-SWAP", "NOPE-SWAP"},
			},
		},
	}
}

const bookUpdate = `{"arg":{"channel":"books","instId":"BTC-USDT-SWAP"},"action":"update","data":[{"asks":[["8476.98","415","0","13"]],"bids":[],"ts":"1597026383085","checksum":0,"prevSeqId":123,"seqId":124}]}`

func TestHandleMessage(t *testing.T) {
	ch := channel.NewChannels(4, 1)
	r := NewReader(minimalConfig(), ch)

	r.handleMessage(nil, []byte("pong"))
	r.handleMessage(nil, []byte(`{"event":"subscribe","arg":{"channel":"books","instId":"BTC-USDT-SWAP"},"connId":"a4d3ae55"}`))
	r.handleMessage(nil, []byte(bookUpdate))

	if len(ch.Raw) != 1 {
		t.Fatalf("raw messages = %d, want 1", len(ch.Raw))
	}
	msg := <-ch.Raw
	if msg.Symbol != "BTC-USDT-SWAP" || msg.MessageType != "update" || msg.Variant != models.VariantCounted || msg.Market != "swap" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestHandleCompressedMessage(t *testing.T) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte(bookUpdate))
	w.Close()

	ch := channel.NewChannels(4, 1)
	r := NewReader(minimalConfig(), ch)
	r.handleMessage(nil, buf.Bytes())

	if len(ch.Raw) != 1 {
		t.Fatalf("raw messages = %d, want 1", len(ch.Raw))
	}
	if msg := <-ch.Raw; string(msg.Data) != bookUpdate {
		t.Fatalf("data = %s", msg.Data)
	}
}

func TestValidateSymbols(t *testing.T) {
	var agent, instType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		agent = req.Header.Get("User-Agent")
		instType = req.URL.Query().Get("instType")
		w.Write([]byte(`{"code":"0","data":[{"instId":"BTC-USDT-SWAP"},{"instId":"ETH-USDT-SWAP"}]}`))
	}))
	defer srv.Close()

	cfg := minimalConfig()
	cfg.Source.Okx.SnapshotURL = srv.URL
	r := NewReader(cfg, channel.NewChannels(1, 1))

	got := r.validateSymbols(context.Background(), cfg.Source.Okx.Symbols)
	if len(got) != 1 || got[0] != "BTC-USDT-SWAP" {
		t.Fatalf("symbols = %v", got)
	}
	if agent != "curl/8.5.0" || instType != "SWAP" {
		t.Fatalf("agent %q instType %q", agent, instType)
	}
}

func TestValidateSymbolsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := minimalConfig()
	cfg.Source.Okx.SnapshotURL = srv.URL
	r := NewReader(cfg, channel.NewChannels(1, 1))

	if got := r.validateSymbols(context.Background(), cfg.Source.Okx.Symbols); len(got) != 2 {
		t.Fatalf("symbols = %v, want configured list", got)
	}
}

func TestRequest(t *testing.T) {
	r := NewReader(minimalConfig(), channel.NewChannels(1, 1))
	req := r.request("subscribe", "BTC-USDT-SWAP")
	if req.Op != "subscribe" || len(req.Args) != 1 || req.Args[0].Channel != "books" {
		t.Fatalf("request = %+v", req)
	}
}
