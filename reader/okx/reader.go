package okx

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bookflow/config"
	"bookflow/internal/channel"
	"bookflow/logger"
	"bookflow/models"
	"bookflow/reader/wsconn"
)

const (
	defaultInstrumentsURL = "https://www.okx.com/api/v5/public/instruments"
	bookChannel           = "books"
)

type subscriptionArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type request struct {
	Op   string            `json:"op"`
	Args []subscriptionArg `json:"args"`
}

// Reader subscribes to the OKX "books" channel. The first push after a
// subscription is a full snapshot; later pushes carry seqId/prevSeqId so
// the book keeper can detect gaps.
type Reader struct {
	config     *config.Config
	channels   *channel.Channels
	client     *wsconn.Client
	httpClient *http.Client
	ctx        context.Context
	wg         *sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log
	symbols    []string
}

func NewReader(cfg *config.Config, ch *channel.Channels) *Reader {
	r := &Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  cfg.Source.Okx.Symbols,
		httpClient: &http.Client{
			Transport: userAgentTransport{agent: "curl/8.5.0", base: http.DefaultTransport},
			Timeout:   cfg.Reader.Timeout,
		},
	}
	r.client = wsconn.New(wsconn.Options{
		URL:            cfg.Source.Okx.URL,
		ReconnectDelay: cfg.Reader.ReconnectDelay,
		Subscribe: func(c *wsconn.Client) error {
			return c.WriteJSON(r.request("subscribe", r.currentSymbols()...))
		},
		Ping: func(c *wsconn.Client) error {
			return c.WriteMessage(websocket.TextMessage, []byte("ping"))
		},
		Handle: r.handleMessage,
	}, r.log.WithComponent("okx_reader"))
	return r
}

func (r *Reader) market() string {
	if m := r.config.Source.Okx.Market; m != "" {
		return m
	}
	return "swap"
}

func (r *Reader) currentSymbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.symbols
}

func (r *Reader) request(op string, symbols ...string) request {
	req := request{Op: op, Args: make([]subscriptionArg, 0, len(symbols))}
	for _, s := range symbols {
		req.Args = append(req.Args, subscriptionArg{Channel: bookChannel, InstID: s})
	}
	return req
}

func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("okx reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	src := r.config.Source.Okx
	log := r.log.WithComponent("okx_reader").WithFields(logger.Fields{"operation": "start"})
	if !src.Enabled {
		log.Warn("okx order books are disabled")
		return fmt.Errorf("okx order books are disabled")
	}

	symbols := r.validateSymbols(ctx, src.Symbols)
	if len(symbols) == 0 {
		return fmt.Errorf("no valid okx instruments in %v", src.Symbols)
	}
	r.mu.Lock()
	r.symbols = symbols
	r.mu.Unlock()

	log.WithFields(logger.Fields{"symbols": symbols}).Info("starting okx reader")
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.client.Run(ctx)
	}()
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("okx_reader").Info("stopping okx reader")
	r.wg.Wait()
	r.log.WithComponent("okx_reader").Info("okx reader stopped")
}

// Resync resubscribes to symbol's book; OKX pushes a fresh snapshot.
func (r *Reader) Resync(symbol string) error {
	if err := r.client.WriteJSON(r.request("unsubscribe", symbol)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", symbol, err)
	}
	if err := r.client.WriteJSON(r.request("subscribe", symbol)); err != nil {
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}
	return nil
}

func (r *Reader) instrumentsURL() string {
	base := r.config.Source.Okx.SnapshotURL
	if base == "" {
		base = defaultInstrumentsURL
	}
	return base + "?instType=" + strings.ToUpper(r.market())
}

// validateSymbols drops instruments OKX does not list. When the list can't
// be fetched the configured symbols are used as is.
func (r *Reader) validateSymbols(ctx context.Context, symbols []string) []string {
	log := r.log.WithComponent("okx_reader")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.instrumentsURL(), nil)
	if err != nil {
		log.WithError(err).Warn("failed to build instruments request")
		return symbols
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("failed to fetch instruments list")
		return symbols
	}
	defer resp.Body.Close()

	var wrapper struct {
		Code string `json:"code"`
		Data []struct {
			InstID string `json:"instId"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil || len(wrapper.Data) == 0 {
		log.WithError(err).Warn("failed to decode instruments list")
		return symbols
	}

	valid := make(map[string]struct{}, len(wrapper.Data))
	for _, inst := range wrapper.Data {
		valid[inst.InstID] = struct{}{}
	}
	var filtered []string
	for _, s := range symbols {
		if _, ok := valid[s]; ok {
			filtered = append(filtered, s)
		} else {
			log.WithFields(logger.Fields{"symbol": s}).Warn("invalid instrument, skipping")
		}
	}
	return filtered
}

func (r *Reader) handleMessage(_ *wsconn.Client, msg []byte) {
	log := r.log.WithComponent("okx_reader")

	// plain text frames start with '{' or "pong"; anything else is deflated
	if len(msg) > 0 && msg[0] != '{' && string(msg) != "pong" {
		data, err := decompress(msg)
		if err != nil {
			log.WithError(err).Debug("failed to decompress message")
			return
		}
		msg = data
	}
	if string(msg) == "pong" {
		return
	}

	var head struct {
		Event  string          `json:"event"`
		Code   string          `json:"code"`
		Msg    string          `json:"msg"`
		Arg    subscriptionArg `json:"arg"`
		Action string          `json:"action"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		log.WithError(err).Debug("failed to decode message")
		return
	}
	if head.Event != "" {
		if head.Event == "error" {
			log.WithFields(logger.Fields{"code": head.Code, "msg": head.Msg}).Warn("okx subscription error")
		}
		return
	}
	if head.Arg.Channel != bookChannel || head.Action == "" {
		return
	}

	raw := models.RawBookMessage{
		Exchange:    "okx",
		Symbol:      head.Arg.InstID,
		Market:      r.market(),
		Variant:     models.VariantCounted,
		MessageType: head.Action,
		Data:        append([]byte(nil), msg...),
		Timestamp:   time.Now().UTC(),
	}
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if r.channels.SendRaw(ctx, raw) {
		logger.IncrementMessageRead("okx", len(msg))
	} else if ctx.Err() == nil {
		log.WithFields(logger.Fields{"symbol": head.Arg.InstID}).Warn("raw channel full, dropping message")
	}
}

func decompress(msg []byte) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(msg))
	defer reader.Close()
	return io.ReadAll(reader)
}
