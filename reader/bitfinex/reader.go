package bitfinex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"bookflow/config"
	"bookflow/internal/channel"
	"bookflow/logger"
	"bookflow/models"
	"bookflow/reader/wsconn"
)

const (
	defaultLength = 25
	// infoReconnect asks clients to reconnect before server maintenance.
	infoReconnect = 20051
)

type subscription struct {
	symbol string
	prec   string
}

// Reader subscribes to Bitfinex v2 book channels, one per symbol and
// precision. P* precisions are aggregated books with an order count per
// level; R0 is the raw book keyed by order id.
type Reader struct {
	config   *config.Config
	channels *channel.Channels
	client   *wsconn.Client
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	subsMu sync.Mutex
	subs   map[int64]subscription
}

func NewReader(cfg *config.Config, ch *channel.Channels) *Reader {
	r := &Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		subs:     make(map[int64]subscription),
	}
	r.client = wsconn.New(wsconn.Options{
		URL:            cfg.Source.Bitfinex.URL,
		ReconnectDelay: cfg.Reader.ReconnectDelay,
		Subscribe:      r.subscribe,
		Ping: func(c *wsconn.Client) error {
			return c.WriteJSON(map[string]any{"event": "ping", "cid": time.Now().UnixMilli()})
		},
		Handle: r.handleMessage,
	}, r.log.WithComponent("bitfinex_reader"))
	return r
}

func (r *Reader) precisions() []string {
	if p := r.config.Source.Bitfinex.Precisions; len(p) > 0 {
		return p
	}
	return []string{"P0"}
}

// length maps the configured depth onto a length Bitfinex accepts. Raw
// books do not offer 250.
func length(limit int, prec string) string {
	allowed := []int{1, 25, 100, 250}
	if prec == "R0" {
		allowed = allowed[:3]
	}
	if limit <= 0 {
		limit = defaultLength
	}
	for _, n := range allowed {
		if limit <= n {
			return strconv.Itoa(n)
		}
	}
	return strconv.Itoa(allowed[len(allowed)-1])
}

func variantFor(prec string) models.BookVariant {
	if prec == "R0" {
		return models.VariantRaw
	}
	return models.VariantCounted
}

type subscribeRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Prec    string `json:"prec"`
	Freq    string `json:"freq"`
	Len     string `json:"len"`
}

func (r *Reader) subscribeRequests(symbols ...string) []subscribeRequest {
	var reqs []subscribeRequest
	for _, s := range symbols {
		for _, p := range r.precisions() {
			reqs = append(reqs, subscribeRequest{
				Event:   "subscribe",
				Channel: "book",
				Symbol:  s,
				Prec:    p,
				Freq:    "F0",
				Len:     length(r.config.Source.Bitfinex.Limit, p),
			})
		}
	}
	return reqs
}

func (r *Reader) subscribe(c *wsconn.Client) error {
	// channel ids are per connection
	r.subsMu.Lock()
	r.subs = make(map[int64]subscription)
	r.subsMu.Unlock()

	for _, req := range r.subscribeRequests(r.config.Source.Bitfinex.Symbols...) {
		if err := c.WriteJSON(req); err != nil {
			return fmt.Errorf("subscribe %s %s: %w", req.Symbol, req.Prec, err)
		}
	}
	return nil
}

func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bitfinex reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	src := r.config.Source.Bitfinex
	log := r.log.WithComponent("bitfinex_reader").WithFields(logger.Fields{"operation": "start"})
	if !src.Enabled {
		log.Warn("bitfinex order books are disabled")
		return fmt.Errorf("bitfinex order books are disabled")
	}

	log.WithFields(logger.Fields{"symbols": src.Symbols, "precisions": r.precisions()}).Info("starting bitfinex reader")
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

	r.log.WithComponent("bitfinex_reader").Info("stopping bitfinex reader")
	r.wg.Wait()
	r.log.WithComponent("bitfinex_reader").Info("bitfinex reader stopped")
}

// Resync resubscribes every channel of symbol; each answers with a new
// snapshot.
func (r *Reader) Resync(symbol string) error {
	r.subsMu.Lock()
	var ids []int64
	for id, sub := range r.subs {
		if sub.symbol == symbol {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(r.subs, id)
	}
	r.subsMu.Unlock()

	for _, id := range ids {
		if err := r.client.WriteJSON(map[string]any{"event": "unsubscribe", "chanId": id}); err != nil {
			return fmt.Errorf("unsubscribe %s: %w", symbol, err)
		}
	}
	for _, req := range r.subscribeRequests(symbol) {
		if err := r.client.WriteJSON(req); err != nil {
			return fmt.Errorf("subscribe %s %s: %w", symbol, req.Prec, err)
		}
	}
	return nil
}

func (r *Reader) handleMessage(c *wsconn.Client, msg []byte) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return
	}
	if msg[0] == '{' {
		r.handleEvent(c, msg)
		return
	}
	r.handleData(msg)
}

func (r *Reader) handleEvent(c *wsconn.Client, msg []byte) {
	log := r.log.WithComponent("bitfinex_reader")

	var evt models.BitfinexEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		log.WithError(err).Debug("failed to decode event")
		return
	}
	switch evt.Event {
	case "subscribed":
		r.subsMu.Lock()
		r.subs[evt.ChanID] = subscription{symbol: evt.Symbol, prec: evt.Prec}
		r.subsMu.Unlock()
		log.WithFields(logger.Fields{"symbol": evt.Symbol, "prec": evt.Prec, "chan_id": evt.ChanID}).Debug("subscribed")
	case "error":
		log.WithFields(logger.Fields{"code": evt.Code, "msg": evt.Msg, "symbol": evt.Symbol}).Warn("bitfinex subscription error")
	case "info":
		if evt.Code == infoReconnect && c != nil {
			log.Info("bitfinex requested a reconnect")
			c.Reconnect()
		}
	}
}

func (r *Reader) handleData(msg []byte) {
	log := r.log.WithComponent("bitfinex_reader")

	var frame []json.RawMessage
	if err := json.Unmarshal(msg, &frame); err != nil || len(frame) < 2 {
		log.WithError(err).Debug("failed to decode frame")
		return
	}
	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		return
	}
	payload := bytes.TrimSpace(frame[1])
	// heartbeats ("hb") and checksums ("cs") are strings
	if len(payload) == 0 || payload[0] == '"' {
		return
	}

	r.subsMu.Lock()
	sub, ok := r.subs[chanID]
	r.subsMu.Unlock()
	if !ok {
		return
	}

	// a snapshot is a list of entries, an update a single entry
	kind := "delta"
	if strings.HasPrefix(string(bytes.TrimSpace(payload[1:])), "[") || string(payload) == "[]" {
		kind = "snapshot"
	}

	raw := models.RawBookMessage{
		Exchange:    "bitfinex",
		Symbol:      sub.symbol,
		Market:      sub.prec,
		Variant:     variantFor(sub.prec),
		MessageType: kind,
		Data:        append([]byte(nil), payload...),
		Timestamp:   time.Now().UTC(),
	}
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if r.channels.SendRaw(ctx, raw) {
		logger.IncrementMessageRead("bitfinex", len(msg))
	} else if ctx.Err() == nil {
		log.WithFields(logger.Fields{"symbol": sub.symbol}).Warn("raw channel full, dropping message")
	}
}
