package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"bookflow/config"
	"bookflow/internal/channel"
	"bookflow/logger"
	"bookflow/models"
	"bookflow/reader/wsconn"
)

const defaultDepth = 50

type bybitSubscriptionAck struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

// Reader subscribes to Bybit v5 public orderbook topics. Bybit sends a
// snapshot on every subscription followed by deltas.
type Reader struct {
	config   *config.Config
	channels *channel.Channels
	client   *wsconn.Client
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewReader(cfg *config.Config, ch *channel.Channels) *Reader {
	r := &Reader{
		config:   cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
	r.client = wsconn.New(wsconn.Options{
		URL:            cfg.Source.Bybit.URL,
		ReconnectDelay: cfg.Reader.ReconnectDelay,
		Subscribe: func(c *wsconn.Client) error {
			return c.WriteJSON(r.request("subscribe", r.topics()...))
		},
		Ping: func(c *wsconn.Client) error {
			return c.WriteJSON(map[string]string{"op": "ping"})
		},
		Handle: r.handleMessage,
	}, r.log.WithComponent("bybit_reader"))
	return r
}

func (r *Reader) market() string {
	if m := r.config.Source.Bybit.Market; m != "" {
		return m
	}
	return "linear"
}

func (r *Reader) topic(symbol string) string {
	depth := r.config.Source.Bybit.Limit
	if depth <= 0 {
		depth = defaultDepth
	}
	return fmt.Sprintf("orderbook.%d.%s", depth, strings.ToUpper(symbol))
}

func (r *Reader) topics() []string {
	topics := make([]string, 0, len(r.config.Source.Bybit.Symbols))
	for _, s := range r.config.Source.Bybit.Symbols {
		topics = append(topics, r.topic(s))
	}
	return topics
}

func (r *Reader) request(op string, topics ...string) any {
	return struct {
		Op    string   `json:"op"`
		Args  []string `json:"args"`
		ReqID string   `json:"req_id"`
	}{
		Op:    op,
		Args:  topics,
		ReqID: fmt.Sprintf("%d", time.Now().UnixNano()),
	}
}

func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("bybit reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	src := r.config.Source.Bybit
	log := r.log.WithComponent("bybit_reader").WithFields(logger.Fields{"operation": "start"})
	if !src.Enabled {
		log.Warn("bybit order books are disabled")
		return fmt.Errorf("bybit order books are disabled")
	}

	log.WithFields(logger.Fields{"topics": r.topics()}).Info("starting bybit reader")
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

	r.log.WithComponent("bybit_reader").Info("stopping bybit reader")
	r.wg.Wait()
	r.log.WithComponent("bybit_reader").Info("bybit reader stopped")
}

// Resync resubscribes to the symbol's topic; Bybit answers with a new
// snapshot.
func (r *Reader) Resync(symbol string) error {
	topic := r.topic(symbol)
	if err := r.client.WriteJSON(r.request("unsubscribe", topic)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	if err := r.client.WriteJSON(r.request("subscribe", topic)); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (r *Reader) handleMessage(_ *wsconn.Client, msg []byte) {
	log := r.log.WithComponent("bybit_reader")

	var head struct {
		Topic string `json:"topic"`
		Type  string `json:"type"`
		bybitSubscriptionAck
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		log.WithError(err).Debug("failed to decode message")
		return
	}
	if head.Topic == "" {
		if (head.Op == "subscribe" || head.Op == "unsubscribe") && !head.Success {
			log.WithFields(logger.Fields{"op": head.Op, "ret_msg": head.RetMsg}).Warn("bybit subscription rejected")
		}
		return
	}
	if !strings.HasPrefix(head.Topic, "orderbook.") {
		return
	}
	symbol := head.Topic[strings.LastIndex(head.Topic, ".")+1:]

	raw := models.RawBookMessage{
		Exchange:    "bybit",
		Symbol:      symbol,
		Market:      r.market(),
		Variant:     models.VariantPrice,
		MessageType: head.Type,
		Data:        append([]byte(nil), msg...),
		Timestamp:   time.Now().UTC(),
	}
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if r.channels.SendRaw(ctx, raw) {
		logger.IncrementMessageRead("bybit", len(msg))
	} else if ctx.Err() == nil {
		log.WithFields(logger.Fields{"symbol": symbol}).Warn("raw channel full, dropping message")
	}
}
