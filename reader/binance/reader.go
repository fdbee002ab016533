package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	appconfig "bookflow/config"
	"bookflow/internal/channel"
	"bookflow/logger"
	"bookflow/models"
)

const initialSnapshotDelay = time.Second

// Reader keeps Binance futures books fed: a diff depth websocket per symbol
// and REST depth snapshots, fetched at start and whenever a book asks for a
// resync.
type Reader struct {
	config   *appconfig.Config
	client   *futures.Client
	channels *channel.Channels
	limiter  *rate.Limiter
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	resyncC   chan string
	pendingMu sync.Mutex
	pending   map[string]bool
}

func NewReader(cfg *appconfig.Config, ch *channel.Channels) *Reader {
	src := cfg.Source.Binance

	log := logger.GetLogger()
	market := src.Market
	if market == "" {
		market = "futures"
	}
	client := futures.NewClient("", "")
	client.HTTPClient = &http.Client{
		Timeout:   cfg.Reader.Timeout,
		Transport: newUsedWeightTransport(http.DefaultTransport, log, market),
	}
	if parsed, err := url.Parse(src.SnapshotURL); err == nil && parsed.Host != "" {
		client.BaseURL = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	}

	return &Reader{
		config:   cfg,
		client:   client,
		channels: ch,
		limiter:  rate.NewLimiter(rate.Limit(cfg.Reader.RateLimit.RequestsPerSecond), max(1, cfg.Reader.RateLimit.BurstSize)),
		wg:       &sync.WaitGroup{},
		log:      log,
		resyncC:  make(chan string, len(src.Symbols)+1),
		pending:  make(map[string]bool),
	}
}

func (r *Reader) market() string {
	if m := r.config.Source.Binance.Market; m != "" {
		return m
	}
	return "futures"
}

func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	src := r.config.Source.Binance
	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{"operation": "start"})
	if !src.Enabled {
		log.Warn("binance order books are disabled")
		return fmt.Errorf("binance order books are disabled")
	}

	log.WithFields(logger.Fields{"symbols": src.Symbols, "interval": src.IntervalMs}).Info("starting binance reader")

	for _, symbol := range src.Symbols {
		r.wg.Add(1)
		go r.streamSymbol(symbol, time.Duration(src.IntervalMs)*time.Millisecond)
	}

	r.wg.Add(1)
	go r.snapshotWorker(src.Symbols)

	log.Info("binance reader started successfully")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_reader").Info("stopping binance reader")
	r.wg.Wait()
	r.log.WithComponent("binance_reader").Info("binance reader stopped")
}

// Resync schedules a REST snapshot for symbol. Requests for a symbol that
// already has one queued are merged.
func (r *Reader) Resync(symbol string) error {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if r.pending[symbol] {
		return nil
	}
	select {
	case r.resyncC <- symbol:
		r.pending[symbol] = true
		return nil
	default:
		return fmt.Errorf("binance resync queue full, dropping %s", symbol)
	}
}

func (r *Reader) snapshotWorker(symbols []string) {
	defer r.wg.Done()

	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{"worker": "snapshot_fetcher"})

	// let the depth streams connect so their first events are buffered
	// before the snapshot they must follow
	timer := time.NewTimer(initialSnapshotDelay)
	select {
	case <-r.ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}
	for _, symbol := range symbols {
		if err := r.Resync(symbol); err != nil {
			log.WithError(err).Warn("failed to queue initial snapshot")
		}
	}

	for {
		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case symbol := <-r.resyncC:
			r.pendingMu.Lock()
			delete(r.pending, symbol)
			r.pendingMu.Unlock()

			if err := r.fetchSnapshot(symbol); err != nil && r.ctx.Err() == nil {
				log.WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("snapshot fetch failed, retrying")
				go func() {
					if !sleepCtx(r.ctx, r.config.Reader.ReconnectDelay) {
						r.Resync(symbol)
					}
				}()
			}
		}
	}
}

func (r *Reader) fetchSnapshot(symbol string) error {
	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"symbol":    symbol,
		"operation": "fetch_snapshot",
	})

	if err := r.limiter.Wait(r.ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	res, err := r.client.NewDepthService().
		Symbol(symbol).
		Limit(r.config.Source.Binance.Limit).
		Do(r.ctx)
	if err != nil {
		return fmt.Errorf("depth request: %w", err)
	}
	logger.LogPerformanceEntry(log, "binance_reader", "api_request", time.Since(start), logger.Fields{
		"symbol": symbol,
	})

	resp := models.BinanceSnapshotResp{
		LastUpdateID: res.LastUpdateID,
		Time:         res.Time,
		Bids:         make([][2]string, len(res.Bids)),
		Asks:         make([][2]string, len(res.Asks)),
	}
	for i, b := range res.Bids {
		resp.Bids[i] = [2]string{b.Price, b.Quantity}
	}
	for i, a := range res.Asks {
		resp.Asks[i] = [2]string{a.Price, a.Quantity}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	msg := models.RawBookMessage{
		Exchange:    "binance",
		Symbol:      strings.ToUpper(symbol),
		Market:      r.market(),
		Variant:     models.VariantPrice,
		MessageType: "snapshot",
		Data:        payload,
		Timestamp:   time.Now().UTC(),
	}
	if r.channels.SendRaw(r.ctx, msg) {
		logger.IncrementMessageRead("binance_rest", len(payload))
		logger.LogDataFlowEntry(log, "binance_api", "raw_channel", len(resp.Bids)+len(resp.Asks), "snapshot_levels")
	} else if r.ctx.Err() == nil {
		log.Warn("raw channel is full, dropping snapshot")
	}
	return nil
}

func (r *Reader) streamSymbol(symbol string, interval time.Duration) {
	defer r.wg.Done()

	log := r.log.WithComponent("binance_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "depth_stream",
	})

	handler := func(event *futures.WsDepthEvent) {
		msg, err := depthMessage(event, r.market())
		if err != nil {
			log.WithError(err).Warn("failed to marshal depth event")
			return
		}
		if r.channels.SendRaw(r.ctx, msg) {
			logger.IncrementMessageRead("binance", len(msg.Data))
			if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
				logger.LogDataFlowEntry(log, "binance_ws", "raw_channel", len(event.Bids)+len(event.Asks), "delta_levels")
			}
		} else if r.ctx.Err() == nil {
			log.Warn("raw channel full, dropping depth event")
		}
	}

	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}

	for {
		doneC, stopC, err := futures.WsDiffDepthServeWithRate(symbol, interval, handler, errHandler)
		if err != nil {
			log.WithError(err).Error("failed to subscribe to diff depth stream")
		} else {
			select {
			case <-r.ctx.Done():
				close(stopC)
				<-doneC
				return
			case <-doneC:
				log.Warn("depth stream ended, reconnecting")
			}
		}
		if sleepCtx(r.ctx, r.config.Reader.ReconnectDelay) {
			return
		}
		// events were missed while disconnected
		if err := r.Resync(symbol); err != nil {
			log.WithError(err).Warn("failed to queue snapshot after reconnect")
		}
	}
}

// depthMessage converts a diff depth event into the raw message consumed
// by the book keeper.
func depthMessage(event *futures.WsDepthEvent, market string) (models.RawBookMessage, error) {
	resp := models.BinanceDepthResp{
		Event:            event.Event,
		Time:             event.Time,
		TransactionTime:  event.TransactionTime,
		Symbol:           event.Symbol,
		FirstUpdateID:    event.FirstUpdateID,
		LastUpdateID:     event.LastUpdateID,
		PrevLastUpdateID: event.PrevLastUpdateID,
		Bids:             make([][2]string, len(event.Bids)),
		Asks:             make([][2]string, len(event.Asks)),
	}
	for i, b := range event.Bids {
		resp.Bids[i] = [2]string{b.Price, b.Quantity}
	}
	for i, a := range event.Asks {
		resp.Asks[i] = [2]string{a.Price, a.Quantity}
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return models.RawBookMessage{}, err
	}
	return models.RawBookMessage{
		Exchange:    "binance",
		Symbol:      event.Symbol,
		Market:      market,
		Variant:     models.VariantPrice,
		MessageType: "delta",
		Data:        payload,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// sleepCtx waits for d and reports whether ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
