package binance

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"bookflow/logger"
)

var usedWeightHeaders = []struct {
	key    string
	window string
}{
	{"X-Mbx-Used-Weight-1m", "1m"},
	{"X-Mbx-Used-Weight", "1m"},
	{"X-Mbx-Used-Weight-1s", "1s"},
}

// usedWeightTransport records the request weight Binance reports on every
// REST response.
type usedWeightTransport struct {
	base   http.RoundTripper
	log    *logger.Log
	market string
	last   *atomic.Int64
}

func newUsedWeightTransport(base http.RoundTripper, log *logger.Log, market string) usedWeightTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return usedWeightTransport{base: base, log: log, market: market, last: new(atomic.Int64)}
}

func (t usedWeightTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	t.report(resp, req.URL.Query().Get("symbol"))
	return resp, nil
}

func (t usedWeightTransport) report(resp *http.Response, symbol string) (int64, bool) {
	for _, h := range usedWeightHeaders {
		value := resp.Header.Get(h.key)
		if value == "" {
			continue
		}
		used, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			t.log.WithComponent("binance_reader").WithFields(logger.Fields{
				"header": h.key,
				"value":  value,
			}).WithError(err).Debug("failed to parse used weight header")
			continue
		}
		t.last.Store(used)
		t.log.LogMetric("binance_reader", "used_weight", used, "gauge", logger.Fields{
			"exchange": "binance",
			"symbol":   symbol,
			"market":   t.market,
			"window":   h.window,
		})
		return used, true
	}
	return 0, false
}
