package binance

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bookflow/logger"
)

func TestUsedWeightTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "42")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tr := newUsedWeightTransport(nil, logger.GetLogger(), "futures")
	client := &http.Client{Transport: tr}
	resp, err := client.Get(srv.URL + "/fapi/v1/depth?symbol=BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := tr.last.Load(); got != 42 {
		t.Fatalf("used weight = %d, want 42", got)
	}
}

func TestUsedWeightReportIgnoresBadHeader(t *testing.T) {
	tr := newUsedWeightTransport(nil, logger.GetLogger(), "futures")
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("X-MBX-USED-WEIGHT", "lots")

	if _, ok := tr.report(resp, "BTCUSDT"); ok {
		t.Fatal("expected no report for a non numeric header")
	}
	if _, ok := tr.report(&http.Response{Header: http.Header{}}, "BTCUSDT"); ok {
		t.Fatal("expected no report without headers")
	}
}
