package metrics

import (
	"net/http"
	"time"
)

// Transport はGitHub API呼び出しのステータスコードとレイテンシを記録する
// http.RoundTripper。httpクライアントのTransportとして差し込んで使う。
type Transport struct {
	next      http.RoundTripper
	collector MetricsCollector
}

// NewTransport は計測付きRoundTripperを生成する。
// nextがnilの場合はhttp.DefaultTransportを使う。
func NewTransport(next http.RoundTripper, collector MetricsCollector) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{next: next, collector: collector}
}

// RoundTrip はリクエストを転送し、結果を記録する。
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	t.collector.RecordUpstreamLatency(time.Since(start))
	if err != nil {
		return nil, err
	}
	t.collector.RecordUpstreamStatus(resp.StatusCode)
	return resp, nil
}
