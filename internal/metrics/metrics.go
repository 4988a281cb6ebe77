// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ディスパッチャ、ワーカー、サービス層から利用する。
type MetricsCollector interface {
	RecordSubmission(provider string, accepted, rejected, skipped int)
	RecordSubmissionLatency(provider string, duration time.Duration)
	RecordVerification(provider string, outcome string)
	RecordSitemapFetch(success bool)
	RecordSitemapURLs(count int)
	RecordScheduledRun()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	submittedURLs     *prometheus.CounterVec
	submissionLatency *prometheus.HistogramVec
	verifications     *prometheus.CounterVec
	sitemapFetches    *prometheus.CounterVec
	sitemapURLs       prometheus.Counter
	scheduledRuns     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		submittedURLs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexman_submitted_urls_total",
			Help: "プロバイダ別・結果別の送信URL数",
		}, []string{"provider", "outcome"}),
		submissionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexman_submission_latency_seconds",
			Help:    "プロバイダ別の送信レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexman_verifications_total",
			Help: "プロバイダ別・結果別の所有権検証数",
		}, []string{"provider", "outcome"}),
		sitemapFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexman_sitemap_fetch_total",
			Help: "サイトマップ取得の結果別合計数",
		}, []string{"result"}),
		sitemapURLs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexman_sitemap_urls_total",
			Help: "サイトマップから抽出されたURLの合計数",
		}),
		scheduledRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexman_scheduled_runs_total",
			Help: "スケジュール実行されたサイトマップ送信の合計数",
		}),
	}

	reg.MustRegister(
		c.submittedURLs,
		c.submissionLatency,
		c.verifications,
		c.sitemapFetches,
		c.sitemapURLs,
		c.scheduledRuns,
	)

	return c
}

// RecordSubmission は1プロバイダへの送信結果を記録する。
func (c *Collector) RecordSubmission(provider string, accepted, rejected, skipped int) {
	if accepted > 0 {
		c.submittedURLs.WithLabelValues(provider, "accepted").Add(float64(accepted))
	}
	if rejected > 0 {
		c.submittedURLs.WithLabelValues(provider, "rejected").Add(float64(rejected))
	}
	if skipped > 0 {
		c.submittedURLs.WithLabelValues(provider, "skipped").Add(float64(skipped))
	}
}

// RecordSubmissionLatency は送信のレイテンシを記録する。
func (c *Collector) RecordSubmissionLatency(provider string, duration time.Duration) {
	c.submissionLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordVerification は所有権検証の結果を記録する。
func (c *Collector) RecordVerification(provider string, outcome string) {
	c.verifications.WithLabelValues(provider, outcome).Inc()
}

// RecordSitemapFetch はサイトマップ取得の結果を記録する。
func (c *Collector) RecordSitemapFetch(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.sitemapFetches.WithLabelValues(result).Inc()
}

// RecordSitemapURLs は抽出されたURL数を記録する。
func (c *Collector) RecordSitemapURLs(count int) {
	c.sitemapURLs.Add(float64(count))
}

// RecordScheduledRun はスケジュール実行を記録する。
func (c *Collector) RecordScheduledRun() {
	c.scheduledRuns.Inc()
}

// NopCollector は何も記録しないMetricsCollector実装。テスト用。
type NopCollector struct{}

func (NopCollector) RecordSubmission(string, int, int, int)        {}
func (NopCollector) RecordSubmissionLatency(string, time.Duration) {}
func (NopCollector) RecordVerification(string, string)             {}
func (NopCollector) RecordSitemapFetch(bool)                       {}
func (NopCollector) RecordSitemapURLs(int)                         {}
func (NopCollector) RecordScheduledRun()                           {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
