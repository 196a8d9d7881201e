// Package metrics содержит Prometheus метрики сервиса
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики защитного слоя биржи и сверки портфеля
// ============================================================
//
// Что смотреть:
// - доля отказов CB_OPEN / RATE_LIMIT относительно реальных запросов
// - распределение ошибок провайдера по категориям
// - переполнение очереди merge задач

const namespace = "cryptofolio"

// ============ Клиент биржи ============

// ExchangeRequests - запросы к бирже по endpoint и исходу
var ExchangeRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "requests_total",
		Help:      "Total number of exchange requests by endpoint and outcome",
	},
	[]string{"endpoint", "outcome"}, // outcome: ok, error, circuit_open, rate_limited
)

// ExchangeLatency - время выполнения запроса к бирже
var ExchangeLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "request_latency_ms",
		Help:      "Exchange request latency in milliseconds",
		Buckets:   []float64{25, 50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"endpoint"},
)

// ExchangeErrors - ошибки провайдера по категориям
var ExchangeErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "errors_total",
		Help:      "Exchange errors by classified category",
	},
	[]string{"category"},
)

// BreakerTransitions - переходы circuit breaker
var BreakerTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions by target state",
	},
	[]string{"state"},
)

// BudgetUsed - занятый вес в текущем окне
var BudgetUsed = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "exchange",
		Name:      "budget_used_weight",
		Help:      "Request weight used in the current window",
	},
	[]string{"scope"}, // public, signed
)

// ============ Сверка портфеля ============

// MergeJobs - merge задачи по исходу
var MergeJobs = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "merge_jobs_total",
		Help:      "Portfolio merge jobs by result",
	},
	[]string{"result"}, // success, failed, dropped, panic
)

// MergeDuration - время выполнения merge
var MergeDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "merge_duration_ms",
		Help:      "Portfolio merge duration in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	},
)

// WorkerQueueSize - размер очереди worker pool
var WorkerQueueSize = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "queue_size",
		Help:      "Current number of queued jobs",
	},
	[]string{"pool"},
)

// TradesIngested - результаты загрузки сделок
var TradesIngested = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trades",
		Name:      "ingested_total",
		Help:      "Trades processed by sync, by result",
	},
	[]string{"result"}, // saved, skipped, failed
)

// BufferOverflows - сообщения, отброшенные из-за переполнения буферов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runtime",
		Name:      "buffer_overflows_total",
		Help:      "Number of buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // ws_broadcast, ws_client, merge_queue
)

// ============ HTTP API ============

// HTTPRequests - запросы к API по шаблону маршрута и статусу
var HTTPRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests by route, method and status",
	},
	[]string{"route", "method", "status"},
)

// HTTPLatency - время обработки запроса
var HTTPLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_latency_ms",
		Help:      "HTTP request latency in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
	[]string{"route"},
)

// ============ Вспомогательные функции ============

// Исходы запросов к бирже
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeRateLimited = "rate_limited"
)

// RecordExchangeRequest записывает исход и латентность запроса
func RecordExchangeRequest(endpoint, outcome string, latencyMs float64) {
	ExchangeRequests.WithLabelValues(endpoint, outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeError {
		ExchangeLatency.WithLabelValues(endpoint).Observe(latencyMs)
	}
}

// RecordExchangeError записывает категорию ошибки провайдера
func RecordExchangeError(category string) {
	ExchangeErrors.WithLabelValues(category).Inc()
}

// RecordBreakerTransition записывает переход breaker
func RecordBreakerTransition(state string) {
	BreakerTransitions.WithLabelValues(state).Inc()
}

// SetBudgetUsed обновляет занятый вес
func SetBudgetUsed(scope string, used int) {
	BudgetUsed.WithLabelValues(scope).Set(float64(used))
}

// RecordMerge записывает результат merge
func RecordMerge(result string, durationMs float64) {
	MergeJobs.WithLabelValues(result).Inc()
	if durationMs > 0 {
		MergeDuration.Observe(durationMs)
	}
}

// RecordTradeIngest записывает результат обработки сделок
func RecordTradeIngest(result string, n int) {
	if n > 0 {
		TradesIngested.WithLabelValues(result).Add(float64(n))
	}
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// SetQueueSize обновляет размер очереди
func SetQueueSize(pool string, size int) {
	WorkerQueueSize.WithLabelValues(pool).Set(float64(size))
}

// RecordHTTPRequest записывает запрос к API
func RecordHTTPRequest(route, method string, status int, latencyMs float64) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route).Observe(latencyMs)
}
