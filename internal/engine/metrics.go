package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики ядра пула
// ============================================================
//
// Использование:
// - Grafana дашборды состояния очередей и NAV
// - Alertmanager: алерты на рост бэклога и ошибки reply

// ============ Метрики латентности ============

// CrankDuration - длительность одного вызова crank
var CrankDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "fundpool",
		Subsystem: "engine",
		Name:      "crank_duration_ms",
		Help:      "Duration of a single crank invocation in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	},
)

// VenueCallLatency - длительность внешних вызовов площадок
var VenueCallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "fundpool",
		Subsystem: "engine",
		Name:      "venue_call_latency_ms",
		Help:      "Latency of outbound venue calls in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000},
	},
	[]string{"market", "op"}, // op: query_positions, query_yield, execute
)

// ============ Счётчики событий ============

// SettlementsTotal - разрешенные элементы очередей
var SettlementsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundpool",
		Subsystem: "engine",
		Name:      "settlements_total",
		Help:      "Total number of settled queue items",
	},
	[]string{"direction", "result"}, // result: finished, failed
)

// DispatchesTotal - отправленные отложенные исполняющие вызовы
var DispatchesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundpool",
		Subsystem: "engine",
		Name:      "dispatches_total",
		Help:      "Total number of dispatched deferred venue calls",
	},
	[]string{"kind"},
)

// RepliesTotal - обработанные reply от площадок
var RepliesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundpool",
		Subsystem: "engine",
		Name:      "replies_total",
		Help:      "Total number of processed venue replies",
	},
	[]string{"result"}, // success, failure, sequence_error
)

// WorkUnitsTotal - выполненные единицы работ по площадкам
var WorkUnitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundpool",
		Subsystem: "engine",
		Name:      "work_units_total",
		Help:      "Total number of executed market work units",
	},
	[]string{"kind", "result"},
)

// RegistrySyncsTotal - синхронизации зеркала реестра
var RegistrySyncsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundpool",
		Subsystem: "engine",
		Name:      "registry_syncs_total",
		Help:      "Total number of registry mirror synchronizations",
	},
	[]string{"result"},
)

// ConsistencyFailures - нарушения инвариантов, найденные проверкой
var ConsistencyFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "fundpool",
		Subsystem: "engine",
		Name:      "consistency_failures_total",
		Help:      "Total number of consistency check violations",
	},
)

// ============ Метрики состояния ============

// QueueBacklog - глубина неразрешенного хвоста очереди
var QueueBacklog = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "fundpool",
		Subsystem: "engine",
		Name:      "queue_backlog",
		Help:      "Number of unresolved queue items per direction",
	},
	[]string{"direction"},
)

// SharePrice - кэшированная стоимость одной доли
var SharePrice = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "fundpool",
		Subsystem: "engine",
		Name:      "share_price",
		Help:      "Cached value of a single pool share",
	},
	[]string{"token"},
)

// ReplyAwaiting - занят ли слот ожидания reply (0/1)
var ReplyAwaiting = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "fundpool",
		Subsystem: "engine",
		Name:      "reply_awaiting",
		Help:      "Whether a dispatched call is awaiting its reply (0 or 1)",
	},
)
