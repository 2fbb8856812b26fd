package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(workersRunning, workerRestartsTotal, tasksProcessedTotal, queueDepth, messagesSentTotal, dialoguesFinishedTotal, proxyChecksTotal, proxyCheckLatency)
}

var workersRunning = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "fleet_workers_running",
		Help: "Number of account workers currently running.",
	},
)

var workerRestartsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "fleet_worker_restarts_total",
		Help: "Workers restarted by the manager health check.",
	},
)

var tasksProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleet_tasks_processed_total",
		Help: "Queue tasks processed, labeled by type and outcome.",
	},
	[]string{"type", "outcome"}, // outcome: 'completed', 'retried', 'dead_letter'
)

var queueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "fleet_queue_depth",
		Help: "Pending tasks per account queue.",
	},
	[]string{"account_id"},
)

var messagesSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleet_messages_sent_total",
		Help: "Outbound Telegram messages, labeled by kind.",
	},
	[]string{"kind"}, // 'first', 'response', 'follow_up', 'link'
)

var dialoguesFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleet_dialogues_finished_total",
		Help: "Dialogues that reached a terminal status, labeled by status and reason.",
	},
	[]string{"status", "reason"},
)

var proxyChecksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleet_proxy_checks_total",
		Help: "Proxy health probes by result.",
	},
	[]string{"result"}, // 'pass', 'fail'
)

var proxyCheckLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "fleet_proxy_check_latency_seconds",
		Help:    "Latency of passed proxy health probes.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	},
)

func SetWorkersRunning(n int) { workersRunning.Set(float64(n)) }

func IncWorkerRestart() { workerRestartsTotal.Inc() }

func IncTask(taskType, outcome string) {
	tasksProcessedTotal.WithLabelValues(norm(taskType), norm(outcome)).Inc()
}

func SetQueueDepth(accountID string, depth int64) {
	queueDepth.WithLabelValues(accountID).Set(float64(depth))
}

func IncMessageSent(kind string) { messagesSentTotal.WithLabelValues(norm(kind)).Inc() }

func IncDialogueFinished(status, reason string) {
	dialoguesFinishedTotal.WithLabelValues(norm(status), norm(reason)).Inc()
}

func ObserveProxyCheck(pass bool, latency time.Duration) {
	if pass {
		proxyChecksTotal.WithLabelValues("pass").Inc()
		proxyCheckLatency.Observe(latency.Seconds())
		return
	}
	proxyChecksTotal.WithLabelValues("fail").Inc()
}
