package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce             sync.Once
	httpDurationHistogram    *prometheus.HistogramVec
	ledgerImbalanceCounter   *prometheus.CounterVec
	negativeBalanceCounter   prometheus.Counter
	idempotencyCounter       *prometheus.CounterVec
	distributionCounter      *prometheus.CounterVec
	commissionCreditedAmount prometheus.Counter
	bankEventCounter         *prometheus.CounterVec
	sweepCancelledCounter    *prometheus.CounterVec
	withdrawalQueueGauge     prometheus.Gauge
	withdrawalCounter        *prometheus.CounterVec
	workerRunCounter         *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerImbalanceCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_imbalance_total",
			Help: "Number of wallets whose history did not replay to the cached balance",
		}, []string{"reason"})

		negativeBalanceCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_negative_balance_total",
			Help: "Ledger postings that left a wallet below zero",
		})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		distributionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commission_distributions_total",
			Help: "Commission distribution attempts by outcome",
		}, []string{"result"})

		commissionCreditedAmount = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commission_credited_amount_total",
			Help: "Sum of commission amounts credited to wallets, in minor units",
		})

		bankEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bank_events_total",
			Help: "Inbound bank transfer events by match outcome",
		}, []string{"match_status"})

		sweepCancelledCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "expiry_sweep_cancelled_total",
			Help: "Reservations and unpaid orders cancelled by the expiry sweep",
		}, []string{"kind"})

		withdrawalQueueGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "withdrawal_pending_queue_size",
			Help: "Withdrawal requests waiting for an admin decision",
		})

		withdrawalCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawal_transitions_total",
			Help: "Withdrawal request transitions",
		}, []string{"action"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerImbalanceCounter,
			negativeBalanceCounter,
			idempotencyCounter,
			distributionCounter,
			commissionCreditedAmount,
			bankEventCounter,
			sweepCancelledCounter,
			withdrawalQueueGauge,
			withdrawalCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementLedgerImbalance(reason string) {
	if ledgerImbalanceCounter == nil {
		return
	}
	ledgerImbalanceCounter.WithLabelValues(reason).Inc()
}

func IncrementNegativeBalance() {
	if negativeBalanceCounter == nil {
		return
	}
	negativeBalanceCounter.Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementDistribution(result string) {
	if distributionCounter == nil {
		return
	}
	distributionCounter.WithLabelValues(result).Inc()
}

func AddCommissionCredited(amount int64) {
	if commissionCreditedAmount == nil || amount <= 0 {
		return
	}
	commissionCreditedAmount.Add(float64(amount))
}

func IncrementBankEvent(matchStatus string) {
	if bankEventCounter == nil {
		return
	}
	bankEventCounter.WithLabelValues(matchStatus).Inc()
}

func AddSweepCancelled(kind string, n int) {
	if sweepCancelledCounter == nil || n <= 0 {
		return
	}
	sweepCancelledCounter.WithLabelValues(kind).Add(float64(n))
}

func SetWithdrawalQueueSize(size int64) {
	if withdrawalQueueGauge == nil {
		return
	}
	withdrawalQueueGauge.Set(float64(size))
}

func IncrementWithdrawalTransition(action string) {
	if withdrawalCounter == nil {
		return
	}
	withdrawalCounter.WithLabelValues(action).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
