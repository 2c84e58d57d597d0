package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ChallengeReadFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "challenge_reads_failed_total",
			Help: "getChallenge reads that failed and were omitted from aggregation",
		},
	)
	CheckInResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_results_total",
			Help: "Daily verification outcomes per habit category",
		},
		[]string{"category", "outcome"},
	)
	ReadingVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reading_verdicts_total",
			Help: "Reading note review verdicts",
		},
		[]string{"verdict"},
	)
	ChainTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_transactions_total",
			Help: "Escrow transactions sent by this service",
		},
		[]string{"method", "status"},
	)
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Background reconciliation runs",
		},
		[]string{"status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(ChallengeReadFailures, CheckInResults, ReadingVerdicts, ChainTransactions, SyncRuns)
}
