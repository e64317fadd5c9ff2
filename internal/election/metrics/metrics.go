package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the election module.
// Tracks ballot outcomes, lifecycle transitions and critical path durations.
type Metrics struct {
	VotesCast         prometheus.Counter
	VotesRejected     *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	ElectionsCreated  prometheus.Counter
	CandidatesCreated prometheus.Counter
	TallyCacheLookups *prometheus.CounterVec
	CastVoteDuration  prometheus.Histogram
	GetTallyDuration  prometheus.Histogram
	SweepDuration     prometheus.Histogram
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// New registers the election metrics with reg. A nil reg leaves them
// unregistered, which tests rely on.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		VotesCast: f.NewCounter(prometheus.CounterOpts{
			Name: "ballotbox_votes_cast_total",
			Help: "Total number of ballots recorded",
		}),
		VotesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotbox_votes_rejected_total",
			Help: "Total number of rejected vote attempts by reason",
		}, []string{"reason"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotbox_election_transitions_total",
			Help: "Total number of election status transitions",
		}, []string{"to", "trigger"}),
		ElectionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "ballotbox_elections_created_total",
			Help: "Total number of elections created",
		}),
		CandidatesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "ballotbox_candidates_created_total",
			Help: "Total number of candidates registered",
		}),
		TallyCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotbox_tally_cache_lookups_total",
			Help: "Tally cache lookups by result (hit, miss, error)",
		}, []string{"result"}),
		CastVoteDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ballotbox_cast_vote_duration_seconds",
			Help:    "Duration of CastVote operations",
			Buckets: latencyBuckets,
		}),
		GetTallyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ballotbox_get_tally_duration_seconds",
			Help:    "Duration of GetTally operations",
			Buckets: latencyBuckets,
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ballotbox_lifecycle_sweep_duration_seconds",
			Help:    "Duration of lifecycle sweeps",
			Buckets: latencyBuckets,
		}),
	}
}

func (m *Metrics) IncrementVoteCast() {
	if m != nil {
		m.VotesCast.Inc()
	}
}

func (m *Metrics) IncrementVoteRejected(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "other"
	}
	m.VotesRejected.WithLabelValues(reason).Inc()
}

// IncrementTransition records a status change; trigger is "admin" or "sweep".
func (m *Metrics) IncrementTransition(to, trigger string) {
	if m != nil {
		m.Transitions.WithLabelValues(to, trigger).Inc()
	}
}

func (m *Metrics) IncrementElectionCreated() {
	if m != nil {
		m.ElectionsCreated.Inc()
	}
}

func (m *Metrics) IncrementCandidateCreated() {
	if m != nil {
		m.CandidatesCreated.Inc()
	}
}

func (m *Metrics) IncrementTallyCache(result string) {
	if m != nil {
		m.TallyCacheLookups.WithLabelValues(result).Inc()
	}
}

// ObserveCastVote records the duration of a CastVote operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCastVote(start time.Time) {
	if m != nil {
		m.CastVoteDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ObserveGetTally(start time.Time) {
	if m != nil {
		m.GetTallyDuration.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) ObserveSweep(start time.Time) {
	if m != nil {
		m.SweepDuration.Observe(time.Since(start).Seconds())
	}
}
