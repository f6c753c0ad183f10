package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type CrankMetrics struct {
	tickCount          *prometheus.CounterVec
	stageErrorCount    *prometheus.CounterVec
	tickDuration       prometheus.Histogram
	skippedTickCount   prometheus.Counter
	roundEndedCount    prometheus.Counter
	notifyFailureCount prometheus.Counter
	lastTickGauge      prometheus.Gauge
	roundEndGauge      prometheus.Gauge
	ticketsGauge       prometheus.Gauge
	jackpotGauge       prometheus.Gauge
	pendingGauge       prometheus.Gauge
}

// NewCrankMetrics registers the crank metrics with reg. A nil reg uses the
// default prometheus registerer.
func NewCrankMetrics(namespace string, reg prometheus.Registerer) *CrankMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := CrankMetrics{
		tickCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_ticks_total", namespace),
			Help: "The total number of crank ticks by outcome",
		}, []string{"outcome"}),
		stageErrorCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_stage_errors_total", namespace),
			Help: "The total number of tick errors by stage",
		}, []string{"stage"}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_tick_duration_seconds", namespace),
			Help:    "Duration of a crank tick",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		skippedTickCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_overlapping_ticks_total", namespace),
			Help: "The total number of ticks rejected because another tick was running",
		}),
		roundEndedCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_rounds_ended_total", namespace),
			Help: "The total number of rounds ended by this crank",
		}),
		notifyFailureCount: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_notify_failures_total", namespace),
			Help: "The total number of failed round notifications",
		}),
		// last observed raffle state
		lastTickGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_last_tick_timestamp_seconds", namespace),
			Help: "Unix time of the last completed tick",
		}),
		roundEndGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_round_end_time", namespace),
			Help: "The end time of the current round",
		}),
		ticketsGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_tickets", namespace),
			Help: "The number of tickets in the current round",
		}),
		jackpotGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_jackpot_lamports", namespace),
			Help: "The jackpot of the current round in lamports",
		}),
		pendingGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_pending_action", namespace),
			Help: "1 while an end-round transaction is awaiting resolution",
		}),
	}
	return &m
}

func (m *CrankMetrics) ObserveTick(outcome string, seconds float64, unixTime int64) {
	m.tickCount.WithLabelValues(outcome).Inc()
	m.tickDuration.Observe(seconds)
	m.lastTickGauge.Set(float64(unixTime))
}

func (m *CrankMetrics) IncStageError(stage string) {
	m.stageErrorCount.WithLabelValues(stage).Inc()
}

func (m *CrankMetrics) IncOverlappingTick() {
	m.skippedTickCount.Inc()
}

func (m *CrankMetrics) IncRoundEnded() {
	m.roundEndedCount.Inc()
}

func (m *CrankMetrics) IncNotifyFailure() {
	m.notifyFailureCount.Inc()
}

func (m *CrankMetrics) SetRaffleState(endTime uint64, tickets int, jackpot uint64) {
	m.roundEndGauge.Set(float64(endTime))
	m.ticketsGauge.Set(float64(tickets))
	m.jackpotGauge.Set(float64(jackpot))
}

func (m *CrankMetrics) SetPending(pending bool) {
	if pending {
		m.pendingGauge.Set(1)
		return
	}
	m.pendingGauge.Set(0)
}
