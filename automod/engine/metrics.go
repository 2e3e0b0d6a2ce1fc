package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var submissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "mediamod_submission_duration_sec",
	Help: "Total duration of scan submission processing",
}, []string{"source"})

var submissionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediamod_submissions_processed",
	Help: "Number of scan submissions processed",
}, []string{"source"})

var submissionErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediamod_submission_errors",
	Help: "Number of scan submissions which failed processing",
}, []string{"source", "class"})

var dispositionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediamod_dispositions",
	Help: "Number of dispositions persisted, by resulting state and deciding stage",
}, []string{"state", "stage"})

var sideEffectErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediamod_side_effect_errors",
	Help: "Number of failed side effects",
}, []string{"effect"})

var queueAdmissionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediamod_review_queue_admissions",
	Help: "Number of media items admitted to the review queue",
}, []string{"priority"})

var blockNoticeSuppressedCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mediamod_block_notices_suppressed",
	Help: "Number of block notices skipped due to the per-user daily quota",
})

var slackAlertDroppedCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mediamod_slack_alerts_dropped",
	Help: "Number of slack alerts dropped by the rate limiter",
})

var modRuleErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "mediamod_moderation_rule_errors",
	Help: "Number of moderation rules skipped during evaluation because they failed to decode or run",
})
