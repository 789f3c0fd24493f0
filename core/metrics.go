package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clubhouse_messages_total",
			Help: "Total number of messages by contract, method and result code",
		},
		[]string{"contract", "method", "result"},
	)

	messageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clubhouse_message_duration_seconds",
			Help:    "Duration of message execution including commit",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		},
		[]string{"contract", "method"},
	)

	headSequence = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clubhouse_head_sequence",
			Help: "Sequence number of the last committed message",
		},
	)
)
