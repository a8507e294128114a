package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plugd_sessions_created_total",
		Help: "Video sessions created, by source.",
	}, []string{"source"})

	sessionsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plugd_sessions_deleted_total",
		Help: "Video sessions deleted.",
	})

	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plugd_analyses_total",
		Help: "Analysis attempts, by outcome.",
	}, []string{"outcome"})

	chatTurnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plugd_chat_turns_total",
		Help: "Chat turns appended across all sessions.",
	})

	ingestBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plugd_ingest_bytes_total",
		Help: "Bytes accepted via direct file upload.",
	})
)
