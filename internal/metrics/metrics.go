// Package metrics provides Prometheus metrics for the context cache and chat.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookupsTotal counts EnsureLoaded outcomes: hit, join, miss.
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidchat_cache_lookups_total",
		Help: "Total number of context cache lookups, by outcome.",
	}, []string{"outcome"})

	// TranscriptFetchesTotal counts transcript fetches by result.
	TranscriptFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidchat_transcript_fetches_total",
		Help: "Total number of transcript fetches, by result (ok/error/discarded).",
	}, []string{"result"})

	// ChatRequestsTotal counts chat round trips by result.
	ChatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidchat_chat_requests_total",
		Help: "Total number of chat requests, by result (ok/error).",
	}, []string{"result"})

	// WidgetPresent is 1 while a chat panel is shown.
	WidgetPresent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidchat_widget_present",
		Help: "Whether the chat panel is currently present.",
	})
)
