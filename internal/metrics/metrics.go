// Package metrics exposes prometheus counters for the session layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connects counts transport dial attempts.
	Connects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupledger_session_connects_total",
		Help: "Number of transport dial attempts.",
	})

	// MessagesSent counts frames written to an open transport.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupledger_session_messages_sent_total",
		Help: "Number of frames written to an open transport.",
	})

	// MessagesBuffered counts frames queued while a transport was still
	// connecting.
	MessagesBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupledger_session_messages_buffered_total",
		Help: "Number of frames buffered before transport open.",
	})

	// MessagesReceived counts inbound frames by decoded kind.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "groupledger_session_messages_received_total",
		Help: "Number of inbound frames by decoded kind.",
	}, []string{"kind"})

	// TransportErrors counts transport-level failures.
	TransportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupledger_session_transport_errors_total",
		Help: "Number of transport-level failures.",
	})

	// EventsDeduplicated counts membership events dropped as transport
	// redeliveries.
	EventsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "groupledger_reconcile_events_deduplicated_total",
		Help: "Number of membership events dropped as redeliveries.",
	})
)
