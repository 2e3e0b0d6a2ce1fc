package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("sieve")

var webhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sieve_webhooks_received",
	Help: "Number of scanner webhook deliveries received",
}, []string{"kind"})

var webhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sieve_webhooks_rejected",
	Help: "Number of scanner webhook deliveries answered with a non-200 status",
}, []string{"kind", "status"})

var adminRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sieve_admin_requests",
	Help: "Number of admin API requests, by operation",
}, []string{"op"})
