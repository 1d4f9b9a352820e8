// Package monitor carries the background quota refresher and the Prometheus
// recorders for relay traffic and credential health.
package monitor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/polygate/polygate/common/config"
)

var (
	relayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polygate",
		Name:      "relay_requests_total",
		Help:      "Relay requests by vendor, endpoint family, and status code.",
	}, []string{"vendor", "relay_mode", "status_code"})

	relayFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polygate",
		Name:      "relay_failures_total",
		Help:      "Relay requests that ended with a non-2xx status.",
	}, []string{"vendor", "relay_mode"})

	credentialQuotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "polygate",
		Name:      "credential_quota_remaining_percent",
		Help:      "Remaining quota fraction per credential, 0-100.",
	}, []string{"vendor", "credential"})

	credentialsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "polygate",
		Name:      "credentials_active",
		Help:      "Active credentials per vendor.",
	}, []string{"vendor"})
)

// RecordRelayRequest counts one finished relay.
func RecordRelayRequest(vendor, relayMode string, statusCode int) {
	if !config.EnablePrometheusMetrics {
		return
	}
	relayRequestsTotal.WithLabelValues(vendor, relayMode, strconv.Itoa(statusCode)).Inc()
	if statusCode >= 400 {
		relayFailuresTotal.WithLabelValues(vendor, relayMode).Inc()
	}
}

// RecordCredentialQuota publishes the remaining quota fraction for one
// credential.
func RecordCredentialQuota(vendor, name string, remainingPercent float64) {
	if !config.EnablePrometheusMetrics {
		return
	}
	credentialQuotaRemaining.WithLabelValues(vendor, name).Set(remainingPercent)
}

// RecordActiveCredentials publishes the live credential count per vendor.
func RecordActiveCredentials(vendor string, count int) {
	if !config.EnablePrometheusMetrics {
		return
	}
	credentialsActive.WithLabelValues(vendor).Set(float64(count))
}
