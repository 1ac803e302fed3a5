package fetch

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	fetchMeterName = "proxyfetch/fetch"

	metricAttempts       = "proxyfetch.attempts"          // Counter
	metricAttemptLatency = "http.client.request.duration" // Histogram in seconds
	metricFallbacks      = "proxyfetch.proxy.fallbacks"   // Counter

	attrOutcome       = "outcome"
	attrProxyProtocol = "proxy.protocol"
	attrErrorType     = "error.type"
	attrStatusCode    = "http.response.status_code"
)

// Attempt outcomes recorded on the attempts counter
const (
	outcomeSuccess  = "success"
	outcomeNotFound = "not_found"
	outcomeFailure  = "failure"
)

// directProtocol labels attempts that do not go through a proxy.
const directProtocol = "direct"

var (
	meterInitMu sync.Mutex
	meterOnce   sync.Once
	fetchMeter  metric.Meter

	attemptCounter  metric.Int64Counter
	attemptDuration metric.Float64Histogram
	fallbackCounter metric.Int64Counter
)

func logMetricError(metricName string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: Failed to initialize fetch metric %s: %v\n", metricName, err)
	}
}

func initFetchMeter() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	if fetchMeter != nil {
		return
	}

	fetchMeter = otel.Meter(fetchMeterName)

	var err error
	attemptCounter, err = fetchMeter.Int64Counter(
		metricAttempts,
		metric.WithDescription("Number of HTTP attempts issued by the fetcher"),
		metric.WithUnit("{attempt}"),
	)
	logMetricError(metricAttempts, err)

	attemptDuration, err = fetchMeter.Float64Histogram(
		metricAttemptLatency,
		metric.WithDescription("Duration of a single HTTP attempt"),
		metric.WithUnit("s"),
	)
	logMetricError(metricAttemptLatency, err)

	fallbackCounter, err = fetchMeter.Int64Counter(
		metricFallbacks,
		metric.WithDescription("Number of proxies abandoned after failing"),
		metric.WithUnit("{proxy}"),
	)
	logMetricError(metricFallbacks, err)
}

func ensureFetchMeterInitialized() {
	meterOnce.Do(initFetchMeter)
}

// recordAttempt records one attempt. status is zero when no response arrived.
func recordAttempt(ctx context.Context, protocol string, status int, duration time.Duration, err error) {
	ensureFetchMeterInitialized()

	if protocol == "" {
		protocol = directProtocol
	}

	outcome := outcomeFailure
	switch {
	case err == nil && IsSuccessStatus(status):
		outcome = outcomeSuccess
	case err == nil:
		outcome = outcomeNotFound
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOutcome, outcome),
		attribute.String(attrProxyProtocol, protocol),
	}
	if err != nil {
		attrs = append(attrs, attribute.String(attrErrorType, errorType(err)))
	}

	if attemptCounter != nil {
		attemptCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	if attemptDuration != nil {
		if status > 0 {
			attrs = append(attrs, attribute.Int(attrStatusCode, status))
		}
		attemptDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// recordFallback records a proxy the fallback moved past.
func recordFallback(ctx context.Context, protocol string, err error) {
	ensureFetchMeterInitialized()

	if fallbackCounter == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String(attrProxyProtocol, protocol)}
	if err != nil {
		attrs = append(attrs, attribute.String(attrErrorType, errorType(err)))
	}
	fallbackCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// ResetForTesting resets the metric state for testing purposes.
func ResetForTesting() {
	meterInitMu.Lock()
	defer meterInitMu.Unlock()

	fetchMeter = nil
	attemptCounter = nil
	attemptDuration = nil
	fallbackCounter = nil
	meterOnce = sync.Once{}
}
