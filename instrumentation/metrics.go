package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for the authorization server.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Protocol flows
	ClientsRegistered    metric.Int64Counter
	AuthorizationStarted metric.Int64Counter
	TokensGranted        metric.Int64Counter

	// Security
	PKCEValidationFailed metric.Int64Counter
	AuthFailures         metric.Int64Counter

	// Sweeper
	SweepRemoved metric.Int64Counter
}

// newMetrics creates and registers all metric instruments on a meter.
func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"vtauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"))
	if err != nil {
		return nil, fmt.Errorf("creating http.requests.total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"vtauth.http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating http.request.duration: %w", err)
	}

	m.ClientsRegistered, err = meter.Int64Counter(
		"vtauth.clients.registered",
		metric.WithDescription("Total number of dynamically registered clients"))
	if err != nil {
		return nil, fmt.Errorf("creating clients.registered: %w", err)
	}

	m.AuthorizationStarted, err = meter.Int64Counter(
		"vtauth.authorization.started",
		metric.WithDescription("Total number of authorization codes issued"))
	if err != nil {
		return nil, fmt.Errorf("creating authorization.started: %w", err)
	}

	m.TokensGranted, err = meter.Int64Counter(
		"vtauth.tokens.granted",
		metric.WithDescription("Total number of successful token grants by grant type"))
	if err != nil {
		return nil, fmt.Errorf("creating tokens.granted: %w", err)
	}

	m.PKCEValidationFailed, err = meter.Int64Counter(
		"vtauth.security.pkce_failures",
		metric.WithDescription("Total number of failed PKCE verifications"))
	if err != nil {
		return nil, fmt.Errorf("creating security.pkce_failures: %w", err)
	}

	m.AuthFailures, err = meter.Int64Counter(
		"vtauth.security.auth_failures",
		metric.WithDescription("Total number of client authentication failures"))
	if err != nil {
		return nil, fmt.Errorf("creating security.auth_failures: %w", err)
	}

	m.SweepRemoved, err = meter.Int64Counter(
		"vtauth.sweep.removed",
		metric.WithDescription("Total number of expired records removed by the sweeper"))
	if err != nil {
		return nil, fmt.Errorf("creating sweep.removed: %w", err)
	}

	return m, nil
}

// AddHTTPRequest records a completed HTTP request.
func (m *Metrics) AddHTTPRequest(ctx context.Context, endpoint string, status int, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Int("status", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, seconds, attrs)
}

// AddClientRegistered records a client registration.
func (m *Metrics) AddClientRegistered(ctx context.Context) {
	m.ClientsRegistered.Add(ctx, 1)
}

// AddAuthorizationStarted records an issued authorization code.
func (m *Metrics) AddAuthorizationStarted(ctx context.Context) {
	m.AuthorizationStarted.Add(ctx, 1)
}

// AddTokenGranted records a successful grant of the given type.
func (m *Metrics) AddTokenGranted(ctx context.Context, grantType string) {
	m.TokensGranted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType)))
}

// AddPKCEValidationFailed records a failed PKCE verification.
func (m *Metrics) AddPKCEValidationFailed(ctx context.Context) {
	m.PKCEValidationFailed.Add(ctx, 1)
}

// AddAuthFailure records a client authentication failure.
func (m *Metrics) AddAuthFailure(ctx context.Context) {
	m.AuthFailures.Add(ctx, 1)
}

// AddSweepRemoved records records removed by the sweeper.
func (m *Metrics) AddSweepRemoved(ctx context.Context, kind string, count int) {
	m.SweepRemoved.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("kind", kind)))
}
