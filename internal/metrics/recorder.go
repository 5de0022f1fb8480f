package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder receives the daemon's operational events.
type Recorder interface {
	// RecordRefresh counts a refresh that passed every guard. Outcome is
	// "success" or an error kind.
	RecordRefresh(ctx context.Context, trigger, outcome string, d time.Duration)
	// RecordDropped counts a refresh rejected by guard.
	RecordDropped(ctx context.Context, trigger, guard string)
	// RecordNotification counts a notification attempt; outcome is "sent",
	// "disabled", "throttled" or "error".
	RecordNotification(ctx context.Context, kind, outcome string)
	// RecordPullRequests sets the current number of tracked pull requests.
	RecordPullRequests(ctx context.Context, n int)
	// RecordCommand counts a handled bridge command.
	RecordCommand(ctx context.Context, command, status string)
}

type recorder struct {
	refreshes     metric.Int64Counter
	refreshTime   metric.Float64Histogram
	dropped       metric.Int64Counter
	notifications metric.Int64Counter
	pullRequests  metric.Int64Gauge
	commands      metric.Int64Counter
}

func NewRecorder(mp metric.MeterProvider) (Recorder, error) {
	meter := mp.Meter(Namespace)
	r := &recorder{}
	var err error

	if r.refreshes, err = meter.Int64Counter(
		Namespace+"_refreshes_total",
		metric.WithDescription("Refreshes that passed every guard"),
		metric.WithUnit("{refresh}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create refresh counter: %w", err)
	}
	if r.refreshTime, err = meter.Float64Histogram(
		Namespace+"_refresh_duration_seconds",
		metric.WithDescription("Duration of refreshes in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create refresh histogram: %w", err)
	}
	if r.dropped, err = meter.Int64Counter(
		Namespace+"_refreshes_dropped_total",
		metric.WithDescription("Refresh requests rejected by a guard"),
		metric.WithUnit("{refresh}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dropped counter: %w", err)
	}
	if r.notifications, err = meter.Int64Counter(
		Namespace+"_notifications_total",
		metric.WithDescription("Notification attempts by outcome"),
		metric.WithUnit("{notification}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create notification counter: %w", err)
	}
	if r.pullRequests, err = meter.Int64Gauge(
		Namespace+"_pull_requests",
		metric.WithDescription("Pull requests found by the last refresh"),
		metric.WithUnit("{pull_request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create pull request gauge: %w", err)
	}
	if r.commands, err = meter.Int64Counter(
		Namespace+"_commands_total",
		metric.WithDescription("Bridge commands handled"),
		metric.WithUnit("{command}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create command counter: %w", err)
	}
	return r, nil
}

func (r *recorder) RecordRefresh(ctx context.Context, trigger, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	)
	r.refreshes.Add(ctx, 1, attrs)
	r.refreshTime.Record(ctx, d.Seconds(), attrs)
}

func (r *recorder) RecordDropped(ctx context.Context, trigger, guard string) {
	r.dropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("guard", guard),
	))
}

func (r *recorder) RecordNotification(ctx context.Context, kind, outcome string) {
	r.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func (r *recorder) RecordPullRequests(ctx context.Context, n int) {
	r.pullRequests.Record(ctx, int64(n))
}

func (r *recorder) RecordCommand(ctx context.Context, command, status string) {
	r.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", status),
	))
}

// NoOp discards everything. It is used when metrics are disabled.
type NoOp struct{}

func (NoOp) RecordRefresh(context.Context, string, string, time.Duration) {}
func (NoOp) RecordDropped(context.Context, string, string)               {}
func (NoOp) RecordNotification(context.Context, string, string)          {}
func (NoOp) RecordPullRequests(context.Context, int)                     {}
func (NoOp) RecordCommand(context.Context, string, string)               {}
