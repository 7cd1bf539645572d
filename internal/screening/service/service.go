// Package service is the screening orchestrator: it fans a query out to the
// enabled providers, ingests their callbacks idempotently, derives the
// aggregate status and pushes every change to live subscribers.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vigil/internal/platform/middleware"
	"vigil/internal/screening/metrics"
	"vigil/internal/screening/models"
	"vigil/internal/screening/providers"
	"vigil/internal/screening/store"
	"vigil/internal/stream"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/audit"
	"vigil/pkg/platform/sentinel"
)

var tracer = otel.Tracer("vigil/screening")

// EventScreeningUpdate is the SSE event type for aggregate changes. Every
// event carries the full snapshot, never a delta.
const EventScreeningUpdate = "screening.update"

// Broadcaster mirrors locally published events to other instances. The Redis
// relay implements it; single-instance deployments run without one.
type Broadcaster interface {
	Broadcast(ctx context.Context, event stream.Event) error
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store    store.QueryStore
	Hub      *stream.Hub
	Relay    Broadcaster
	Invokers []providers.Invoker
	Emitter  audit.Emitter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// CallbackBaseURL is the externally reachable base URL baked into
	// provider invocations.
	CallbackBaseURL string
	// InvokeTimeout bounds a single provider invocation request. This is the
	// time to hand over the request, not the time to screen.
	InvokeTimeout time.Duration
	// ProviderTimeout is how long a slot may stay pending before the reaper
	// forces it to failed.
	ProviderTimeout time.Duration

	// Now is injectable for tests.
	Now func() time.Time
}

// Service coordinates dispatch, callback ingestion and event publishing.
type Service struct {
	store    store.QueryStore
	hub      *stream.Hub
	relay    Broadcaster
	invokers map[models.ProviderKind]providers.Invoker
	emitter  audit.Emitter
	metrics  *metrics.Metrics
	logger   *slog.Logger

	callbackBaseURL string
	invokeTimeout   time.Duration
	providerTimeout time.Duration
	now             func() time.Time

	locks keyedMutex
}

func New(cfg Config) *Service {
	invokers := make(map[models.ProviderKind]providers.Invoker, len(cfg.Invokers))
	for _, inv := range cfg.Invokers {
		invokers[inv.Kind()] = inv
	}
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = 10 * time.Second
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:           cfg.Store,
		hub:             cfg.Hub,
		relay:           cfg.Relay,
		invokers:        invokers,
		emitter:         cfg.Emitter,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		callbackBaseURL: cfg.CallbackBaseURL,
		invokeTimeout:   cfg.InvokeTimeout,
		providerTimeout: cfg.ProviderTimeout,
		now:             cfg.Now,
	}
}

// Dispatch accepts a screening request, persists the query with one pending
// slot per enabled provider and issues the provider invocations. It returns
// as soon as the query is durable; invocations run detached because issuing
// a request and completing a screening are different lifecycles.
func (s *Service) Dispatch(ctx context.Context, req models.SubmitRequest) (models.SubmitResponse, error) {
	ctx, span := tracer.Start(ctx, "screening.dispatch",
		trace.WithAttributes(attribute.Int("providers.requested", len(req.Providers))))
	defer span.End()

	kinds, err := resolveProviders(req.Providers)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return models.SubmitResponse{}, err
	}

	query, err := models.NewQuery(id.NewQueryID(), req.Subject, kinds, s.now().UTC())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			// The only invariants reachable from user input are an empty
			// subject name and duplicate providers.
			return models.SubmitResponse{}, dErrors.New(dErrors.CodeInvalidInput, err.Error())
		}
		return models.SubmitResponse{}, err
	}

	if err := s.store.Create(ctx, query); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create query")
		return models.SubmitResponse{}, dErrors.Wrap(dErrors.CodeInternal, "create screening query", err)
	}
	span.SetAttributes(attribute.String("query.id", query.ID.String()))

	if s.metrics != nil {
		s.metrics.QueriesDispatched.Inc()
	}
	s.emit(ctx, audit.Event{
		Category:           audit.CategoryCompliance,
		Action:             audit.ActionQueryDispatched,
		QueryID:            query.ID.String(),
		Status:             string(models.StatusPending),
		SubjectFingerprint: query.Subject.Fingerprint(),
		RequestID:          middleware.GetRequestID(ctx),
	})
	s.logger.Info("screening dispatched",
		"query_id", query.ID.String(),
		"providers", len(kinds),
	)

	for _, kind := range kinds {
		go s.invoke(query.ID, kind, query.Subject)
	}

	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, string(kind))
	}
	return models.SubmitResponse{
		QueryID:   query.ID.String(),
		Status:    models.StatusPending,
		Providers: names,
	}, nil
}

// invoke hands one invocation to a provider backend. A synchronous delivery
// failure is routed through the same transition path as a provider-reported
// failure, so the slot reaches a terminal state either way.
func (s *Service) invoke(queryID id.QueryID, kind models.ProviderKind, subject models.Subject) {
	inv := providers.Invocation{
		QueryID:    queryID.String(),
		Subject:    subject,
		ResultsURL: fmt.Sprintf("%s/v1/providers/%s/results", s.callbackBaseURL, kind),
		FailedURL:  fmt.Sprintf("%s/v1/providers/%s/failed", s.callbackBaseURL, kind),
	}

	invoker, ok := s.invokers[kind]
	if !ok {
		s.recordDispatchFailure(queryID, kind, "no invoker configured for provider")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.invokeTimeout)
	defer cancel()
	if err := invoker.Invoke(ctx, inv); err != nil {
		s.recordDispatchFailure(queryID, kind, err.Error())
	}
}

func (s *Service) recordDispatchFailure(queryID id.QueryID, kind models.ProviderKind, reason string) {
	s.logger.Error("provider dispatch failed",
		"query_id", queryID.String(),
		"provider", string(kind),
		"reason", reason,
	)
	if s.metrics != nil {
		s.metrics.DispatchFailures.WithLabelValues(string(kind)).Inc()
	}
	outcome := models.Outcome{
		Error:      &models.ProviderError{Code: models.ErrorCodeDispatchFailed, Message: reason},
		ReportedAt: s.now().UTC(),
	}
	if _, err := s.applyOutcome(context.Background(), queryID, kind, outcome, audit.ActionProviderReported); err != nil {
		s.logger.Error("failed to record dispatch failure",
			"query_id", queryID.String(),
			"provider", string(kind),
			"error", err,
		)
	}
}

// ReportSuccess ingests a provider success callback. The returned bool is
// false when the callback was a duplicate and was absorbed.
func (s *Service) ReportSuccess(ctx context.Context, queryID id.QueryID, kind models.ProviderKind, payload json.RawMessage) (bool, error) {
	if len(payload) == 0 {
		return false, dErrors.New(dErrors.CodeInvalidInput, "payload is required")
	}
	outcome := models.Outcome{Result: payload, ReportedAt: s.now().UTC()}
	return s.applyOutcome(ctx, queryID, kind, outcome, audit.ActionProviderReported)
}

// ReportFailure ingests a provider failure callback.
func (s *Service) ReportFailure(ctx context.Context, queryID id.QueryID, kind models.ProviderKind, code, message string) (bool, error) {
	if message == "" {
		return false, dErrors.New(dErrors.CodeInvalidInput, "message is required")
	}
	if code == "" {
		code = "provider_error"
	}
	outcome := models.Outcome{
		Error:      &models.ProviderError{Code: code, Message: message},
		ReportedAt: s.now().UTC(),
	}
	return s.applyOutcome(ctx, queryID, kind, outcome, audit.ActionProviderReported)
}

// applyOutcome transitions one slot and, if the transition applied, publishes
// the new aggregate snapshot. The query's lock spans both steps: that is the
// ordering guarantee subscribers rely on.
func (s *Service) applyOutcome(ctx context.Context, queryID id.QueryID, kind models.ProviderKind, outcome models.Outcome, action audit.Action) (bool, error) {
	ctx, span := tracer.Start(ctx, "screening.apply_outcome",
		trace.WithAttributes(
			attribute.String("query.id", queryID.String()),
			attribute.String("provider", string(kind)),
			attribute.Bool("succeeded", outcome.Succeeded()),
		))
	defer span.End()

	unlock := s.locks.lock(queryID.String())
	defer unlock()

	snapshot, applied, err := s.store.ApplyOutcome(ctx, queryID, kind, outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply outcome")
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, dErrors.Wrap(dErrors.CodeNotFound, "unknown query or provider not enabled for it", err)
		}
		return false, dErrors.Wrap(dErrors.CodeInternal, "apply provider outcome", err)
	}

	if !applied {
		span.SetAttributes(attribute.Bool("duplicate", true))
		if s.metrics != nil {
			s.metrics.DuplicateCallbacks.WithLabelValues(string(kind)).Inc()
		}
		s.logger.Debug("duplicate provider report absorbed",
			"query_id", queryID.String(),
			"provider", string(kind),
		)
		return false, nil
	}

	status := snapshot.Status()
	outcomeLabel := "succeeded"
	if !outcome.Succeeded() {
		outcomeLabel = "failed"
	}
	if s.metrics != nil {
		s.metrics.ProviderCallbacks.WithLabelValues(string(kind), outcomeLabel).Inc()
	}
	s.metrics.ObserveProviderLatency(string(kind), outcome.ReportedAt.Sub(snapshot.CreatedAt))

	auditEvent := audit.Event{
		Category:  audit.CategoryCompliance,
		Action:    action,
		QueryID:   queryID.String(),
		Provider:  string(kind),
		Status:    string(status),
		RequestID: middleware.GetRequestID(ctx),
	}
	if !outcome.Succeeded() {
		auditEvent.Reason = outcome.Error.Message
	}
	s.emit(ctx, auditEvent)
	if status.Terminal() {
		s.emit(ctx, audit.Event{
			Category: audit.CategoryCompliance,
			Action:   audit.ActionQueryCompleted,
			QueryID:  queryID.String(),
			Status:   string(status),
		})
		s.logger.Info("screening completed",
			"query_id", queryID.String(),
			"status", string(status),
		)
	}

	event := stream.Event{
		Type:     EventScreeningUpdate,
		Query:    queryID.String(),
		Terminal: status.Terminal(),
		Payload:  models.SnapshotOf(snapshot),
	}
	result := s.hub.Publish(ctx, event)
	if s.metrics != nil {
		s.metrics.EventsPublished.Inc()
		if result.Pruned > 0 {
			s.metrics.SubscribersPruned.Add(float64(result.Pruned))
		}
	}
	if s.relay != nil {
		if err := s.relay.Broadcast(ctx, event); err != nil {
			s.logger.Warn("relay broadcast failed", "query_id", queryID.String(), "error", err)
		}
	}
	return true, nil
}

// Snapshot returns the current aggregate view of a query for polling reads.
func (s *Service) Snapshot(ctx context.Context, queryID id.QueryID) (models.Snapshot, error) {
	query, err := s.store.FindByID(ctx, queryID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Snapshot{}, dErrors.Wrap(dErrors.CodeNotFound, "screening query not found", err)
		}
		return models.Snapshot{}, dErrors.Wrap(dErrors.CodeInternal, "load screening query", err)
	}
	return models.SnapshotOf(query), nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed", "action", string(event.Action), "error", err)
	}
}

// resolveProviders maps requested provider names to kinds. Empty means all
// known kinds.
func resolveProviders(names []string) ([]models.ProviderKind, error) {
	if len(names) == 0 {
		return models.AllProviderKinds(), nil
	}
	kinds := make([]models.ProviderKind, 0, len(names))
	seen := make(map[models.ProviderKind]struct{}, len(names))
	for _, name := range names {
		kind, err := models.ParseProviderKind(name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[kind]; dup {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "duplicate provider: "+name)
		}
		seen[kind] = struct{}{}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
