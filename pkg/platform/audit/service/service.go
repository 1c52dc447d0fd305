// Package service is the audit façade business code calls to record who did what to what.
//
// Logging is best-effort: every Log* method returns the new record ID, or "" when the event
// could not be recorded, and never returns an error or panics. A failed audit write is visible
// only through the service's logger and metrics, so auditing can never fail or roll back the
// business operation it observes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	audit "storefront/pkg/platform/audit"
	"storefront/pkg/platform/audit/integrity"
	"storefront/pkg/platform/audit/policy"
	"storefront/pkg/platform/sentinel"
	txcontext "storefront/pkg/platform/tx"
	"storefront/pkg/requestcontext"
)

const (
	defaultWriteTimeout     = 2 * time.Second
	defaultRetryAttempts    = 2
	defaultRetryDelay       = 20 * time.Millisecond
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
	defaultAsyncLimit       = 1024
)

// Event describes an audited operation. Zero Status means SUCCESS.
type Event struct {
	Action   audit.Action
	Entity   audit.Entity
	EntityID string

	Before   audit.Fields
	After    audit.Fields
	Metadata audit.Fields

	Status       audit.Status
	ErrorMessage string

	// Classification is an explicit sensitivity judgment by the caller. The service keeps
	// whichever is higher of this and the field-name classification.
	Classification policy.Classification

	// actorID replaces an anonymous context actor; set by LogAuthentication.
	actorID string
}

// AuthEvent describes an authentication attempt.
type AuthEvent struct {
	Action       audit.Action
	Success      bool
	UserID       string
	Email        string
	ErrorMessage string
	Metadata     audit.Fields
}

// BreakerSettings tunes the circuit breaker around store writes.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failed writes that opens the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before a trial write.
	OpenTimeout time.Duration
}

// Service records audit events through a Store.
type Service struct {
	store   audit.Store
	policy  *policy.Engine
	logger  *slog.Logger
	metrics *Metrics

	writeTimeout  time.Duration
	retryAttempts uint
	retryDelay    time.Duration
	breakerCfg    BreakerSettings
	breaker       *gobreaker.CircuitBreaker

	asyncLimit int64
	async      *semaphore.Weighted
	mu         sync.RWMutex
	closed     bool
	inFlight   sync.WaitGroup
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithPolicy sets the data-protection policy. Defaults to policy.DefaultConfig.
func WithPolicy(engine *policy.Engine) Option {
	return func(s *Service) {
		if engine != nil {
			s.policy = engine
		}
	}
}

// WithWriteTimeout bounds a single store write including retries.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithRetry sets how many times a failed write is attempted and the base backoff between
// attempts. attempts below 1 are treated as 1.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(s *Service) {
		s.retryAttempts = max(attempts, 1)
		if delay >= 0 {
			s.retryDelay = delay
		}
	}
}

// WithBreaker tunes the circuit breaker around store writes.
func WithBreaker(cfg BreakerSettings) Option {
	return func(s *Service) {
		if cfg.FailureThreshold > 0 {
			s.breakerCfg.FailureThreshold = cfg.FailureThreshold
		}
		if cfg.OpenTimeout > 0 {
			s.breakerCfg.OpenTimeout = cfg.OpenTimeout
		}
	}
}

// WithAsyncLimit caps the number of concurrent fire-and-forget writes.
func WithAsyncLimit(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.asyncLimit = n
		}
	}
}

// New creates the audit service.
func New(store audit.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	s := &Service{
		store:         store,
		logger:        slog.Default(),
		writeTimeout:  defaultWriteTimeout,
		retryAttempts: defaultRetryAttempts,
		retryDelay:    defaultRetryDelay,
		breakerCfg: BreakerSettings{
			FailureThreshold: defaultFailureThreshold,
			OpenTimeout:      defaultOpenTimeout,
		},
		asyncLimit: defaultAsyncLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy == nil {
		engine, err := policy.New(policy.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("default audit policy: %w", err)
		}
		s.policy = engine
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	s.async = semaphore.NewWeighted(s.asyncLimit)
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit-store",
		MaxRequests: 1,
		Timeout:     s.breakerCfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.breakerCfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// A rejected record says nothing about store health.
			return err == nil || errors.Is(err, audit.ErrInvalidRecord)
		},
		OnStateChange: s.onBreakerStateChange,
	})
	return s, nil
}

// Policy returns the policy engine the service sanitizes and filters with.
func (s *Service) Policy() *policy.Engine {
	return s.policy
}

// LogEvent records an event and returns the new record ID, or "" when it could not be
// recorded. It never panics and never returns an error; the write is bounded by the write
// timeout and is not cancelled when ctx is.
func (s *Service) LogEvent(ctx context.Context, ev Event) (id string) {
	defer func() {
		if r := recover(); r != nil {
			id = ""
			s.metrics.incFailure(reasonPanic)
			s.logger.ErrorContext(ctx, "audit event processing panicked",
				"action", ev.Action,
				"entity", ev.Entity,
				"panic", r,
			)
		}
	}()

	record, class, err := s.buildRecord(ctx, ev)
	if err != nil {
		s.metrics.incFailure(reasonInvalid)
		s.logger.ErrorContext(ctx, "audit event rejected",
			"action", ev.Action,
			"entity", ev.Entity,
			"error", err,
		)
		return ""
	}

	id, err = s.persist(ctx, record)
	if err != nil {
		s.metrics.incFailure(reasonStore)
		s.logger.ErrorContext(ctx, "audit write failed",
			"action", record.Action,
			"entity", record.Entity,
			"entity_id", record.EntityID,
			"request_id", record.RequestID,
			"error", err,
		)
		return ""
	}

	s.metrics.incLogged(string(record.Action), class.String())
	return id
}

// LogAuthentication records a login/logout style event against the SESSION entity. The status
// follows Success; a failed attempt without a message is recorded as "authentication failed".
func (s *Service) LogAuthentication(ctx context.Context, ev AuthEvent) string {
	metadata := audit.Fields{}
	for k, v := range ev.Metadata {
		metadata[k] = v
	}
	if ev.Email != "" {
		metadata["email"] = ev.Email
	}

	event := Event{
		Action:   ev.Action,
		Entity:   audit.EntitySession,
		EntityID: ev.UserID,
		Metadata: metadata,
		Status:   audit.StatusSuccess,
		actorID:  ev.UserID,
	}
	if !ev.Success {
		event.Status = audit.StatusFailure
		event.ErrorMessage = ev.ErrorMessage
		if event.ErrorMessage == "" {
			event.ErrorMessage = "authentication failed"
		}
	}
	return s.LogEvent(ctx, event)
}

// LogDataChange records a change with both snapshots, so the change set is always computed.
// A nil snapshot is treated as empty.
func (s *Service) LogDataChange(ctx context.Context, action audit.Action, entity audit.Entity, entityID string, before, after audit.Fields) string {
	if before == nil {
		before = audit.Fields{}
	}
	if after == nil {
		after = audit.Fields{}
	}
	return s.LogEvent(ctx, Event{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Before:   before,
		After:    after,
	})
}

// LogEventAsync records an event without waiting for the write. It returns false when the
// event was dropped because the service is closed or the in-flight limit is reached.
func (s *Service) LogEventAsync(ctx context.Context, ev Event) bool {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		s.metrics.incFailure(reasonDropped)
		s.logger.WarnContext(ctx, "audit event dropped: service is closed", "action", ev.Action)
		return false
	}
	if !s.async.TryAcquire(1) {
		s.mu.RUnlock()
		s.metrics.incFailure(reasonDropped)
		s.logger.WarnContext(ctx, "audit event dropped: too many writes in flight", "action", ev.Action)
		return false
	}
	s.inFlight.Add(1)
	s.mu.RUnlock()

	s.metrics.AsyncInFlight.Inc()
	// The caller's transaction may be committed before the write runs.
	detached := txcontext.Detach(context.WithoutCancel(ctx))
	go func() {
		defer s.inFlight.Done()
		defer s.async.Release(1)
		defer s.metrics.AsyncInFlight.Dec()
		s.LogEvent(detached, ev)
	}()
	return true
}

// Close stops accepting async events and waits for in-flight ones, or until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight audit writes: %w", ctx.Err())
	}
}

// ListFor queries the store and returns only the records the reader may see. Scoped readers have
// their permitted entities pushed down to the store; the result is filtered again regardless.
func (s *Service) ListFor(ctx context.Context, reader policy.Reader, filter audit.Filter) ([]audit.Record, error) {
	entities, all := s.policy.PermittedEntities(reader)
	if !all {
		if filter.Entity != "" && !s.policy.CanRead(reader, filter.Entity) {
			return []audit.Record{}, nil
		}
		if filter.Entities != nil {
			entities = intersect(entities, filter.Entities)
		}
		if len(entities) == 0 {
			return []audit.Record{}, nil
		}
		filter.Entities = entities
	}

	records, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return s.policy.FilterForReader(reader, records), nil
}

// Verify loads a record and checks it against its integrity seal. A mismatch is reported as
// false; an unknown ID as sentinel.ErrNotFound.
func (s *Service) Verify(ctx context.Context, id string) (bool, error) {
	records, err := s.store.Query(ctx, audit.Filter{ID: id, Limit: 1})
	if err != nil {
		return false, fmt.Errorf("load audit record: %w", err)
	}
	if len(records) == 0 {
		return false, fmt.Errorf("audit record %s: %w", id, sentinel.ErrNotFound)
	}
	ok := integrity.VerifyRecord(records[0])
	if !ok {
		s.logger.WarnContext(ctx, "audit integrity check failed", "record_id", id)
	}
	return ok, nil
}

// buildRecord composes the request context with the event and applies the data-protection
// policy. Changes are computed from the raw snapshots, then reported with sanitized values, so
// a changed secret shows as changed without leaking either value.
func (s *Service) buildRecord(ctx context.Context, ev Event) (audit.Record, policy.Classification, error) {
	info := requestcontext.FromContext(ctx)

	status := ev.Status
	if status == "" {
		status = audit.StatusSuccess
	}
	actorID := info.ActorID
	if actorID == "" {
		actorID = ev.actorID
	}

	class := max(
		ev.Classification,
		s.policy.Classify(ev.Before),
		s.policy.Classify(ev.After),
		s.policy.Classify(ev.Metadata),
	)

	// Request-derived text is cleaned so one malformed header cannot make the record unstorable.
	record := audit.Record{
		ActorID:      audit.CleanText(actorID),
		ActorRole:    audit.CleanText(info.ActorRole),
		ActorEmail:   audit.CleanText(info.ActorEmail),
		Action:       ev.Action,
		Entity:       ev.Entity,
		EntityID:     audit.CleanText(ev.EntityID),
		Before:       audit.CleanFields(s.policy.Sanitize(ev.Before)),
		After:        audit.CleanFields(s.policy.Sanitize(ev.After)),
		Metadata:     audit.CleanFields(s.policy.Sanitize(ev.Metadata)),
		IPAddress:    audit.CleanText(info.ClientIP),
		UserAgent:    audit.CleanText(info.UserAgent),
		SessionID:    audit.CleanText(info.SessionID),
		RequestID:    audit.CleanText(info.RequestID),
		Status:       status,
		ErrorMessage: audit.CleanText(ev.ErrorMessage),
	}

	if raw := audit.ComputeChanges(ev.Before, ev.After); raw != nil {
		record.Changes = make(map[string]audit.Change, len(raw))
		for key := range raw {
			key = audit.CleanText(key)
			record.Changes[key] = audit.Change{From: record.Before[key], To: record.After[key]}
		}
	}

	if err := record.Validate(); err != nil {
		return audit.Record{}, class, err
	}
	return record, class, nil
}

// persist writes through the circuit breaker with bounded retries. The write context keeps the
// caller's values but not its cancellation. A write joining the caller's transaction is attempted
// once and without the write timeout: a retried or cancelled statement would run against a
// transaction the store has already rolled back to its savepoint.
func (s *Service) persist(ctx context.Context, record audit.Record) (string, error) {
	start := time.Now()
	defer func() { s.metrics.observeWrite(time.Since(start).Seconds()) }()

	writeCtx := context.WithoutCancel(ctx)
	attempts := s.retryAttempts
	if _, inTx := txcontext.From(ctx); inTx {
		attempts = 1
	} else {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(writeCtx, s.writeTimeout)
		defer cancel()
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		var id string
		r := retry.New(
			retry.Context(writeCtx),
			retry.Attempts(attempts),
			retry.DelayType(func(n uint, _ error, _ retry.DelayContext) time.Duration {
				return s.retryDelay << n
			}),
		)
		err := r.Do(func() error {
			var appendErr error
			id, appendErr = s.store.Append(writeCtx, record, integrity.Seal)
			if errors.Is(appendErr, audit.ErrInvalidRecord) {
				return retry.Unrecoverable(appendErr)
			}
			return appendErr
		})
		return id, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("audit store circuit open: %w", sentinel.ErrUnavailable)
	}
	if err != nil {
		return "", err
	}
	id, _ := result.(string)
	if id == "" {
		return "", errors.New("store returned an empty record id")
	}
	return id, nil
}

func (s *Service) onBreakerStateChange(name string, from, to gobreaker.State) {
	switch to {
	case gobreaker.StateOpen:
		s.metrics.CircuitBreakerState.Set(1)
	case gobreaker.StateHalfOpen:
		s.metrics.CircuitBreakerState.Set(2)
	default:
		s.metrics.CircuitBreakerState.Set(0)
	}
	s.logger.Warn("audit store circuit breaker state changed",
		"breaker", name,
		"from", from.String(),
		"to", to.String(),
	)
}

func intersect(permitted, requested []audit.Entity) []audit.Entity {
	out := make([]audit.Entity, 0, len(permitted))
	for _, p := range permitted {
		for _, r := range requested {
			if p == r {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// ReaderFromContext builds the audit reader from the request's actor.
func ReaderFromContext(ctx context.Context) policy.Reader {
	info := requestcontext.FromContext(ctx)
	return policy.Reader{ID: info.ActorID, Role: info.ActorRole}
}
