// Package service implements the conversation orchestrator: it owns the
// ordered turn log, drives each question through the upstream service, and
// renders exports and explanations from the latest result.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/flowbit-ai/chat-with-data/internal/model"
	"github.com/flowbit-ai/chat-with-data/internal/store"
	"github.com/flowbit-ai/chat-with-data/internal/summary"
	"github.com/flowbit-ai/chat-with-data/internal/suggest"
	"github.com/flowbit-ai/chat-with-data/internal/upstream"
	"github.com/flowbit-ai/chat-with-data/pkg/logger"
	"github.com/flowbit-ai/chat-with-data/pkg/metrics"
	"github.com/flowbit-ai/chat-with-data/pkg/tracing"
)

const (
	persistTimeout   = 5 * time.Second
	publishTimeout   = 5 * time.Second
	outboxSize       = 256
	subscriberBuffer = 64
)

// State is the position of the orchestrator in the submission lifecycle.
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingHealthCheck State = "awaiting_health_check"
	StateAwaitingQuery       State = "awaiting_query"
	StateSuccess             State = "success"
	StateFailed              State = "failed"
)

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Ready       bool  `json:"ready"`
	State       State `json:"state"`
	LastOutcome State `json:"last_outcome,omitempty"`
	Turns       int   `json:"turns"`
}

// QueryClient is the upstream NL-to-SQL service.
type QueryClient interface {
	Probe(ctx context.Context) (*model.HealthStatus, error)
	Query(ctx context.Context, question string, fetchAll bool) (*model.QueryResult, error)
	BaseURL() string
	ServiceName() string
	ErrorPrefix() string
}

// EventPublisher receives every log mutation in order.
type EventPublisher interface {
	Publish(ctx context.Context, ev *model.TurnEvent) error
}

// ChatConfig holds orchestrator settings.
type ChatConfig struct {
	// Namespace is the storage key of the persisted log.
	Namespace string
	// InlineRows caps the rows kept on an assistant turn; 0 keeps all.
	InlineRows int
}

type flight struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}

	// set before done is closed
	turn *model.Turn
	err  error
}

// ChatService is the conversation orchestrator. At most one question is in
// flight at a time; the export re-fetch runs on its own slot.
type ChatService struct {
	client    QueryClient
	store     store.Store
	publisher EventPublisher
	cfg       ChatConfig
	logger    *logger.Logger
	tracer    trace.Tracer
	exports   singleflight.Group

	outbox  chan model.TurnEvent
	wg      sync.WaitGroup
	flights sync.WaitGroup

	mu          sync.Mutex
	ready       bool
	closed      bool
	turns       []model.Turn
	state       State
	lastOutcome State
	gen         uint64
	inflight    *flight
	subs        map[chan model.TurnEvent]struct{}
}

// NewChatService creates the orchestrator. publisher may be nil. The log is
// unusable until Restore succeeds.
func NewChatService(client QueryClient, st store.Store, publisher EventPublisher, cfg ChatConfig, log *logger.Logger) *ChatService {
	s := &ChatService{
		client:    client,
		store:     st,
		publisher: publisher,
		cfg:       cfg,
		logger:    log.Named("chat"),
		tracer:    tracing.Tracer("chat"),
		state:     StateIdle,
		turns:     []model.Turn{},
		subs:      make(map[chan model.TurnEvent]struct{}),
	}

	if publisher != nil {
		s.outbox = make(chan model.TurnEvent, outboxSize)
		s.wg.Add(1)
		go s.publishLoop()
	}

	return s
}

// Restore loads the persisted log once. Until it returns nil every mutation
// fails with ErrNotReady, so an empty log can never overwrite stored turns.
func (s *ChatService) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	turns, err := store.LoadTurns(ctx, s.store, s.cfg.Namespace)
	if err != nil {
		return err
	}

	s.turns = turns
	s.ready = true
	s.logger.Info("conversation restored",
		zap.String("namespace", s.cfg.Namespace),
		zap.String("backend", s.store.Name()),
		zap.Int("turns", len(turns)),
	)

	return nil
}

// Ready reports whether Restore has completed.
func (s *ChatService) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Submit starts answering question in the background. It returns false
// without touching the log when another question is still in flight.
func (s *ChatService) Submit(ctx context.Context, question string) (bool, error) {
	_, accepted, err := s.start(context.WithoutCancel(ctx), question)
	return accepted, err
}

// Ask submits question and waits for its assistant turn. Cancelling ctx
// abandons the question: the network call is aborted, no assistant turn is
// appended and ctx's error is returned.
func (s *ChatService) Ask(ctx context.Context, question string) (*model.Turn, bool, error) {
	f, accepted, err := s.start(ctx, question)
	if err != nil || !accepted {
		return nil, accepted, err
	}

	<-f.done
	return f.turn, true, f.err
}

func (s *ChatService) start(parent context.Context, question string) (*flight, bool, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, false, ErrEmptyQuestion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready || s.closed {
		return nil, false, ErrNotReady
	}
	if s.state != StateIdle {
		metrics.SubmissionsRejected.Inc()
		s.logger.Debug("question ignored, another is in flight", zap.String("state", string(s.state)))
		return nil, false, nil
	}

	s.appendLocked(model.Turn{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Role:      model.RoleUser,
		Content:   question,
		CreatedAt: time.Now().UTC(),
	})

	ctx, cancel := context.WithCancel(parent)
	s.gen++
	f := &flight{gen: s.gen, cancel: cancel, done: make(chan struct{})}
	s.inflight = f
	s.state = StateAwaitingHealthCheck

	s.flights.Add(1)
	go s.run(ctx, f, question)

	return f, true, nil
}

func (s *ChatService) run(ctx context.Context, f *flight, question string) {
	defer s.flights.Done()
	defer f.cancel()

	ctx, span := s.tracer.Start(ctx, "chat.question",
		trace.WithAttributes(attribute.Int("question.length", len(question))))
	defer span.End()

	turn, err := s.resolve(ctx, f, question)
	s.finish(f, turn, err)
}

// resolve runs probe then query. A nil turn with an error means the
// question was abandoned.
func (s *ChatService) resolve(ctx context.Context, f *flight, question string) (*model.Turn, error) {
	if _, err := s.client.Probe(ctx); err != nil {
		return s.failure(err)
	}

	if !s.advance(f, StateAwaitingQuery) {
		return nil, context.Canceled
	}

	res, err := s.client.Query(ctx, question, false)
	if err != nil {
		return s.failure(err)
	}

	return s.successTurn(res), nil
}

func (s *ChatService) failure(err error) (*model.Turn, error) {
	ue, ok := upstream.AsError(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		ue = &upstream.Error{Category: upstream.CategoryUnknown, Message: err.Error(), Err: err}
	}
	return s.failureTurn(ue), nil
}

func (s *ChatService) advance(f *flight, next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight != f {
		return false
	}
	s.state = next
	return true
}

func (s *ChatService) finish(f *flight, turn *model.Turn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer close(f.done)

	// Cancel or Clear already released the slot.
	if s.inflight != f || f.gen != s.gen {
		f.err = context.Canceled
		if err != nil {
			f.err = err
		}
		s.logger.Debug("dropped result of abandoned question")
		return
	}

	s.inflight = nil
	if turn == nil {
		s.state = StateIdle
		f.err = err
		s.logger.Info("question abandoned", zap.Error(err))
		return
	}

	s.state = StateSuccess
	if turn.Failed() {
		s.state = StateFailed
		s.logger.Warn("question failed", zap.String("category", turn.ErrorCategory))
	}
	s.lastOutcome = s.state
	s.appendLocked(*turn)
	s.state = StateIdle

	f.turn = turn
}

// Cancel abandons the in-flight question, if any.
func (s *ChatService) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandonLocked()
}

func (s *ChatService) abandonLocked() bool {
	f := s.inflight
	if f == nil {
		return false
	}
	f.cancel()
	s.gen++
	s.inflight = nil
	s.state = StateIdle
	return true
}

// Clear removes the persisted copy, then abandons any in-flight question and
// empties the log. On a storage error nothing changes.
func (s *ChatService) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return ErrNotReady
	}

	// The log is left untouched unless the persisted copy is gone.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.store.Delete(pctx, s.cfg.Namespace); err != nil {
		metrics.StoreWriteFailures.WithLabelValues(s.store.Name()).Inc()
		s.logger.Error("failed to delete persisted conversation", zap.Error(err))
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	s.abandonLocked()
	s.turns = []model.Turn{}

	s.emitLocked(model.TurnEvent{
		Type:      model.EventTypeCleared,
		Namespace: s.cfg.Namespace,
		CreatedAt: time.Now().UTC(),
	})
	s.logger.Info("conversation cleared")

	return nil
}

// Namespace returns the storage key of the log.
func (s *ChatService) Namespace() string {
	return s.cfg.Namespace
}

// Turns returns a copy of the log in insertion order.
func (s *ChatService) Turns() ([]model.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil, ErrNotReady
	}
	return cloneTurns(s.turns), nil
}

func cloneTurns(turns []model.Turn) []model.Turn {
	out := make([]model.Turn, len(turns))
	for i := range turns {
		out[i] = turns[i].Clone()
	}
	return out
}

// Status reports the current state.
func (s *ChatService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Ready:       s.ready,
		State:       s.state,
		LastOutcome: s.lastOutcome,
		Turns:       len(s.turns),
	}
}

// Subscribe returns the current log and a channel of later mutations, with
// no gap between them. The channel is closed by the returned function or
// when the subscriber falls too far behind. After Close it is returned
// already closed.
func (s *ChatService) Subscribe() ([]model.Turn, <-chan model.TurnEvent, func()) {
	ch := make(chan model.TurnEvent, subscriberBuffer)

	s.mu.Lock()
	snapshot := cloneTurns(s.turns)
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return snapshot, ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}

	return snapshot, ch, unsubscribe
}

// Close abandons the in-flight question, waits for it to unwind, then stops
// event publishing and closes subscriber channels.
func (s *ChatService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.abandonLocked()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	if s.outbox != nil {
		close(s.outbox)
	}
	s.mu.Unlock()

	s.flights.Wait()
	s.wg.Wait()
}

func (s *ChatService) appendLocked(turn model.Turn) {
	s.turns = append(s.turns, turn)
	metrics.TurnsTotal.WithLabelValues(string(turn.Role)).Inc()

	s.persistLocked()
	published := turn.Clone()
	s.emitLocked(model.TurnEvent{
		Type:      model.EventTypeTurn,
		Namespace: s.cfg.Namespace,
		Turn:      &published,
		Sequence:  len(s.turns),
		CreatedAt: time.Now().UTC(),
	})
}

// persistLocked writes the full log. A failed write is logged and counted;
// the in-memory log stays authoritative and the next mutation retries.
func (s *ChatService) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := store.SaveTurns(ctx, s.store, s.cfg.Namespace, s.turns); err != nil {
		metrics.StoreWriteFailures.WithLabelValues(s.store.Name()).Inc()
		s.logger.Error("failed to persist conversation",
			zap.String("backend", s.store.Name()),
			zap.Error(err),
		)
	}
}

func (s *ChatService) emitLocked(ev model.TurnEvent) {
	if s.closed {
		return
	}

	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("dropping slow subscriber")
			delete(s.subs, ch)
			close(ch)
		}
	}

	if s.outbox != nil {
		select {
		case s.outbox <- ev:
		default:
			s.logger.Warn("event outbox full, dropping event", zap.String("type", string(ev.Type)))
		}
	}
}

func (s *ChatService) publishLoop() {
	defer s.wg.Done()

	for ev := range s.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := s.publisher.Publish(ctx, &ev); err != nil {
			s.logger.Warn("failed to publish event",
				zap.String("type", string(ev.Type)),
				zap.Int("sequence", ev.Sequence),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (s *ChatService) successTurn(res *model.QueryResult) *model.Turn {
	sum := summary.Summarize(res.Rows, res.Message)

	rows := res.Rows
	if n := s.cfg.InlineRows; n > 0 && len(rows) > n {
		rows = append([]model.Row(nil), rows[:n]...)
	}

	return &model.Turn{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Role:        model.RoleAssistant,
		Content:     sum.Content,
		SQL:         res.SQL,
		Rows:        rows,
		TotalRows:   len(res.Rows),
		ChartType:   res.ChartType,
		Totals:      sum.Totals,
		Suggestions: suggest.Suggest(res.Rows),
		CreatedAt:   time.Now().UTC(),
	}
}

// lastAssistantLocked scans from the tail for the newest assistant turn and
// the user question that precedes it. Indexes are -1 when absent.
func (s *ChatService) lastAssistantLocked() (assistant, user int) {
	assistant, user = -1, -1
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Role == model.RoleAssistant {
			assistant = i
			break
		}
	}
	for i := assistant - 1; i >= 0; i-- {
		if s.turns[i].Role == model.RoleUser {
			user = i
			break
		}
	}
	return assistant, user
}
