package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/madlen/chatd/internal/domain"
	"github.com/madlen/chatd/internal/ids"
	"github.com/madlen/chatd/internal/relay"
	"github.com/madlen/chatd/internal/store"
)

// ErrTurnActive is returned by Start while another turn is streaming.
var ErrTurnActive = errors.New("already generating")

// DefaultFlushInterval is the debounce window for draft flushes.
const DefaultFlushInterval = 200 * time.Millisecond

// Streamer opens a relay stream. Satisfied by *relay.Client.
type Streamer interface {
	Stream(ctx context.Context, model string, messages []domain.WireMessage, handler relay.EventHandler) error
}

// StartRequest describes one user turn.
type StartRequest struct {
	SessionID    string
	Model        string
	UserText     string
	ImageDataURL string
}

// StartResult reports the rows created for a started turn. Done is
// closed when the turn reaches a terminal state.
type StartResult struct {
	UserMessageID      string
	AssistantMessageID string
	Done               <-chan struct{}
}

// turn is the orchestrator-owned handle for the single active turn.
type turn struct {
	assistantID string
	sessionID   string
	cancel      context.CancelFunc
	done        chan struct{}
}

// Orchestrator drives the write/flush/finalize lifecycle of assistant
// turns and enforces the single-active-stream invariant.
type Orchestrator struct {
	store      store.Store
	streamer   Streamer
	notifier   Notifier
	log        *zap.Logger
	flushEvery time.Duration

	mu     sync.Mutex
	active *turn
}

// NewOrchestrator creates a turn orchestrator. flushEvery <= 0 uses
// DefaultFlushInterval.
func NewOrchestrator(st store.Store, streamer Streamer, notifier Notifier, log *zap.Logger, flushEvery time.Duration) *Orchestrator {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushInterval
	}
	return &Orchestrator{
		store:      st,
		streamer:   streamer,
		notifier:   notifier,
		log:        log,
		flushEvery: flushEvery,
	}
}

// Active reports whether a turn is currently streaming.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// Start begins one turn: it transactionally writes the user message and
// assistant placeholder, builds the wire payload from the full history,
// and opens the relay stream in the background. Returns ErrTurnActive
// without touching storage when a turn is already streaming.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if req.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if req.UserText == "" {
		return nil, fmt.Errorf("text is required")
	}

	userID := ids.New()
	assistantID := ids.New()
	streamCtx, cancel := context.WithCancel(context.Background())

	// The handle must be complete before it is published: a Stop landing
	// right after publication needs a working cancel and the real
	// assistant id.
	t := &turn{
		assistantID: assistantID,
		sessionID:   req.SessionID,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		cancel()
		return nil, ErrTurnActive
	}
	o.active = t
	o.mu.Unlock()

	now := time.Now().UnixMilli()
	rows, err := o.store.InsertTurn(ctx, store.TurnInsert{
		SessionID:      req.SessionID,
		UserID:         userID,
		AssistantID:    assistantID,
		UserText:       req.UserText,
		ImageDataURL:   req.ImageDataURL,
		Model:          req.Model,
		TitleCandidate: DeriveTitle(req.UserText),
		Now:            now,
	})
	if err != nil {
		cancel()
		o.release(t)
		close(t.done)
		return nil, fmt.Errorf("failed to create turn: %w", err)
	}

	if !o.owns(t) {
		// Stop raced the insert and may have run its finalize before the
		// rows committed. Finalize here so the placeholder cannot stay
		// streaming; the status guard keeps this a no-op when Stop's own
		// finalize already landed.
		cancel()
		o.finalizeStopped(t)
		close(t.done)
		return &StartResult{
			UserMessageID:      userID,
			AssistantMessageID: assistantID,
			Done:               t.done,
		}, nil
	}

	history, err := o.store.ListMessages(ctx, req.SessionID)
	if err != nil {
		// The rows are committed; finalize the placeholder rather than
		// leaving it streaming forever.
		cancel()
		o.finalizeError(t, assistantID, domain.ErrCodeStreamError, "failed to load history")
		o.release(t)
		close(t.done)
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	wire := BuildWireMessages(history, assistantID)

	o.log.Info("turn started",
		zap.String("session_id", req.SessionID),
		zap.String("assistant_id", assistantID),
		zap.String("model", req.Model),
		zap.Int("user_seq", rows.UserSeq))

	go o.run(streamCtx, t, req.Model, wire)

	return &StartResult{
		UserMessageID:      userID,
		AssistantMessageID: assistantID,
		Done:               t.done,
	}, nil
}

// Stop cancels the in-flight connection and finalizes the owned
// assistant message as stopped. No-op when no turn is active. The
// stopped finalize wins the race against the reader's abort path: once
// the slot is released and the row left streaming status, the reader
// exits quietly.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	t := o.active
	o.active = nil
	o.mu.Unlock()
	if t == nil {
		return
	}

	t.cancel()
	o.finalizeStopped(t)
}

// finalizeStopped marks the turn's placeholder stopped and pushes the
// informational notice. Skips both when the row already left streaming
// status so a stop racing a natural terminal stays silent.
func (o *Orchestrator) finalizeStopped(t *turn) {
	now := time.Now().UnixMilli()
	ok, err := o.store.FinalizeError(context.Background(), t.assistantID,
		domain.MessageStatusStopped, domain.ErrCodeAborted, "Stopped by user", now)
	if err != nil {
		o.log.Error("failed to finalize stopped turn",
			zap.String("assistant_id", t.assistantID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	o.log.Info("turn stopped", zap.String("assistant_id", t.assistantID))
	o.notifier.Push(NoticeFor(domain.ErrCodeAborted, ""))
}

// run consumes the relay stream for one turn. Exactly one terminal write
// lands for the placeholder: either here, or in Stop when the user
// aborted first.
func (o *Orchestrator) run(ctx context.Context, t *turn, model string, wire []domain.WireMessage) {
	defer close(t.done)

	var (
		flushMu    sync.Mutex
		flushTimer *time.Timer
		buf        string
	)

	cancelFlush := func() {
		flushMu.Lock()
		defer flushMu.Unlock()
		if flushTimer != nil {
			flushTimer.Stop()
			flushTimer = nil
		}
	}
	// Any outstanding flush must not land after finalization.
	defer cancelFlush()

	scheduleFlush := func() {
		flushMu.Lock()
		defer flushMu.Unlock()
		if flushTimer != nil {
			flushTimer.Stop()
		}
		flushTimer = time.AfterFunc(o.flushEvery, func() {
			flushMu.Lock()
			snapshot := buf
			flushMu.Unlock()
			if !o.owns(t) {
				return
			}
			now := time.Now().UnixMilli()
			if err := o.store.UpdateDraft(context.Background(), t.assistantID, snapshot, now); err != nil {
				o.log.Warn("draft flush failed",
					zap.String("assistant_id", t.assistantID), zap.Error(err))
			}
		})
	}

	var terminal *domain.StreamEvent
	err := o.streamer.Stream(ctx, model, wire, func(event domain.StreamEvent) error {
		switch event.Type {
		case domain.StreamEventDelta:
			flushMu.Lock()
			buf += event.Delta
			flushMu.Unlock()
			scheduleFlush()
		case domain.StreamEventCompleted, domain.StreamEventLLMError:
			e := event
			terminal = &e
		}
		return nil
	})

	cancelFlush()

	if errors.Is(err, relay.ErrAborted) {
		// Stop already finalized the row and released the slot.
		return
	}
	if err != nil {
		o.finalizeError(t, t.assistantID, domain.ErrCodeNetwork, err.Error())
		o.release(t)
		return
	}

	switch {
	case terminal == nil || terminal.Type == domain.StreamEventLLMError:
		code, message := domain.ErrCodeStreamError, "Streaming connection error"
		if terminal != nil {
			code, message = terminal.Code, terminal.Message
		}
		o.finalizeError(t, t.assistantID, code, message)
	default: // completed
		now := time.Now().UnixMilli()
		ok, err := o.store.FinalizeCompleted(context.Background(), t.assistantID, buf, now)
		if err != nil {
			o.log.Error("failed to finalize completed turn",
				zap.String("assistant_id", t.assistantID), zap.Error(err))
		}
		if ok {
			o.log.Info("turn completed",
				zap.String("assistant_id", t.assistantID),
				zap.Int("content_len", len(buf)))
		}
	}
	o.release(t)
}

// finalizeError marks the placeholder with a terminal error status and
// pushes the one-shot user notice. The store-side status guard keeps a
// late call harmless when another path finalized first.
func (o *Orchestrator) finalizeError(t *turn, assistantID, code, message string) {
	now := time.Now().UnixMilli()
	ok, err := o.store.FinalizeError(context.Background(), assistantID,
		domain.MessageStatusError, code, message, now)
	if err != nil {
		o.log.Error("failed to finalize errored turn",
			zap.String("assistant_id", assistantID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	o.log.Warn("turn failed",
		zap.String("assistant_id", assistantID),
		zap.String("code", code),
		zap.String("message", message))
	o.notifier.Push(NoticeFor(code, message))
}

// owns reports whether the turn still holds the active slot.
func (o *Orchestrator) owns(t *turn) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active == t
}

// release clears the active slot if the turn still holds it.
func (o *Orchestrator) release(t *turn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == t {
		o.active = nil
	}
}
