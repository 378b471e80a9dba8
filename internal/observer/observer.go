// Package observer scores finished chat turns with an LLM judge off the
// response path and files issues for low-quality turns.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/itellico/joi-sub010/internal/bus"
	"github.com/itellico/joi-sub010/internal/judge"
	"github.com/itellico/joi-sub010/internal/store"
)

// ExecutionModeDryRun marks turns produced without side effects.
const ExecutionModeDryRun = "dry_run"

// Skip reasons reported by SubmitCompletedTurn.
const (
	SkipDisabled        = "disabled"
	SkipDryRun          = "dry_run"
	SkipShortMessage    = "user_message_too_short"
	SkipAlreadyAnalyzed = "already_analyzed"
)

// Judge grades one turn.
type Judge interface {
	Evaluate(ctx context.Context, in judge.Input) (*judge.Result, error)
}

// Attributor reports which soul version served a conversation. An empty
// versionID means the conversation has no recorded assignment.
type Attributor interface {
	Attribution(ctx context.Context, agentID, conversationID string) (versionID, variant string, err error)
}

// Turn is the turn-completion notification.
type Turn struct {
	ConversationID string          `json:"conversationId"`
	MessageID      string          `json:"messageId"`
	Content        string          `json:"content"`
	AgentID        string          `json:"agentId,omitempty"`
	AgentName      string          `json:"agentName,omitempty"`
	Model          string          `json:"model,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	LatencyMs      *int64          `json:"latencyMs,omitempty"`
	CostUSD        *float64        `json:"costUsd,omitempty"`
	ExecutionMode  string          `json:"executionMode,omitempty"`
	ToolCalls      json.RawMessage `json:"toolCalls,omitempty"`
	ToolResults    json.RawMessage `json:"toolResults,omitempty"`
}

// Submission reports what SubmitCompletedTurn did.
type Submission struct {
	Queued     bool   `json:"queued"`
	AnalysisID string `json:"analysisId,omitempty"`
	Skipped    string `json:"skipped,omitempty"`
}

// Options configures the worker pool.
type Options struct {
	Workers   int
	QueueSize int
}

type job struct {
	analysisID string
	input      judge.Input
	config     store.ObserverConfig
}

// Observer runs the live quality pipeline.
type Observer struct {
	store    *store.Store
	judge    Judge
	config   ConfigSource
	events   bus.Publisher
	attrib   Attributor
	workers  int
	queue    chan job
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
	stopped  bool
	inflight sync.WaitGroup
}

// New creates an Observer. events and attrib may be nil.
func New(st *store.Store, j Judge, cfg ConfigSource, events bus.Publisher, attrib Attributor, opts Options) *Observer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Observer{
		store:   st,
		judge:   j,
		config:  cfg,
		events:  events,
		attrib:  attrib,
		workers: opts.Workers,
		queue:   make(chan job, opts.QueueSize),
	}
}

// stoppedReason is recorded on analyses the observer gave up on at shutdown.
const stoppedReason = "observer stopped"

// Start launches the workers. Cancelling ctx aborts in-flight judge calls;
// jobs still queued after that are marked error by the workers.
func (o *Observer) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}
	slog.Info("Quality observer started", "workers", o.workers, "queue", cap(o.queue))
}

// Stop stops accepting turns and waits for the workers to drain the queue.
// Every queued analysis ends completed or error: jobs picked up after the
// Start context was cancelled, and jobs left with no worker to run them,
// are marked error.
func (o *Observer) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.mu.Unlock()

	o.inflight.Wait()
	close(o.queue)
	o.wg.Wait()
	for j := range o.queue {
		o.failUnqueued(j.analysisID, stoppedReason)
	}
	queueDepth.Set(0)
	slog.Info("Quality observer stopped")
}

// Recover marks analyses left pending or analyzing by an earlier process as
// error. Call it before Start.
func (o *Observer) Recover(ctx context.Context) (int, error) {
	n, err := o.store.FailStaleAnalyses(ctx, "observer restarted before analysis finished")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		analysesTotal.WithLabelValues(store.AnalysisError).Add(float64(n))
		slog.Warn("Observer marked unfinished analyses as error", "count", n)
	}
	return n, nil
}

// SubmitCompletedTurn gates a finished turn, records a pending analysis and
// queues it for scoring. It never waits on the judge. Gate failures are
// reported as Skipped with a nil error.
func (o *Observer) SubmitCompletedTurn(ctx context.Context, turn Turn) (*Submission, error) {
	if strings.TrimSpace(turn.ConversationID) == "" || strings.TrimSpace(turn.MessageID) == "" {
		return nil, store.Invalidf("conversationId and messageId are required")
	}

	cfg, err := o.config.ObserverConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load observer config: %w", err)
	}
	if !cfg.Enabled {
		return o.skip(turn, SkipDisabled), nil
	}
	if turn.ExecutionMode == ExecutionModeDryRun && cfg.SkipDryRun {
		return o.skip(turn, SkipDryRun), nil
	}

	userMessage, err := o.store.LatestUserMessage(ctx, turn.ConversationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if utf8.RuneCountInString(strings.TrimSpace(userMessage)) < cfg.MinUserMessageLength {
		return o.skip(turn, SkipShortMessage), nil
	}

	toolCalls, toolResults, err := o.store.MessageToolPayload(ctx, turn.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		toolCalls, toolResults, err = turn.ToolCalls, turn.ToolResults, nil
	}
	if err != nil {
		return nil, err
	}

	var soulVersionID, variant string
	if o.attrib != nil && turn.AgentID != "" {
		soulVersionID, variant, err = o.attrib.Attribution(ctx, turn.AgentID, turn.ConversationID)
		if err != nil {
			slog.Warn("Observer soul attribution failed", "conversation", turn.ConversationID, "error", err)
		}
	}

	analysis, err := o.store.InsertAnalysis(ctx, &store.ChatAnalysis{
		ConversationID:   turn.ConversationID,
		MessageID:        turn.MessageID,
		AgentID:          turn.AgentID,
		AgentName:        turn.AgentName,
		UserMessage:      userMessage,
		AssistantContent: turn.Content,
		ToolCalls:        toolCalls,
		ToolResults:      toolResults,
		Model:            turn.Model,
		Provider:         turn.Provider,
		LatencyMs:        turn.LatencyMs,
		CostUSD:          turn.CostUSD,
		ExecutionMode:    turn.ExecutionMode,
		SoulVersionID:    soulVersionID,
		Variant:          variant,
	})
	if errors.Is(err, store.ErrConflict) {
		return o.skip(turn, SkipAlreadyAnalyzed), nil
	}
	if err != nil {
		return nil, err
	}

	j := job{
		analysisID: analysis.ID,
		config:     cfg,
		input: judge.Input{
			AgentID:          turn.AgentID,
			AgentName:        turn.AgentName,
			UserMessage:      userMessage,
			AssistantContent: turn.Content,
			ToolCalls:        toolCalls,
			ToolResults:      toolResults,
		},
	}
	if reason := o.enqueue(j); reason != "" {
		o.failUnqueued(analysis.ID, reason)
		return &Submission{AnalysisID: analysis.ID}, nil
	}
	turnsSubmittedTotal.WithLabelValues("queued").Inc()
	slog.Debug("Observer queued analysis", "analysis", analysis.ID, "conversation", turn.ConversationID)
	return &Submission{Queued: true, AnalysisID: analysis.ID}, nil
}

// enqueue hands j to the workers without blocking. It returns a failure
// reason when the job could not be queued.
func (o *Observer) enqueue(j job) string {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return stoppedReason
	}
	o.inflight.Add(1)
	o.mu.Unlock()
	defer o.inflight.Done()

	select {
	case o.queue <- j:
		queueDepth.Set(float64(len(o.queue)))
		return ""
	default:
		queueFullTotal.Inc()
		return "observer queue full"
	}
}

// failUnqueued marks a row that never reached a worker as error.
func (o *Observer) failUnqueued(analysisID, reason string) {
	ctx := context.Background()
	slog.Warn("Observer could not queue analysis", "analysis", analysisID, "reason", reason)
	turnsSubmittedTotal.WithLabelValues("rejected").Inc()
	if err := o.store.FailAnalysis(ctx, analysisID, reason, "", 0); err != nil {
		slog.Error("Observer failed to mark analysis", "analysis", analysisID, "error", err)
		return
	}
	analysesTotal.WithLabelValues(store.AnalysisError).Inc()
	o.publishAnalyzed(ctx, analysisID)
}

func (o *Observer) skip(turn Turn, reason string) *Submission {
	turnsSubmittedTotal.WithLabelValues(reason).Inc()
	slog.Debug("Observer skipped turn", "conversation", turn.ConversationID, "message", turn.MessageID, "reason", reason)
	return &Submission{Skipped: reason}
}

// worker runs jobs until the queue is closed. Once ctx is cancelled the
// remaining jobs are marked error instead of judged.
func (o *Observer) worker(ctx context.Context) {
	defer o.wg.Done()
	for j := range o.queue {
		queueDepth.Set(float64(len(o.queue)))
		if ctx.Err() != nil {
			o.failUnqueued(j.analysisID, stoppedReason)
			continue
		}
		o.analyze(ctx, j)
	}
}

func (o *Observer) publish(ev *bus.Event) {
	if o.events != nil {
		o.events.Publish(ev)
	}
}
