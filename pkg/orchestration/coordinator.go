// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package orchestration implements the multi-agent coordination loop:
// parallel agent rounds, answer routing, vote tallying, two-phase
// deadlines, winner election, and the final presentation.
//
// All coordination state transitions happen on the single event-consumer
// goroutine inside runAttempt; runners, timers, and the registry feed it
// through one channel.
package orchestration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teradata-labs/massgen/pkg/backend"
	"github.com/teradata-labs/massgen/pkg/config"
	"github.com/teradata-labs/massgen/pkg/observability"
	"github.com/teradata-labs/massgen/pkg/registry"
	"github.com/teradata-labs/massgen/pkg/session"
	"github.com/teradata-labs/massgen/pkg/status"
	"github.com/teradata-labs/massgen/pkg/types"
	"github.com/teradata-labs/massgen/pkg/voting"
	"github.com/teradata-labs/massgen/pkg/workspace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OutcomeKind classifies how a coordination session ended.
type OutcomeKind string

const (
	// OutcomeElectedWinner means an answer was elected and presented.
	OutcomeElectedWinner OutcomeKind = "elected_winner"

	// OutcomeNoAnswer means every agent finished without registering
	// anything.
	OutcomeNoAnswer OutcomeKind = "no_answer"

	// OutcomeGlobalTimeout means the budget expired with nothing to elect.
	OutcomeGlobalTimeout OutcomeKind = "global_timeout"
)

// Outcome is the final result of a coordination session.
type Outcome struct {
	Kind OutcomeKind

	// Winner is the elected answer (OutcomeElectedWinner).
	Winner *types.Answer

	// FinalText is the presented answer text.
	FinalText string

	// WorkspacePublished and FinalWorkspace describe the promoted
	// winner workspace, when any.
	WorkspacePublished bool
	FinalWorkspace     string

	// Votes is the final per-label tally.
	Votes map[string]int

	// Attempts is how many coordination attempts ran.
	Attempts int

	// HitGlobalTimeout is set when the budget expired but an answer was
	// still elected from the partial tally.
	HitGlobalTimeout bool

	Usage   types.Usage
	Elapsed time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t observability.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithSink sets the stream sink.
func WithSink(s UISink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithToolExecutor plugs in substrate tools.
func WithToolExecutor(t ToolExecutor) Option {
	return func(o *Orchestrator) { o.tools = t }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(o *Orchestrator) { o.sessionID = id }
}

// WithRunnerConfig overrides runner tuning (retries, mailbox, params).
func WithRunnerConfig(rc RunnerConfig) Option {
	return func(o *Orchestrator) { o.runnerCfg = rc }
}

// Orchestrator owns one coordination session over a fixed agent set.
type Orchestrator struct {
	cfg      *config.Config
	backends map[string]backend.Backend

	sessionID  string
	sessionDir string
	runnerCfg  RunnerConfig
	tools      ToolExecutor
	sink       UISink
	logger     *zap.Logger
	tracer     observability.Tracer

	reg    *registry.Registry
	tally  *voting.Tally
	gate   *Gate
	ws     *workspace.Manager
	router *Router

	// Snapshot state read by the status snapshotter; everything below
	// statusMu is also mutated by the event-consumer goroutine.
	statusMu          sync.Mutex
	states            map[string]*types.AgentState
	phase             types.CoordinationPhase
	attempt           int
	startTime         time.Time
	totalUsage        types.Usage
	winnerLabel       *string
	finalPreview      string
	activeAgent       string
	finalPresentation bool
}

// New builds an orchestrator from a validated config and one backend per
// configured agent.
func New(cfg *config.Config, backends map[string]backend.Backend, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:      cfg,
		backends: backends,
		tools:    NoTools{},
		sink:     NopSink{},
		logger:   zap.NewNop(),
		tracer:   observability.NewNoOpTracer(),
		states:   make(map[string]*types.AgentState),
		phase:    types.PhaseInitialAnswer,
		attempt:  1,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}

	for _, id := range cfg.AgentIDs() {
		if _, ok := backends[id]; !ok {
			return nil, fmt.Errorf("no backend for agent %s", id)
		}
		o.states[id] = &types.AgentState{ID: id, Status: types.StatusWaiting}
	}

	dir := cfg.SessionDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "massgen-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create session dir: %w", err)
		}
		dir = tmp
	}
	o.sessionDir = dir

	ws, err := workspace.NewManager(dir, cfg.AgentIDs(), o.logger.Named("workspace"))
	if err != nil {
		return nil, err
	}
	o.ws = ws

	o.reg = registry.New(registry.Config{
		MaxAnswersPerAgent: cfg.AnswerCap(),
		Novelty:            cfg.AnswerNoveltyRequirement,
	}, ws, o.logger.Named("registry"))
	o.tally = voting.New(o.reg, o.logger.Named("voting"))
	o.gate = NewGate()
	o.router = NewRouter(o.logger.Named("router"))
	return o, nil
}

// SessionID returns the session identifier.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// SessionDir returns the session root (workspaces, status.json).
func (o *Orchestrator) SessionDir() string { return o.sessionDir }

// Run executes the coordination session to its final outcome, including
// bounded post-evaluation restarts.
func (o *Orchestrator) Run(ctx context.Context, question string) (*Outcome, error) {
	ctx = session.WithSessionID(ctx, o.sessionID)
	ctx, span := o.tracer.StartSpan(ctx, "massgen.coordinate",
		observability.WithAttribute("session_id", o.sessionID),
		observability.WithAttribute("agents", fmt.Sprintf("%d", len(o.cfg.Agents))))
	defer o.tracer.EndSpan(span)

	o.statusMu.Lock()
	o.startTime = time.Now()
	o.statusMu.Unlock()

	snapshotter := status.NewSnapshotter(o.sessionDir, o.cfg.StatusInterval(), o, o.logger.Named("status"))
	snapshotter.Start()
	defer snapshotter.Stop()
	defer o.reg.Close()

	maxAttempts := o.cfg.MaxOrchestrationRestarts + 1
	guidance := ""

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			o.resetForAttempt(attempt)
		}
		ctx := session.WithAttempt(ctx, attempt)

		outcome, restartReason, err := o.runAttempt(ctx, question, attempt, maxAttempts-attempt, guidance)
		if err != nil {
			return nil, err
		}
		if restartReason == "" {
			outcome.Attempts = attempt
			o.finishStatus(outcome)
			return outcome, nil
		}
		o.logger.Warn("orchestration restart",
			zap.Int("attempt", attempt),
			zap.String("reason", restartReason))
		guidance = fmt.Sprintf("The produced answer was rejected in review: %s. Fix that failure this time.", restartReason)
	}
	// Unreachable: the last attempt never gets a restart budget.
	return nil, fmt.Errorf("restart budget accounting error")
}

// resetForAttempt discards all per-attempt coordination state. Workspace
// snapshots survive so agents keep their artifacts across attempts.
func (o *Orchestrator) resetForAttempt(attempt int) {
	o.reg.Reset(attempt)
	o.tally.Reset()
	o.gate.ResetAll()

	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	o.attempt = attempt
	o.phase = types.PhaseInitialAnswer
	o.winnerLabel = nil
	o.finalPreview = ""
	o.activeAgent = ""
	o.finalPresentation = false
	for id, st := range o.states {
		restarted := st.TimesRestarted
		usage := st.Usage
		o.states[id] = &types.AgentState{
			ID:             id,
			Status:         types.StatusWaiting,
			TimesRestarted: restarted,
			Usage:          usage,
		}
	}
}

// runAttempt executes one full coordination attempt: fan-out, event loop,
// election, presentation, and post-evaluation. A non-empty restartReason
// asks Run for a fresh attempt.
func (o *Orchestrator) runAttempt(ctx context.Context, question string, attempt, restartsLeft int, guidance string) (*Outcome, string, error) {
	attemptCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	events := make(chan Event, 256)
	// loopDone releases producers blocked on the event queue; it closes
	// only when the consumer below stops reading, so events are never
	// dropped while the loop still depends on them.
	loopDone := make(chan struct{})
	closeLoopDone := sync.OnceFunc(func() { close(loopDone) })
	defer closeLoopDone()
	controller := NewTimeoutController(TimeoutConfig{
		Global:     o.cfg.GlobalTimeout(),
		Initial:    o.cfg.InitialRoundTimeout(),
		Subsequent: o.cfg.SubsequentRoundTimeout(),
		Grace:      o.cfg.Grace(),
	}, events, o.logger.Named("timeout"))
	defer controller.Stop()
	controller.StartGlobal()

	// Registry acceptances reach the loop through the broker so routing
	// observes strict acceptance order.
	regCh, unsubscribe := o.reg.Subscribe(256)
	defer unsubscribe()
	go func() {
		for ev := range regCh {
			select {
			case events <- Event{Kind: EventAnswerRegistered, AgentID: ev.Payload.AgentID, Answer: ev.Payload, At: time.Now()}:
			case <-loopDone:
				return
			}
		}
	}()

	watcher, err := workspace.NewWatcher(o.ws, o.cfg.AgentIDs(), workspace.WatcherConfig{
		Logger: o.logger.Named("watcher"),
		OnActivity: func(agentID string, at time.Time) {
			select {
			case events <- Event{Kind: EventActivity, AgentID: agentID, At: at}:
			case <-loopDone:
			}
		},
	})
	if err != nil {
		o.logger.Warn("workspace watcher unavailable", zap.Error(err))
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	g, runCtx := errgroup.WithContext(attemptCtx)
	live := make(map[string]*Runner)
	pendingRestart := make(map[string]bool)

	startRound := func(agentID string, kind types.RoundKind) {
		if kind == types.RoundSubsequent {
			// Preserve the scratch dir, then hand the fresh round a clean
			// one; prior work survives in snapshot storage.
			if _, err := o.ws.Snapshot(agentID); err != nil {
				o.logger.Warn("pre-round snapshot failed",
					zap.String("agent_id", agentID), zap.Error(err))
			}
			if err := o.ws.ClearLive(agentID); err != nil {
				o.logger.Warn("failed to clear live workspace",
					zap.String("agent_id", agentID), zap.Error(err))
			}
		}
		runner := NewRunner(agentID, o.backends[agentID], o.runnerCfg, o.reg, o.tally, o.gate, o.tools, o.sink, events, o.logger.Named("runner"))
		runner.done = loopDone
		live[agentID] = runner
		o.gate.Reset(agentID)
		deadline := controller.BeginRound(agentID, kind)
		conv := o.buildConversation(agentID, question, guidance)
		o.mutateState(agentID, func(st *types.AgentState) { st.Status = types.StatusWaiting })

		g.Go(func() error {
			rctx := session.WithAgentID(runCtx, agentID)
			rctx, span := o.tracer.StartSpan(rctx, "massgen.agent_round",
				observability.WithAttribute("agent_id", agentID),
				observability.WithAttribute("round_kind", string(kind)))
			result := runner.Run(rctx, conv, deadline)
			span.SetAttribute("result", result.String())
			o.tracer.EndSpan(span)
			select {
			case events <- Event{Kind: EventRunnerFinished, AgentID: agentID, Result: result, Usage: runner.Usage(), At: time.Now()}:
			case <-loopDone:
				// Loop gone; nothing to report to.
			}
			return nil
		})
	}

	for _, id := range o.cfg.AgentIDs() {
		startRound(id, types.RoundInitial)
	}

	globalExpired := false
	quorumReached := false

	// checkQuorum dissolves all outstanding rounds once every active agent
	// has either voted or can no longer submit. Until at least one answer
	// exists there is nothing to decide on, so the check stays off.
	checkQuorum := func() {
		if quorumReached || globalExpired || o.reg.Len() == 0 {
			return
		}
		if !o.tally.AllParticipantsDecided(o.activeParticipants()) {
			return
		}
		quorumReached = true
		o.logger.Info("quorum reached, dissolving remaining rounds",
			zap.Int("live_rounds", len(live)))
		cancelAll()
	}

	for len(live) > 0 {
		var ev Event
		select {
		case ev = <-events:
		case <-ctx.Done():
			// Caller cancellation tears the whole session down.
			cancelAll()
			closeLoopDone()
			_ = g.Wait()
			return nil, "", ctx.Err()
		}

		switch ev.Kind {
		case EventStreamStarted:
			o.mutateState(ev.AgentID, func(st *types.AgentState) {
				if st.Status == types.StatusWaiting {
					st.Status = types.StatusStreaming
				}
				st.LastActivity = ev.At
			})

		case EventActivity:
			o.mutateState(ev.AgentID, func(st *types.AgentState) { st.LastActivity = ev.At })

		case EventAnswerRegistered:
			o.setPhase(types.PhaseEnforcement)
			o.mutateState(ev.AgentID, func(st *types.AgentState) {
				st.AnswerCount++
				st.LatestAnswerLabel = ev.Answer.Label
				st.LastActivity = ev.At
			})
			o.sharePeerViews(ev.Answer.AgentID)
			for _, id := range o.router.RouteAnswer(ev.Answer, live) {
				if pendingRestart[id] {
					continue
				}
				pendingRestart[id] = true
				controller.EndRound(id)
				live[id].RequestRestart()
				o.mutateState(id, func(st *types.AgentState) { st.Status = types.StatusRestarting })
			}
			// A registered answer can itself complete quorum (the author
			// hitting its cap); evaluate before re-entering anyone.
			checkQuorum()
			if !quorumReached && !globalExpired {
				// Agents that answered earlier and went idle get a fresh
				// consensus round to weigh the new answer.
				for _, id := range o.cfg.AgentIDs() {
					if id == ev.Answer.AgentID {
						continue
					}
					if _, isLive := live[id]; isLive {
						continue
					}
					if o.agentStatus(id) != types.StatusAnswered {
						continue
					}
					startRound(id, types.RoundSubsequent)
				}
			}

		case EventVoteCast:
			o.mutateState(ev.AgentID, func(st *types.AgentState) {
				st.VoteCast = ev.Target
				st.LastActivity = ev.At
			})

		case EventSoftElapsed:
			if runner, ok := live[ev.AgentID]; ok {
				runner.NotifyWrapUp()
			}

		case EventHardElapsed:
			o.gate.MarkHardElapsed(ev.AgentID)

		case EventGlobalElapsed:
			o.logger.Warn("global timeout elapsed, cancelling all rounds")
			globalExpired = true
			cancelAll()

		case EventRunnerFinished:
			controller.EndRound(ev.AgentID)
			delete(live, ev.AgentID)
			o.accountUsage(ev.AgentID, ev.Usage)
			o.handleRunnerResult(ev, startRound, pendingRestart, globalExpired || quorumReached)
		}

		checkQuorum()
	}

	closeLoopDone()
	_ = g.Wait()
	controller.Stop()

	return o.concludeAttempt(ctx, question, restartsLeft, globalExpired)
}

// handleRunnerResult applies one terminal runner result. An agent that
// answered stays idle; it re-enters only when a later peer answer gives it
// something new to decide on. suppressRespawn holds all re-entry once the
// global budget expired or quorum dissolved the attempt.
func (o *Orchestrator) handleRunnerResult(ev Event, startRound func(string, types.RoundKind), pendingRestart map[string]bool, suppressRespawn bool) {
	agentID := ev.AgentID
	result := ev.Result
	o.logger.Info("runner finished",
		zap.String("agent_id", agentID),
		zap.String("result", result.String()))

	if result.Kind != types.ResultNoProgress {
		// A terminal result supersedes any pending injection restart.
		delete(pendingRestart, agentID)
	}

	switch result.Kind {
	case types.ResultAnswered:
		o.mutateState(agentID, func(st *types.AgentState) { st.Status = types.StatusAnswered })

	case types.ResultVoted:
		o.mutateState(agentID, func(st *types.AgentState) {
			st.Status = types.StatusVoted
			st.VoteCast = result.Target
		})

	case types.ResultNoProgress:
		if pendingRestart[agentID] && !suppressRespawn {
			delete(pendingRestart, agentID)
			o.mutateState(agentID, func(st *types.AgentState) { st.TimesRestarted++ })
			startRound(agentID, types.RoundSubsequent)
			return
		}
		o.mutateState(agentID, func(st *types.AgentState) { st.Status = types.StatusCompleted })

	case types.ResultErrored:
		o.mutateState(agentID, func(st *types.AgentState) {
			st.Status = types.StatusError
			st.Error = result.String()
		})

	case types.ResultTimedOut:
		o.mutateState(agentID, func(st *types.AgentState) { st.Status = types.StatusTimeout })
	}
}

// concludeAttempt elects a winner from the final tally and runs the
// presentation stage.
func (o *Orchestrator) concludeAttempt(ctx context.Context, question string, restartsLeft int, globalExpired bool) (*Outcome, string, error) {
	votes := o.tally.Counts()
	answers := o.reg.List()

	if len(answers) == 0 {
		kind := OutcomeNoAnswer
		if globalExpired {
			kind = OutcomeGlobalTimeout
		}
		o.logger.Warn("coordination ended with no answers", zap.String("outcome", string(kind)))
		// There is nothing to present, but the session still terminates in
		// the presentation phase for external monitors.
		o.statusMu.Lock()
		o.phase = types.PhasePresentation
		o.finalPresentation = false
		o.statusMu.Unlock()
		return &Outcome{
			Kind:    kind,
			Votes:   votes,
			Usage:   o.usageTotal(),
			Elapsed: time.Since(o.sessionStart()),
		}, "", nil
	}

	winner := o.electWinner(answers)
	o.logger.Info("winner elected",
		zap.String("label", winner.Label),
		zap.Int("votes", votes[winner.Label]),
		zap.Bool("global_timeout", globalExpired))

	o.statusMu.Lock()
	o.phase = types.PhasePresentation
	o.finalPresentation = true
	o.winnerLabel = &winner.Label
	o.activeAgent = winner.AgentID
	o.statusMu.Unlock()

	// Presentation runs on a fresh context: the attempt context is already
	// cancelled when the global budget expired, but the user still gets
	// their answer.
	presentCtx := ctx
	if globalExpired {
		var cancel context.CancelFunc
		presentCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
		defer cancel()
	}

	presentCtx, span := o.tracer.StartSpan(presentCtx, "massgen.presentation",
		observability.WithAttribute("winner", winner.Label),
		observability.WithAttribute("agent_id", winner.AgentID))
	stage := NewPresentation(o.backends[winner.AgentID], o.runnerCfg.Params, o.sink, o.ws, o.logger.Named("presentation"))
	pres, err := stage.Present(presentCtx, question, winner, answers)
	if err != nil {
		span.RecordError(err)
		o.tracer.EndSpan(span)
		return nil, "", err
	}
	o.tracer.EndSpan(span)
	o.accountUsage(winner.AgentID, pres.Usage)
	o.setPreview(status.TruncatePreview(pres.FinalText))

	if restartsLeft > 0 && !globalExpired {
		restart, reason, evalUsage := stage.PostEvaluate(presentCtx, question, pres.FinalText, restartsLeft)
		o.accountUsage(winner.AgentID, evalUsage)
		if restart {
			return nil, reason, nil
		}
	}

	return &Outcome{
		Kind:               OutcomeElectedWinner,
		Winner:             &winner,
		FinalText:          pres.FinalText,
		WorkspacePublished: pres.WorkspacePublished,
		FinalWorkspace:     pres.FinalWorkspace,
		Votes:              votes,
		HitGlobalTimeout:   globalExpired,
		Usage:              o.usageTotal(),
		Elapsed:            time.Since(o.sessionStart()),
	}, "", nil
}

// electWinner picks the tally leader, falling back to the earliest
// registered answer when nobody voted.
func (o *Orchestrator) electWinner(answers []types.Answer) types.Answer {
	if leader, ok := o.tally.Leader(); ok {
		if leader.Tied {
			o.logger.Info("vote tie broken by registration order", zap.String("label", leader.Label))
		}
		if a, ok := o.reg.Get(leader.Label); ok {
			return a
		}
	}
	return answers[0]
}

// buildConversation assembles a round-opening conversation: the protocol
// system prompt with every registered answer, then the task.
func (o *Orchestrator) buildConversation(agentID, question, guidance string) []types.Message {
	answers := o.reg.List()
	peers := make([]types.PeerAnswer, 0, len(answers))
	for _, a := range answers {
		peers = append(peers, types.PeerAnswer{Label: a.Label, AgentID: a.AgentID, Text: a.Text})
	}
	now := time.Now()
	return []types.Message{
		{Role: "system", Content: coordinationSystemPrompt(agentID, o.cfg.VotingSensitivity, peers, guidance), Timestamp: now},
		{Role: "user", Content: question, Timestamp: now},
	}
}

// activeParticipants lists the agents that still count toward quorum.
// Failed agents are treated as decided: they will never vote or submit.
func (o *Orchestrator) activeParticipants() []string {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	active := make([]string, 0, len(o.states))
	for _, id := range o.cfg.AgentIDs() {
		switch o.states[id].Status {
		case types.StatusError, types.StatusTimeout:
		default:
			active = append(active, id)
		}
	}
	return active
}

func (o *Orchestrator) agentStatus(agentID string) types.AgentStatus {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	if st, ok := o.states[agentID]; ok {
		return st.Status
	}
	return ""
}

// sharePeerViews exposes the author's workspace snapshot to every other
// agent as a read-only view alongside the registered answer.
func (o *Orchestrator) sharePeerViews(author string) {
	for _, id := range o.cfg.AgentIDs() {
		if id == author {
			continue
		}
		if _, err := o.ws.PeerView(id, author); err != nil {
			o.logger.Warn("failed to expose peer workspace",
				zap.String("agent_id", id),
				zap.String("peer", author),
				zap.Error(err))
		}
	}
}

func (o *Orchestrator) mutateState(agentID string, fn func(*types.AgentState)) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	if st, ok := o.states[agentID]; ok {
		fn(st)
	}
}

func (o *Orchestrator) accountUsage(agentID string, usage types.Usage) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	o.totalUsage.Add(usage)
	if st, ok := o.states[agentID]; ok {
		st.Usage.Add(usage)
	}
}

func (o *Orchestrator) setPhase(phase types.CoordinationPhase) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	o.phase = phase
}

func (o *Orchestrator) setPreview(preview string) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	o.finalPreview = preview
}

func (o *Orchestrator) usageTotal() types.Usage {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	return o.totalUsage
}

func (o *Orchestrator) sessionStart() time.Time {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	return o.startTime
}

func (o *Orchestrator) finishStatus(outcome *Outcome) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	for _, st := range o.states {
		if st.Status == types.StatusVoted || st.Status == types.StatusAnswered {
			st.Status = types.StatusCompleted
		}
	}
	if outcome.Winner != nil {
		o.winnerLabel = &outcome.Winner.Label
	}
}

// StatusSnapshot implements status.Source.
func (o *Orchestrator) StatusSnapshot() status.Snapshot {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()

	agents := make(map[string]status.AgentStatus, len(o.states))
	for id, st := range o.states {
		a := status.AgentStatus{
			Status:         st.Status,
			AnswerCount:    st.AnswerCount,
			LatestAnswer:   st.LatestAnswerLabel,
			VoteCast:       st.VoteCast,
			TimesRestarted: st.TimesRestarted,
			Error:          st.Error,
		}
		if !st.LastActivity.IsZero() {
			t := st.LastActivity
			a.LastActivity = &t
		}
		agents[id] = a
	}

	elapsed := 0.0
	if !o.startTime.IsZero() {
		elapsed = time.Since(o.startTime).Seconds()
	}
	return status.Snapshot{
		Meta: status.Meta{
			SessionID:      o.sessionID,
			ElapsedSeconds: elapsed,
			TotalUsage:     o.totalUsage,
		},
		Coordination: status.Coordination{
			Phase:               o.phase,
			ActiveAgent:         o.activeAgent,
			Attempt:             o.attempt,
			IsFinalPresentation: o.finalPresentation,
		},
		Agents: agents,
		Results: status.Results{
			Votes:              o.tally.Counts(),
			Winner:             o.winnerLabel,
			FinalAnswerPreview: o.finalPreview,
		},
	}
}
