// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"time"

	"github.com/teradata-labs/massgen/pkg/types"
)

// EventKind tags events funneled into the coordination loop.
type EventKind string

const (
	// EventStreamStarted fires on an agent's first chunk of a round.
	EventStreamStarted EventKind = "stream_started"

	// EventAnswerRegistered fires when the registry accepts an answer.
	EventAnswerRegistered EventKind = "answer_registered"

	// EventVoteCast fires when the tally records a vote.
	EventVoteCast EventKind = "vote_cast"

	// EventRunnerFinished fires when a runner resolves its round.
	EventRunnerFinished EventKind = "runner_finished"

	// EventSoftElapsed fires at an agent's soft deadline.
	EventSoftElapsed EventKind = "soft_elapsed"

	// EventHardElapsed fires at an agent's hard deadline.
	EventHardElapsed EventKind = "hard_elapsed"

	// EventGlobalElapsed fires when the orchestrator budget runs out.
	EventGlobalElapsed EventKind = "global_elapsed"

	// EventActivity fires on debounced workspace writes.
	EventActivity EventKind = "activity"
)

// Event is one message on the loop's single consumer queue. All high-level
// state transitions happen in the consumer, so no locks guard the phase.
type Event struct {
	Kind    EventKind
	AgentID string

	// Answer for EventAnswerRegistered
	Answer types.Answer

	// Target of the vote for EventVoteCast
	Target string

	// Result for EventRunnerFinished
	Result types.AgentResult

	// Usage accumulated by the finished runner
	Usage types.Usage

	At time.Time
}
