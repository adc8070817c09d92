// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/teradata-labs/massgen/pkg/config"
	"github.com/teradata-labs/massgen/pkg/types"
)

// coordinationSystemPrompt frames the collaboration protocol for one agent.
// Peer answers known at round start are embedded; later arrivals come in as
// injected notifications.
func coordinationSystemPrompt(agentID string, sensitivity config.Sensitivity, peers []types.PeerAnswer, restartGuidance string) string {
	var b strings.Builder
	b.WriteString(heredoc.Doc(`
		You are one of several agents working the same task in parallel.
		Work independently, then either support a peer's answer or submit
		your own.

		Protocol:
		- When you are confident in a complete answer, call the new_answer
		  tool with the full answer text.
		- If an existing answer (yours or a peer's) is already good enough,
		  call the vote tool with its label and a short reason. Voting for
		  your own answer is allowed.
		- A round ends when you call vote or new_answer. Do not call both.
	`))
	b.WriteString("\n")
	b.WriteString(sensitivityGuidance(sensitivity))

	if len(peers) > 0 {
		b.WriteString("\nAnswers registered so far:\n")
		for _, p := range peers {
			b.WriteString(formatPeerAnswer(p))
		}
	}
	if restartGuidance != "" {
		b.WriteString("\nThe previous coordination attempt was discarded. ")
		b.WriteString(restartGuidance)
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("\nYou are agent %s.\n", agentID))
	return b.String()
}

// sensitivityGuidance renders the voting posture for the configured level.
// This is advisory text only; nothing in the loop enforces it.
func sensitivityGuidance(s config.Sensitivity) string {
	switch s {
	case config.SensitivityLenient:
		return heredoc.Doc(`
			Voting posture: lenient. Prefer converging quickly. Vote for any
			answer that adequately addresses the task, even if you could
			improve on it.
		`)
	case config.SensitivityStrict:
		return heredoc.Doc(`
			Voting posture: strict. Only vote for an answer that is complete,
			correct, and would not benefit from your own attempt. Otherwise
			submit your own answer.
		`)
	default:
		return heredoc.Doc(`
			Voting posture: balanced. Vote for an answer that is correct and
			complete; submit your own when you can meaningfully improve on
			everything registered so far.
		`)
	}
}

// injectionNotification is appended to a live conversation when a peer
// answer lands mid-stream.
func injectionNotification(p types.PeerAnswer) string {
	return fmt.Sprintf(
		"A new answer has been registered:\n%sReview it before continuing. You may vote for it, keep working, or submit your own answer.",
		formatPeerAnswer(p))
}

// wrapUpAdvisory is appended once when the soft deadline elapses.
const wrapUpAdvisory = `Your time budget for this round is nearly exhausted. Wrap up now: vote for the best existing answer or submit your own with new_answer. Do not start new work.`

// formatPeerAnswer renders one labeled answer block.
func formatPeerAnswer(p types.PeerAnswer) string {
	return fmt.Sprintf("--- answer %s (agent %s) ---\n%s\n--- end %s ---\n", p.Label, p.AgentID, p.Text, p.Label)
}

// presentationPrompt asks the elected winner to deliver the final answer.
// Coordination tools are gone at this point; the agent just presents.
func presentationPrompt(question string, winner types.Answer, all []types.Answer, workspaceAvailable bool) string {
	var b strings.Builder
	b.WriteString(heredoc.Doc(`
		Your answer was elected by the group. Present the final answer to the
		user: polish it, incorporate anything worthwhile from the other
		registered answers, and deliver it as a standalone response. Do not
		mention the voting process.
	`))
	b.WriteString(fmt.Sprintf("\nOriginal task:\n%s\n", question))
	b.WriteString(fmt.Sprintf("\nYour elected answer (%s):\n%s\n", winner.Label, winner.Text))
	if len(all) > 1 {
		b.WriteString("\nOther registered answers:\n")
		for _, a := range all {
			if a.Label == winner.Label {
				continue
			}
			b.WriteString(formatPeerAnswer(types.PeerAnswer{Label: a.Label, AgentID: a.AgentID, Text: a.Text}))
		}
	}
	if !workspaceAvailable {
		b.WriteString("\nNote: files from your working session are unavailable; present from the answer text alone.\n")
	}
	return b.String()
}

// postEvaluationPrompt asks the winner to audit its own final answer. The
// reply follows a line protocol so the loop can parse it without another
// tool round-trip.
func postEvaluationPrompt(restartsLeft int) string {
	return fmt.Sprintf(heredoc.Doc(`
		Before this answer is delivered, audit it against the original task.
		If it genuinely fails the task in a way that a fresh coordination
		attempt could fix, request a restart. %d restart(s) remain; use one
		only for a real failure, not polish.

		Reply with exactly two lines:
		DECISION: approve|restart
		REASON: <one sentence>
	`), restartsLeft)
}

// parsePostEvaluation extracts the restart decision from the audit reply.
// Anything unparseable counts as approval.
func parsePostEvaluation(reply string) (restart bool, reason string) {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "DECISION:"):
			decision := strings.TrimSpace(line[len("DECISION:"):])
			restart = strings.EqualFold(decision, "restart")
		case strings.HasPrefix(upper, "REASON:"):
			reason = strings.TrimSpace(line[len("REASON:"):])
		}
	}
	if !restart {
		reason = ""
	}
	return restart, reason
}
