package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/concordhq/concord/pkg/events"
	"github.com/concordhq/concord/pkg/llm"
	"github.com/concordhq/concord/pkg/models"
	"github.com/concordhq/concord/pkg/profile"
	"github.com/concordhq/concord/pkg/session"
	"github.com/concordhq/concord/pkg/skills"
)

// placeholderPlan is emitted when the round limit is hit and even the forced
// final call produced neither a plan nor usable text.
const placeholderPlan = "Plan could not be generated (round limit reached)."

// runCoordinator drives the bounded synthesis loop. Each reasoning call
// counts as one round, the forced final call included, so the recorded round
// count never exceeds the cap plus one.
func (e *Engine) runCoordinator(ctx context.Context, entry *session.Entry, deps Deps, logger *slog.Logger) (string, error) {
	sess := entry.Session
	maxRounds := sess.MaxCoordinatorRounds
	if maxRounds <= 0 {
		maxRounds = e.defaults.MaxCoordinatorRounds
	}

	offers := buildAgentOffers(sess)
	var history []skills.HistoryEntry

	for round := 1; round <= maxRounds; round++ {
		if round > 1 {
			// Self-loop per coordinator round.
			if err := sess.TransitionTo(models.StateSynthesizing); err != nil {
				return "", newError(CodeEngine, stageSynthesis, sess.NegotiationID, err)
			}
		}
		restricted := round >= maxRounds

		plan, done, err := e.coordinatorRound(ctx, entry, deps, skills.CoordinatorContext{
			DemandText:      sess.FormulatedText(),
			Offers:          offers,
			History:         history,
			RoundNumber:     round,
			ToolsRestricted: restricted,
			SceneContext:    deps.SceneContext,
		}, &history, logger)
		if err != nil {
			return "", err
		}
		if done {
			e.recordHistory(sess, history)
			return plan, nil
		}
	}

	// Forced final round with the restricted tool set.
	forcedRound := maxRounds + 1
	if err := sess.TransitionTo(models.StateSynthesizing); err != nil {
		return "", newError(CodeEngine, stageSynthesis, sess.NegotiationID, err)
	}
	plan, done, err := e.coordinatorRound(ctx, entry, deps, skills.CoordinatorContext{
		DemandText:      sess.FormulatedText(),
		Offers:          offers,
		History:         history,
		RoundNumber:     forcedRound,
		ToolsRestricted: true,
		SceneContext:    deps.SceneContext,
	}, &history, logger)
	e.recordHistory(sess, history)
	if err != nil {
		return "", err
	}
	if done && plan != "" {
		return plan, nil
	}
	return placeholderPlan, nil
}

// coordinatorRound performs one reasoning call and dispatches its tool
// calls. A validation failure (unknown tool, error-pattern content) is
// fatal; a transport-level reasoning failure aborts only this round.
func (e *Engine) coordinatorRound(ctx context.Context, entry *session.Entry, deps Deps, cc skills.CoordinatorContext, history *[]skills.HistoryEntry, logger *slog.Logger) (string, bool, error) {
	sess := entry.Session
	start := time.Now()

	resp, err := e.coordinatorCall(ctx, deps, cc)
	sess.SetCoordinatorRounds(cc.RoundNumber)
	if err != nil {
		var serr *skills.Error
		if errors.As(err, &serr) && serr.Err == nil {
			return "", false, &Error{
				Code: CodeSkill, Stage: stageSynthesis, NegotiationID: sess.NegotiationID,
				Skill: serr.Skill, Err: err,
			}
		}
		if ctx.Err() != nil {
			return "", false, newError(CodeReasoning, stageSynthesis, sess.NegotiationID, ctx.Err())
		}
		// The round is spent; the loop moves on.
		logger.Warn("coordinator round aborted", "round", cc.RoundNumber, "error", err)
		sess.Trace.Append("coordinator_round", time.Since(start), "", "aborted",
			map[string]any{"round": cc.RoundNumber, "tools_restricted": cc.ToolsRestricted})
		return "", false, nil
	}

	plan, done, err := e.dispatchResponse(ctx, entry, deps, resp, cc.RoundNumber, history, logger)
	if err != nil {
		return "", false, err
	}
	sess.Trace.Append("coordinator_round", time.Since(start), "", resp.StopReason, map[string]any{
		"round":            cc.RoundNumber,
		"tools_restricted": cc.ToolsRestricted,
		"history":          append([]skills.HistoryEntry{}, *history...),
	})
	return plan, done, nil
}

// coordinatorCall goes through the wired coordinator skill, falling back to
// a zero-value skill so the unwired path shares the same prompt assembly,
// observation masking and response validation.
func (e *Engine) coordinatorCall(ctx context.Context, deps Deps, cc skills.CoordinatorContext) (*llm.ChatResponse, error) {
	if deps.Skills.Coordinator != nil {
		return deps.Skills.Coordinator.Execute(ctx, deps.Reasoner, cc)
	}
	if deps.Reasoner == nil {
		return nil, newError(CodeConfig, stageSynthesis, "", errors.New("no coordinator skill and no reasoning client"))
	}
	return skills.CoordinatorSkill{}.Execute(ctx, deps.Reasoner, cc)
}

// dispatchResponse handles one reasoning response: degrade free text to a
// plan, preserve reasoning text in history, and execute tool calls in order.
// Returns the plan and true once a terminal tool fired. A tool name outside
// the whitelist is a fatal skill error regardless of how the response was
// produced.
func (e *Engine) dispatchResponse(ctx context.Context, entry *session.Entry, deps Deps, resp *llm.ChatResponse, round int, history *[]skills.HistoryEntry, logger *slog.Logger) (string, bool, error) {
	sess := entry.Session

	if len(resp.ToolCalls) == 0 {
		if strings.TrimSpace(resp.Content) == "" {
			return "", false, nil
		}
		// Free text without tools becomes the plan.
		entry.Stream.Publish(events.New(events.EventTypeCoordinatorToolCall, sess.NegotiationID,
			events.CoordinatorToolCallData{
				ToolName:    skills.ToolOutputPlan,
				ToolArgs:    map[string]any{"plan_text": resp.Content},
				RoundNumber: round,
			}))
		return resp.Content, true, nil
	}

	if strings.TrimSpace(resp.Content) != "" {
		*history = append(*history, skills.HistoryEntry{
			Type:    skills.HistoryTypeReasoning,
			Round:   round,
			Content: resp.Content,
		})
	}

	for _, tc := range resp.ToolCalls {
		if !skills.KnownTool(tc.Name) {
			return "", false, &Error{
				Code: CodeSkill, Stage: stageSynthesis, NegotiationID: sess.NegotiationID,
				Skill: "coordinator", Err: fmt.Errorf("reasoning returned unknown tool %q", tc.Name),
			}
		}
		entry.Stream.Publish(events.New(events.EventTypeCoordinatorToolCall, sess.NegotiationID,
			events.CoordinatorToolCallData{
				ToolName:    tc.Name,
				ToolArgs:    tc.Arguments,
				RoundNumber: round,
			}))

		switch tc.Name {
		case skills.ToolOutputPlan:
			plan := argString(tc.Arguments, "plan_text")
			if plan == "" {
				plan = resp.Content
			}
			return plan, true, nil

		case skills.ToolAskAgent:
			result := e.askAgent(ctx, deps, entry, tc.Arguments)
			*history = append(*history, skills.HistoryEntry{
				Type: skills.HistoryTypeTool, Tool: tc.Name, Args: tc.Arguments,
				Result: result, Round: round,
			})

		case skills.ToolStartDiscovery:
			result := e.startDiscovery(ctx, deps, entry, tc.Arguments, logger)
			*history = append(*history, skills.HistoryEntry{
				Type: skills.HistoryTypeTool, Tool: tc.Name, Args: tc.Arguments,
				Result: result, Round: round,
			})

		case skills.ToolCreateSubDemand:
			e.createSubDemand(ctx, deps, entry, tc.Arguments, logger)
			*history = append(*history, skills.HistoryEntry{
				Type: skills.HistoryTypeTool, Tool: tc.Name, Args: tc.Arguments,
				Result: "started", Round: round,
			})

		case skills.ToolCreateMachine:
			sess.SetMetadata("machine_json", argString(tc.Arguments, "machine_json"))
			*history = append(*history, skills.HistoryEntry{
				Type: skills.HistoryTypeTool, Tool: tc.Name, Args: tc.Arguments,
				Result: "recorded", Round: round,
			})
		}
	}
	return "", false, nil
}

// askAgent forwards a follow-up question to one participant. Any failure
// becomes a synthesized negative result so the loop keeps moving.
func (e *Engine) askAgent(ctx context.Context, deps Deps, entry *session.Entry, args map[string]any) string {
	agentID := argString(args, "agent_id")
	question := argString(args, "question")

	timeout := entry.Session.Config.OfferTimeout
	if timeout <= 0 {
		timeout = e.defaults.OfferTimeout
	}
	askCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := deps.Profiles.Chat(askCtx, agentID,
		[]profile.Message{{Role: "user", Content: question}}, "")
	if err != nil {
		return fmt.Sprintf("agent %s did not respond", agentID)
	}
	return reply
}

// startDiscovery runs the sub-negotiation skill for a pair of agents.
func (e *Engine) startDiscovery(ctx context.Context, deps Deps, entry *session.Entry, args map[string]any, logger *slog.Logger) string {
	if deps.Skills.SubNegotiation == nil {
		return "discovery unavailable: no sub-negotiation skill configured"
	}
	sess := entry.Session
	agentA := argString(args, "agent_a")
	agentB := argString(args, "agent_b")

	report, err := deps.Skills.SubNegotiation.Execute(ctx, deps.Reasoner, skills.DiscoveryInput{
		AgentA:       agentA,
		AgentAOffer:  offerContent(sess, agentA),
		AgentB:       agentB,
		AgentBOffer:  offerContent(sess, agentB),
		Reason:       argString(args, "reason"),
		DemandText:   sess.FormulatedText(),
		SceneContext: deps.SceneContext,
	})
	if err != nil {
		logger.Warn("discovery failed", "agent_a", agentA, "agent_b", agentB, "error", err)
		return fmt.Sprintf("discovery between %s and %s failed", agentA, agentB)
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return report.Summary
	}
	return string(raw)
}

// createSubDemand allocates a child negotiation id, surfaces the event and
// composes the child's raw intent. Running the child is left to a
// collaborator; the parent only records it.
func (e *Engine) createSubDemand(ctx context.Context, deps Deps, entry *session.Entry, args map[string]any, logger *slog.Logger) {
	sess := entry.Session
	gap := argString(args, "gap_description")
	subID := uuid.NewString()

	entry.Stream.Publish(events.New(events.EventTypeSubNegotiationStarted, sess.NegotiationID,
		events.SubNegotiationStartedData{
			SubNegotiationID: subID,
			GapDescription:   gap,
		}))
	sess.AddSubSession(subID)

	subDemand := gap
	if deps.Skills.GapRecursion != nil && deps.Reasoner != nil {
		if composed, err := deps.Skills.GapRecursion.Execute(ctx, deps.Reasoner, gap, sess.FormulatedText()); err == nil {
			subDemand = composed.SubDemandText
		} else {
			logger.Warn("gap recursion failed, using gap description as-is", "error", err)
		}
	}

	subDemands, _ := sess.MetadataValue("sub_demands")
	list, _ := subDemands.([]map[string]any)
	sess.SetMetadata("sub_demands", append(list, map[string]any{
		"sub_negotiation_id": subID,
		"gap_description":    gap,
		"sub_demand_text":    subDemand,
	}))
}

func (e *Engine) recordHistory(sess *models.Session, history []skills.HistoryEntry) {
	if len(history) > 0 {
		sess.SetMetadata("coordinator_history", history)
	}
}

// buildAgentOffers projects replied participants into the coordinator's view.
func buildAgentOffers(sess *models.Session) []skills.AgentOffer {
	participants := sess.ParticipantSnapshot()
	out := make([]skills.AgentOffer, 0, len(participants))
	for _, p := range participants {
		if p.State != models.ParticipantReplied || p.Offer == nil {
			continue
		}
		out = append(out, skills.AgentOffer{
			AgentID:      p.AgentID,
			DisplayName:  p.DisplayName,
			Content:      p.Offer.Content,
			Capabilities: p.Offer.Capabilities,
			Confidence:   p.Offer.Confidence,
		})
	}
	return out
}

func offerContent(sess *models.Session, agentID string) string {
	for _, p := range sess.ParticipantSnapshot() {
		if p.AgentID == agentID && p.Offer != nil {
			return p.Offer.Content
		}
	}
	return ""
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
