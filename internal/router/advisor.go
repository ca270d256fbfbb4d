package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/draftfoundry/foundry/internal/stage"
	"github.com/draftfoundry/foundry/pkg/blackboard"
)

// Advisor suggests the next stage. Suggestions are advisory only: the
// router vets them and falls back to its rule table when they are invalid.
type Advisor interface {
	Advise(ctx context.Context, state *blackboard.State) (blackboard.Label, string, error)
}

const advisorSystemPrompt = `You supervise a document pipeline. Given the
session's progress, pick the single next stage from this list:

- generate: create or revise the draft
- review_safety: run the safety review
- review_clinical: run the clinical quality review
- deliberate: run the final review board debate
- halt: stop and hand the draft to a human

Respond with exactly one line: the stage name, optionally followed by " - "
and a one-sentence reason. Never invent other stage names.`

// LLMAdvisor asks a language model for routing suggestions.
type LLMAdvisor struct {
	llm stage.LLMClient
}

// NewLLMAdvisor creates a model-backed advisor.
func NewLLMAdvisor(llm stage.LLMClient) *LLMAdvisor {
	return &LLMAdvisor{llm: llm}
}

// Advise implements Advisor. The response's first line is parsed as
// "label" or "label - reason"; anything else is an error, which the
// router treats as no suggestion.
func (a *LLMAdvisor) Advise(ctx context.Context, s *blackboard.State) (blackboard.Label, string, error) {
	raw, err := a.llm.Complete(ctx, advisorSystemPrompt, summarize(s))
	if err != nil {
		return "", "", fmt.Errorf("advisor call failed: %w", err)
	}
	return parseAdvice(raw)
}

func summarize(s *blackboard.State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "REQUEST: %s\n", s.Request)
	fmt.Fprintf(&b, "ITERATION: %d of %d\n", s.IterationCount, s.MaxIterations)
	fmt.Fprintf(&b, "DRAFT VERSION: %d\n", s.CurrentVersion)

	for _, axis := range blackboard.ReviewAxes() {
		r, ok := s.Reviews[axis]
		switch {
		case !ok:
			fmt.Fprintf(&b, "%s REVIEW: not run\n", strings.ToUpper(axis))
		case r.ReviewedVersion != s.CurrentVersion:
			fmt.Fprintf(&b, "%s REVIEW: stale (reviewed version %d)\n", strings.ToUpper(axis), r.ReviewedVersion)
		default:
			fmt.Fprintf(&b, "%s REVIEW: %s\n", strings.ToUpper(axis), r.Status)
		}
	}

	fmt.Fprintf(&b, "DELIBERATION COMPLETE: %t\n", s.DebateComplete)

	if len(s.RoutingLog) > 0 {
		recent := s.RoutingLog
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		labels := make([]string, len(recent))
		for i, l := range recent {
			labels[i] = string(l)
		}
		fmt.Fprintf(&b, "RECENT DECISIONS: %s\n", strings.Join(labels, ", "))
	}

	b.WriteString("\nWhich stage runs next?")
	return b.String()
}

func parseAdvice(raw string) (blackboard.Label, string, error) {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}

	name, reason, _ := strings.Cut(line, " - ")
	label := blackboard.Label(strings.ToLower(strings.TrimSpace(name)))
	if err := label.Validate(); err != nil {
		return "", "", fmt.Errorf("unparseable advice %q: %w", line, err)
	}
	return label, strings.TrimSpace(reason), nil
}
