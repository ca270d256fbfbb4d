package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/draftfoundry/foundry/pkg/blackboard"
)

const safetySystemPrompt = `You review self-help exercises for safety. Zero
tolerance for risks. Check for: self-harm triggers, medical advice beyond
therapeutic scope, dangerous instructions, content that could worsen mental
health, and missing safety disclaimers.

Status meanings:
- "passed": no safety issues
- "flagged": minor or moderate issues, revision needed
- "critical": severe risks, immediate revision required

Respond with JSON only:
{
  "status": "passed" | "flagged" | "critical",
  "findings": ["specific issues"],
  "recommendations": ["how to fix each issue"]
}`

const clinicalSystemPrompt = `You review self-help exercises for therapeutic
quality. Rate empathy, tone and structure on a 0-10 scale each, and check
for evidence-based techniques, completeness and actionable language.

Status meanings:
- "passed": meets all standards, ready to use
- "flagged": quality gaps, revision needed
- "critical": major failures, substantial rework required

Respond with JSON only:
{
  "status": "passed" | "flagged" | "critical",
  "findings": ["specific, actionable feedback"],
  "recommendations": ["how to improve"],
  "scores": {"empathy": 0-10, "tone": 0-10, "structure": 0-10}
}`

// reviewPayload is the JSON shape both review prompts ask the model for.
type reviewPayload struct {
	Status          string             `json:"status"`
	Findings        []string           `json:"findings"`
	Recommendations []string           `json:"recommendations"`
	Scores          map[string]float64 `json:"scores"`
}

// Reviewer evaluates the current draft on one named axis and installs the
// result in the state's review map. One Reviewer instance exists per axis.
type Reviewer struct {
	llm    LLMClient
	axis   string
	label  blackboard.Label
	system string
}

// NewReviewer creates a reviewer for the given axis.
func NewReviewer(llm LLMClient, axis string) (*Reviewer, error) {
	label, err := blackboard.ReviewLabel(axis)
	if err != nil {
		return nil, err
	}

	var system string
	switch axis {
	case blackboard.AxisSafety:
		system = safetySystemPrompt
	case blackboard.AxisClinical:
		system = clinicalSystemPrompt
	default:
		return nil, fmt.Errorf("no review prompt for axis %q", axis)
	}

	return &Reviewer{llm: llm, axis: axis, label: label, system: system}, nil
}

func (r *Reviewer) Label() blackboard.Label {
	return r.label
}

// Execute reviews the current draft version. A model response that cannot
// be parsed degrades to a flagged review rather than failing the stage, so
// an unparseable verdict sends the draft back for revision instead of
// erroring the session.
func (r *Reviewer) Execute(ctx context.Context, state *blackboard.State) (*blackboard.State, error) {
	s := state.Clone()

	if s.CurrentVersion == 0 {
		return nil, &ExecutionError{Stage: r.label, Err: fmt.Errorf("no draft to review")}
	}

	s.AppendAnnotation(r.axis+"_reviewer",
		fmt.Sprintf("Analyzing draft version %d on the %s axis.", s.CurrentVersion, r.axis),
		map[string]string{"action": "review", "axis": r.axis})

	prompt := fmt.Sprintf("Review the following exercise:\n\n%s\n\nAnalyze each section carefully and respond with the JSON verdict.", s.Draft)
	raw, err := r.llm.Complete(ctx, r.system, prompt)
	if err != nil {
		return nil, &ExecutionError{Stage: r.label, Err: err}
	}

	payload, ok := parseReviewPayload(raw)
	if !ok {
		payload = reviewPayload{
			Status:          string(blackboard.ReviewStatusFlagged),
			Findings:        []string{"Unable to parse review. Manual review recommended."},
			Recommendations: []string{"Revise the draft and re-run the review."},
		}
	}

	status := blackboard.ReviewStatus(payload.Status)
	if status.Validate() != nil || status == blackboard.ReviewStatusPending {
		status = blackboard.ReviewStatusFlagged
	}

	review := &blackboard.Review{
		Axis:            r.axis,
		Status:          status,
		Findings:        payload.Findings,
		Recommendations: payload.Recommendations,
		Scores:          payload.Scores,
		ReviewedVersion: s.CurrentVersion,
		ReviewedAtMs:    nowMs(),
	}
	s.SetReview(review)

	s.AppendAnnotation(r.axis+"_reviewer",
		reviewSummary(review),
		map[string]string{"action": "review_complete", "axis": r.axis, "status": string(status)})

	return s, nil
}

func reviewSummary(r *blackboard.Review) string {
	switch r.Status {
	case blackboard.ReviewStatusPassed:
		return fmt.Sprintf("%s review passed for version %d.", r.Axis, r.ReviewedVersion)
	case blackboard.ReviewStatusCritical:
		return fmt.Sprintf("%s review found %d critical issue(s) in version %d.", r.Axis, len(r.Findings), r.ReviewedVersion)
	default:
		return fmt.Sprintf("%s review flagged %d issue(s) in version %d.", r.Axis, len(r.Findings), r.ReviewedVersion)
	}
}

// parseReviewPayload extracts the JSON verdict from a model response that
// may wrap it in a code fence or surrounding prose.
func parseReviewPayload(raw string) (reviewPayload, bool) {
	var payload reviewPayload

	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return payload, false
	}
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return payload, false
	}
	if payload.Status == "" {
		return payload, false
	}
	return payload, true
}

// extractJSON pulls the first JSON object out of raw, handling ```json
// fences and leading or trailing prose.
func extractJSON(raw string) string {
	if idx := strings.Index(raw, "```json"); idx >= 0 {
		rest := raw[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return ""
}
