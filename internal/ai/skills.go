package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/fieldops-backend/internal/domain"
)

const systemPersona = "You are the operations assistant of a logistics field-operations team. " +
	"Be concise and factual. Never invent data that is not in the input."

// IssueClassification is the output of ClassifyIssue.
type IssueClassification struct {
	Opcode     string  `json:"opcode"`
	SOP        string  `json:"sop"`
	Division   string  `json:"division"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (c *IssueClassification) Validate() error {
	switch {
	case strings.TrimSpace(c.Opcode) == "":
		return errors.New("opcode is required")
	case strings.TrimSpace(c.Division) == "":
		return errors.New("division is required")
	case c.Confidence < 0 || c.Confidence > 1:
		return fmt.Errorf("confidence %v outside [0,1]", c.Confidence)
	}
	return nil
}

// PriorityScore is the output of ScorePriority.
type PriorityScore struct {
	Score         int             `json:"score"`
	PriorityLevel domain.Priority `json:"priorityLevel"`
	Reasoning     string          `json:"reasoning"`
}

func (p *PriorityScore) Validate() error {
	if p.Score < 0 || p.Score > 100 {
		return fmt.Errorf("score %d outside [0,100]", p.Score)
	}
	p.PriorityLevel = domain.Priority(strings.ToUpper(strings.TrimSpace(string(p.PriorityLevel))))
	if !p.PriorityLevel.Valid() {
		return fmt.Errorf("unknown priorityLevel %q", p.PriorityLevel)
	}
	return nil
}

// TaskDraft holds task form fields extracted from free text.
type TaskDraft struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Deadline    string              `json:"deadline,omitempty"`
	Category    domain.TaskCategory `json:"category,omitempty"`
	Priority    domain.Priority     `json:"priority,omitempty"`
	Division    string              `json:"division,omitempty"`
}

func (d *TaskDraft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return errors.New("title is required")
	}
	if d.Category != "" && !d.Category.Valid() {
		return fmt.Errorf("unknown category %q", d.Category)
	}
	if d.Priority != "" && !d.Priority.Valid() {
		return fmt.Errorf("unknown priority %q", d.Priority)
	}
	return nil
}

// IssueDraft holds issue form fields extracted from free text.
type IssueDraft struct {
	Reference  string `json:"reference"`
	Type       string `json:"type"`
	OpCode     string `json:"opcode,omitempty"`
	Division   string `json:"division,omitempty"`
	Chronology string `json:"chronology"`
}

func (d *IssueDraft) Validate() error {
	if strings.TrimSpace(d.Type) == "" {
		return errors.New("type is required")
	}
	return nil
}

// ClassifyIssue suggests the operational code, SOP and owning division of
// an issue description.
func (g *Gateway) ClassifyIssue(ctx context.Context, text string) (IssueClassification, error) {
	var out IssueClassification
	err := g.completeJSON(ctx, "classify_issue", Request{Messages: []Message{
		{Role: RoleSystem, Content: systemPersona},
		{Role: RoleUser, Content: "Classify this operational issue. Return JSON with keys " +
			`"opcode", "sop", "division", "confidence" (0 to 1) and "reasoning".` +
			"\n\nIssue:\n" + text},
	}, Options: Options{Temperature: ptr(0.1)}}, &out)
	return out, err
}

// ScorePriority rates how urgent task is on a 0..100 scale and maps it to
// P1 (high impact), P2 (deadline driven) or P3 (nice to have).
func (g *Gateway) ScorePriority(ctx context.Context, task domain.Task) (PriorityScore, error) {
	var out PriorityScore
	err := g.completeJSON(ctx, "score_priority", Request{Messages: []Message{
		{Role: RoleSystem, Content: systemPersona},
		{Role: RoleUser, Content: "Score the priority of this task from 0 to 100. P1 is high impact, " +
			"P2 is deadline driven, P3 is nice to have. Return JSON with keys " +
			`"score", "priorityLevel" and "reasoning".` + "\n\n" + describeTask(task)},
	}, Options: Options{Temperature: ptr(0.1)}}, &out)
	return out, err
}

// ExtractTask fills a task form from free text.
func (g *Gateway) ExtractTask(ctx context.Context, text string) (TaskDraft, error) {
	var out TaskDraft
	err := g.completeJSON(ctx, "extract_task", Request{Messages: []Message{
		{Role: RoleSystem, Content: systemPersona},
		{Role: RoleUser, Content: "Extract a task from the text. Return JSON with keys " +
			`"title", "description", "deadline" (YYYY-MM-DD or empty), ` +
			`"category" (TODAY, THIS_WEEK or WAITING_UPDATE), "priority" (P1, P2 or P3) and "division".` +
			"\n\nText:\n" + text},
	}}, &out)
	return out, err
}

// ExtractIssue fills an issue form from free text.
func (g *Gateway) ExtractIssue(ctx context.Context, text string) (IssueDraft, error) {
	var out IssueDraft
	err := g.completeJSON(ctx, "extract_issue", Request{Messages: []Message{
		{Role: RoleSystem, Content: systemPersona},
		{Role: RoleUser, Content: "Extract a support issue from the text. Return JSON with keys " +
			`"reference" (AWB or partner reference), "type", "opcode", "division" and "chronology".` +
			"\n\nText:\n" + text},
	}}, &out)
	return out, err
}

// SummarizeVisit writes a short summary of a visit note.
func (g *Gateway) SummarizeVisit(ctx context.Context, v domain.VisitNote) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Partner: %s (%s)\nDate: %s\n", v.PartnerName, v.PartnerNIA, v.VisitDate)
	fmt.Fprintf(&b, "Findings: %s\nOperational issues: %s\nSuggestions: %s\n", v.Findings, v.OperationalIssues, v.Suggestions)
	return g.complete(ctx, "summarize_visit", Request{Messages: []Message{
		{Role: RoleSystem, Content: systemPersona},
		{Role: RoleUser, Content: "Summarize this partner visit in at most three sentences for a manager.\n\n" + b.String()},
	}})
}

// DraftMessage writes a message for purpose (for example "follow up a late
// delivery with the partner") from facts.
func (g *Gateway) DraftMessage(ctx context.Context, purpose, facts string) (string, error) {
	return g.complete(ctx, "draft_message", Request{Messages: []Message{
		{Role: RoleSystem, Content: systemPersona + " Write short, polite chat messages."},
		{Role: RoleUser, Content: "Purpose: " + purpose + "\n\nFacts:\n" + facts},
	}})
}

// Chat answers question given the prior turns and knowledge-base snippets.
// Only user and assistant turns from history are forwarded.
func (g *Gateway) Chat(ctx context.Context, history []Message, question string, knowledge []string) (string, error) {
	sys := systemPersona + " Answer from the knowledge below when it is relevant; " +
		"say you do not know when it is not."
	if len(knowledge) > 0 {
		sys += "\n\nKnowledge:\n- " + strings.Join(knowledge, "\n- ")
	}
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: sys})
	for _, m := range history {
		if m.Role == RoleUser || m.Role == RoleAssistant {
			msgs = append(msgs, m)
		}
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: question})
	return g.complete(ctx, "chat", Request{Messages: msgs})
}

func describeTask(t domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
	}
	if t.Deadline != "" {
		fmt.Fprintf(&b, "Deadline: %s\n", t.Deadline)
	}
	fmt.Fprintf(&b, "Category: %s\nDivision: %s\n", t.Category, t.Division)
	return b.String()
}

func ptr[T any](v T) *T { return &v }
