// Package proposer produces the model's candidate reply for a turn: the
// coach message plus the stage the model believes the conversation should
// be in next. The proposal is advisory; the transition guard has the final
// word.
package proposer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"bsdcoach/pkg/llm"
	"bsdcoach/pkg/logx"
	"bsdcoach/pkg/session"
	"bsdcoach/pkg/stage"
	"bsdcoach/pkg/tokens"
)

// DefaultHistoryBudget caps the tokens spent on conversation history in
// the prompt.
const DefaultHistoryBudget = 2048

// stageDirectiveRe matches the trailing machine directive the model is
// instructed to emit, e.g. "STAGE: emotion".
var stageDirectiveRe = regexp.MustCompile(`(?mi)^\s*STAGE:\s*([a-z_]+)\s*$`)

// Proposal is the parsed model output for one turn.
type Proposal struct {
	// Message is the coach reply with the stage directive stripped.
	Message string
	// Stage is the stage the model proposes. Falls back to the current
	// stage when the model emits no directive or an unknown one.
	Stage stage.Stage
}

// Hints carry gate context into the prompt so the model asks for what is
// actually missing.
type Hints struct {
	// MissingIntents name what the current stage still needs, from the
	// stage descriptor's follow-up intents.
	MissingIntents []string
	// Explain asks the model to acknowledge push-back and explain why more
	// detail is needed instead of repeating its question.
	Explain bool
}

// Proposer builds prompts and parses completions for one session language.
type Proposer struct {
	client  llm.Client
	table   stage.Table
	counter *tokens.Counter
	budget  int
	log     *logx.Logger
}

func New(client llm.Client, table stage.Table, counter *tokens.Counter) *Proposer {
	return &Proposer{
		client:  client,
		table:   table,
		counter: counter,
		budget:  DefaultHistoryBudget,
		log:     logx.NewLogger("proposer"),
	}
}

// WithHistoryBudget overrides the token budget for conversation history.
func (p *Proposer) WithHistoryBudget(budget int) *Proposer {
	if budget > 0 {
		p.budget = budget
	}
	return p
}

// Propose generates the candidate reply for the session's latest user turn.
func (p *Proposer) Propose(ctx context.Context, s *session.State, hints Hints) (Proposal, error) {
	req := llm.NewRequest(p.buildMessages(s, hints))

	resp, err := p.client.Complete(ctx, req)
	if err != nil {
		return Proposal{}, fmt.Errorf("completion failed for session %s: %w", s.ConversationID, err)
	}
	return p.parse(s, resp.Content), nil
}

func (p *Proposer) buildMessages(s *session.State, hints Hints) []llm.Message {
	messages := []llm.Message{llm.SystemMessage(p.systemPrompt(s, hints))}

	// Trailing history, oldest dropped first until the budget fits.
	start := 0
	for start < len(s.Turns) {
		if p.historyTokens(s.Turns[start:]) <= p.budget {
			break
		}
		start++
	}
	for _, t := range s.Turns[start:] {
		if t.Speaker == session.SpeakerCoach {
			messages = append(messages, llm.AssistantMessage(t.Text))
		} else {
			messages = append(messages, llm.UserMessage(t.Text))
		}
	}
	return messages
}

func (p *Proposer) historyTokens(turns []session.Turn) int {
	total := 0
	for _, t := range turns {
		total += p.counter.Count(t.Text)
	}
	return total
}

func (p *Proposer) systemPrompt(s *session.State, hints Hints) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a coach guiding a structured self-reflection conversation in language %q.\n", s.Language)
	fmt.Fprintf(&b, "The conversation moves through fixed phases in order; the current phase is %q.\n", s.CurrentStage)
	b.WriteString("Ask one short, warm question per reply. Never lecture, never diagnose.\n")

	if desc, ok := p.table[s.CurrentStage]; ok && len(hints.MissingIntents) == 0 {
		hints.MissingIntents = desc.FollowupIntents
	}
	if len(hints.MissingIntents) > 0 {
		fmt.Fprintf(&b, "Still needed from the user: %s.\n", strings.Join(hints.MissingIntents, ", "))
	}
	if len(s.Collected) > 0 {
		b.WriteString("Already gathered, do not ask again:\n")
		fields := make([]string, 0, len(s.Collected))
		for f := range s.Collected {
			fields = append(fields, string(f))
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Fprintf(&b, "  %s: %s\n", f, s.Collected[stage.Field(f)])
		}
	}
	if hints.Explain {
		b.WriteString("The user is pushing to move on. Acknowledge that, briefly explain what is still missing and why it matters, then ask once more in different words.\n")
	}

	b.WriteString("\nEnd every reply with a line of exactly this form, naming the phase your question belongs to:\n")
	fmt.Fprintf(&b, "STAGE: <one of %s>\n", strings.Join(stageNames(), ", "))
	fmt.Fprintf(&b, "Use STAGE: %s while the current phase is incomplete", s.CurrentStage)
	if !stage.IsTerminal(s.CurrentStage) {
		fmt.Fprintf(&b, "; use STAGE: %s once the user has fully answered it", stage.Next(s.CurrentStage))
	}
	b.WriteString(".\n")
	return b.String()
}

// parse extracts the stage directive and strips it from the message.
func (p *Proposer) parse(s *session.State, content string) Proposal {
	prop := Proposal{Stage: s.CurrentStage}

	matches := stageDirectiveRe.FindAllStringSubmatch(content, -1)
	if len(matches) > 0 {
		candidate := stage.Stage(strings.ToLower(matches[len(matches)-1][1]))
		if stage.Valid(candidate) {
			prop.Stage = candidate
		} else {
			p.log.Warn("session %s: unknown stage directive %q", s.ConversationID, candidate)
		}
	}

	prop.Message = strings.TrimSpace(stageDirectiveRe.ReplaceAllString(content, ""))
	return prop
}

func stageNames() []string {
	names := make([]string, len(stage.Order))
	for i, s := range stage.Order {
		names[i] = string(s)
	}
	return names
}
