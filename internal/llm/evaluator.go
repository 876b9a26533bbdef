package llm

import (
	"context"
	"encoding/json"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// Evaluation is the revalidated priority verdict for one item.
type Evaluation struct {
	Priority         model.Priority `json:"priority"`
	MatchedInterests []string       `json:"matched_interests"`
	Reasoning        string         `json:"reasoning"`
}

// Evaluator scores items against the user's context document.
type Evaluator struct {
	chat ChatProvider
}

// NewEvaluator builds an evaluator over the chat provider.
func NewEvaluator(chat ChatProvider) *Evaluator {
	return &Evaluator{chat: chat}
}

// Evaluate asks for a priority and revalidates the model's answer. The
// prompt states the rules, but the output is never trusted to follow them.
func (e *Evaluator) Evaluate(ctx context.Context, title, url, content, userContext string) (Evaluation, error) {
	prompt := evaluatePrompt(title, url, content, userContext)

	raw, err := withRetry(ctx, "evaluate", func() (string, error) {
		return guarded(func() (string, error) {
			return e.chat.Complete(ctx, evaluateSystemPrompt, prompt)
		})
	})
	if err != nil {
		return Evaluation{}, err
	}
	return revalidate(raw), nil
}

// revalidate enforces the evaluation rules client-side:
//   - parse errors yield a null priority with no matches
//   - empty matched_interests forces a null priority
//   - an invalid priority string with non-empty matches becomes medium
func revalidate(raw string) Evaluation {
	var parsed struct {
		Priority         *string  `json:"priority"`
		MatchedInterests []string `json:"matched_interests"`
		Reasoning        string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return Evaluation{}
	}

	ev := Evaluation{
		MatchedInterests: parsed.MatchedInterests,
		Reasoning:        parsed.Reasoning,
	}
	if len(ev.MatchedInterests) == 0 {
		return ev
	}
	if parsed.Priority == nil {
		return ev
	}
	p := model.Priority(*parsed.Priority)
	if !p.Valid() {
		ev.Priority = model.PriorityMedium
		return ev
	}
	ev.Priority = p
	return ev
}
