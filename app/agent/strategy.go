package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"webrag/model"
)

const (
	ActionRetrieve = "retrieve"
	ActionAnswer   = "answer"
)

const strategyPrompt = "You decide whether to answer immediately or call a retrieval system. " +
	"Respond ONLY as compact JSON with keys 'action', 'answer', and 'query'. " +
	"Always populate 'query' with the best retrieval-ready reformulation of the user's request; it may match the original wording. " +
	"Default to 'retrieve' unless the question is clearly answerable from evergreen, widely known facts (e.g. arithmetic, common definitions). " +
	"Set 'action' to 'answer' only when you are certain no up-to-date or source-backed information is needed. " +
	"Otherwise set 'action' to 'retrieve'. " +
	"If action is 'answer', you may also include a concise response in 'answer', but 'query' must still be present. " +
	"If action is 'retrieve', leave 'answer' empty. " +
	"Do not include any text outside valid JSON."

// Decision is the outcome of the strategy step. Query is never empty.
type Decision struct {
	Action string
	Answer string
	Query  string
}

func (a *Agent) decideStrategy(ctx context.Context, query string) Decision {
	raw, err := a.generator.Generate(ctx, strategyPrompt+"\n\nUser question: "+quote(query))
	if err != nil {
		a.logger.Warn("strategy decision failed, defaulting to retrieve", "error", err)
		return Decision{Action: ActionRetrieve, Query: query}
	}

	d, err := ParseDecision(raw, query)
	if err != nil {
		a.logger.Warn("strategy response is not valid JSON", "response", raw, "error", err)
	}
	return d
}

// ParseDecision reads the strategy reply leniently. Any reply that is not a
// JSON object yields the retrieve default with the original query.
func ParseDecision(raw, original string) (Decision, error) {
	fallback := Decision{Action: ActionRetrieve, Query: original}

	text := strings.TrimSpace(raw)
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		candidate, extractErr := model.ExtractJSON(text)
		if extractErr != nil {
			return fallback, extractErr
		}
		payload = nil
		if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
			return fallback, fmt.Errorf("parse extracted json: %w", err)
		}
	}
	if payload == nil {
		return fallback, nil
	}

	d := fallback
	if action := strings.ToLower(stringField(payload, "action")); action != "" {
		d.Action = action
	}
	d.Answer = stringField(payload, "answer")
	if q := stringField(payload, "query"); q != "" {
		d.Query = q
	}
	return d, nil
}

func stringField(payload map[string]any, key string) string {
	s, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b)
}
