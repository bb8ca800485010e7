package triggers

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

// Condition keys recognized in a trigger's conditions document.
const (
	conditionFieldMatches = "field_matches"
	conditionLLMFilter    = "llm_filter"
	conditionRego         = "rego"
)

// LLMEvaluator answers a yes/no question about a payload. Used for the
// llm_filter condition; nil means the condition is skipped.
type LLMEvaluator interface {
	EvaluateCondition(ctx context.Context, prompt string, payload map[string]interface{}) (bool, error)
}

// ConditionEvaluator decides whether a trigger firing should proceed to
// task creation. Empty conditions always pass. Evaluation errors follow
// the failClosed policy: permissive by default, suppressing on error when
// the operator opts in.
type ConditionEvaluator struct {
	llm        LLMEvaluator
	failClosed func() bool
	logger     *zap.Logger
}

func NewConditionEvaluator(llm LLMEvaluator, failClosed func() bool, logger *zap.Logger) *ConditionEvaluator {
	if failClosed == nil {
		failClosed = func() bool { return false }
	}
	return &ConditionEvaluator{llm: llm, failClosed: failClosed, logger: logger}
}

// Evaluate returns whether the firing should proceed. All present
// conditions must pass; a trigger with no conditions always fires.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, t *Trigger, payload map[string]interface{}) bool {
	if len(t.Conditions) == 0 {
		return true
	}

	if raw, ok := t.Conditions[conditionFieldMatches]; ok {
		matches, ok := raw.(map[string]interface{})
		if !ok {
			return e.onError(t, fmt.Errorf("field_matches must be an object"))
		}
		for path, want := range matches {
			got, found := lookupPath(payload, path)
			if !found || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
				return false
			}
		}
	}

	if raw, ok := t.Conditions[conditionRego]; ok {
		policy, ok := raw.(string)
		if !ok {
			return e.onError(t, fmt.Errorf("rego condition must be a string"))
		}
		pass, err := evalRego(ctx, policy, payload)
		if err != nil {
			return e.onError(t, err)
		}
		if !pass {
			return false
		}
	}

	if raw, ok := t.Conditions[conditionLLMFilter]; ok {
		prompt, ok := raw.(string)
		if !ok {
			return e.onError(t, fmt.Errorf("llm_filter must be a string"))
		}
		if e.llm == nil {
			e.logger.Debug("llm_filter condition present but no evaluator configured, skipping",
				zap.String("trigger_id", t.ID.String()))
		} else {
			pass, err := e.llm.EvaluateCondition(ctx, prompt, payload)
			if err != nil {
				return e.onError(t, err)
			}
			if !pass {
				return false
			}
		}
	}

	return true
}

func (e *ConditionEvaluator) onError(t *Trigger, err error) bool {
	failClosed := e.failClosed()
	e.logger.Warn("Condition evaluation error",
		zap.String("trigger_id", t.ID.String()),
		zap.Bool("fail_closed", failClosed),
		zap.Error(err))
	return !failClosed
}

// evalRego runs an inline rego policy against the payload; the decision is
// data.trigger.allow.
func evalRego(ctx context.Context, policy string, payload map[string]interface{}) (bool, error) {
	r := rego.New(
		rego.Query("data.trigger.allow"),
		rego.Module("trigger.rego", policy),
		rego.Input(payload),
	)
	rs, err := r.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("rego eval: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allow, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allow, nil
}

// lookupPath resolves a dotted path ("message.chat.id") into a nested map.
func lookupPath(payload map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = payload
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
