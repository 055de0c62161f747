package dispatcher

import (
	"context"
	"time"

	"github.com/rulepost/rulepost/pkg/dispatcher/message"
	"github.com/rulepost/rulepost/pkg/dispatcher/rule_manager"
	"go.uber.org/zap"
)

// Processor runs the rule pipeline for one email at a time. Rules are
// evaluated in the caller-supplied order and the first matching rule
// wins; later rules are not evaluated for dispatch.
type Processor struct {
	actions  *ActionDispatcher
	recorder OutcomeRecorder
}

func NewProcessor(opts ...func(*Processor)) *Processor {

	p := &Processor{
		actions: NewActionDispatcher(),
	}

	// Apply options
	for _, o := range opts {
		o(p)
	}

	return p
}

func WithActionDispatcher(actions *ActionDispatcher) func(*Processor) {
	return func(p *Processor) {
		p.actions = actions
	}
}

func WithOutcomeRecorder(recorder OutcomeRecorder) func(*Processor) {
	return func(p *Processor) {
		p.recorder = recorder
	}
}

// Process evaluates the rules against the email, dispatches the action
// of the first matching rule and records the outcome. It returns the
// matched rule id (empty when nothing matched) and the outcomes
// produced during this run. A dispatch failure is captured in the
// outcome and does not abort processing of other emails.
func (p *Processor) Process(ctx context.Context, rules []*rule_manager.Rule, email *message.Email) (string, []*message.Outcome) {

	m := message.New()
	defer m.Release()

	m.Email = email

	for _, rule := range rules {

		if !rule.IsActive {
			continue
		}

		if !RuleMatches(rule, email) {
			continue
		}

		logger.Info("Rule matched",
			zap.String("rule", rule.Name),
			zap.String("email", email.ID),
		)

		outcome := &message.Outcome{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Success:     true,
			ProcessedAt: time.Now(),
		}

		err := p.actions.Dispatch(ctx, rule.Action, email)
		if err != nil {
			outcome.Success = false
			outcome.Error = err.Error()

			logger.Error("Action dispatch failed",
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
		}

		m.MatchedRuleID = rule.ID
		m.Outcomes = append(m.Outcomes, outcome)

		p.recordMatch(ctx, email, rule, outcome)

		// First match wins
		break
	}

	if len(m.MatchedRuleID) == 0 {
		p.recordNoMatch(ctx, email)
	}

	outcomes := make([]*message.Outcome, len(m.Outcomes))
	copy(outcomes, m.Outcomes)

	return m.MatchedRuleID, outcomes
}

func (p *Processor) recordMatch(ctx context.Context, email *message.Email, rule *rule_manager.Rule, outcome *message.Outcome) {

	// Outcomes can only be attached to persisted emails
	if p.recorder == nil || len(email.ID) == 0 {
		return
	}

	err := p.recorder.RecordOutcome(ctx, email.ID, outcome)
	if err != nil {
		logger.Error("Failed to record outcome",
			zap.String("email", email.ID),
			zap.Error(err),
		)
	}

	err = p.recorder.UpdateEmailRuleStatus(ctx, email.ID, rule.ID, rule.Name)
	if err != nil {
		logger.Error("Failed to update email rule status",
			zap.String("email", email.ID),
			zap.Error(err),
		)
	}
}

func (p *Processor) recordNoMatch(ctx context.Context, email *message.Email) {

	if p.recorder == nil || len(email.ID) == 0 {
		return
	}

	// Clear any previous rule association
	err := p.recorder.UpdateEmailRuleStatus(ctx, email.ID, "", "")
	if err != nil {
		logger.Error("Failed to update email rule status",
			zap.String("email", email.ID),
			zap.Error(err),
		)
	}
}

// TestConditionGroup evaluates one condition group against a sample
// email, used by the dry-run API.
func TestConditionGroup(group rule_manager.ConditionGroup, email *message.Email) bool {
	return EvaluateConditionGroup(group, email)
}

// TestConditionGroupVerbose additionally reports the result of every
// member condition, in order.
func TestConditionGroupVerbose(group rule_manager.ConditionGroup, email *message.Email) (bool, []bool) {

	results := make([]bool, len(group.Conditions))
	for i, condition := range group.Conditions {
		results[i] = EvaluateCondition(condition, email)
	}

	return EvaluateConditionGroup(group, email), results
}
