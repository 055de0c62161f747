package dispatcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/rulepost/rulepost/pkg/dispatcher/message"
	"github.com/rulepost/rulepost/pkg/dispatcher/rule_manager"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeTransport struct {
	sent []*message.OutboundMail
	err  error
}

func (f *fakeTransport) SendMail(ctx context.Context, m *message.OutboundMail) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

type recordedStatus struct {
	EmailID  string
	RuleID   string
	RuleName string
}

type fakeRecorder struct {
	outcomes []*message.Outcome
	statuses []recordedStatus
}

func (f *fakeRecorder) RecordOutcome(ctx context.Context, emailID string, outcome *message.Outcome) error {
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func (f *fakeRecorder) UpdateEmailRuleStatus(ctx context.Context, emailID string, ruleID string, ruleName string) error {
	f.statuses = append(f.statuses, recordedStatus{emailID, ruleID, ruleName})
	return nil
}

func CreateForwardRule(id string, name string, subjectContains string) *rule_manager.Rule {

	rule := rule_manager.NewRule()
	rule.ID = id
	rule.Name = name
	rule.IsActive = true
	rule.ConditionGroups = []rule_manager.ConditionGroup{
		{
			Operator: rule_manager.GroupAnd,
			Conditions: []rule_manager.Condition{
				cond(rule_manager.ConditionSubject, rule_manager.OperatorContains, subjectContains),
			},
		},
	}
	rule.Action = rule_manager.Action{
		Type: rule_manager.ActionForward,
		Config: rule_manager.ActionConfig{
			ForwardTo: "archive@example.com",
		},
	}

	return rule
}

func TestProcessorFirstMatchWins(t *testing.T) {

	logger = zap.NewExample()

	transport := &fakeTransport{}
	recorder := &fakeRecorder{}

	p := NewProcessor(
		WithActionDispatcher(NewActionDispatcher(WithMailTransport(transport))),
		WithOutcomeRecorder(recorder),
	)

	rules := []*rule_manager.Rule{
		CreateForwardRule("rule-1", "no match", "lottery"),
		CreateForwardRule("rule-2", "first match", "urgent"),
		CreateForwardRule("rule-3", "never reached", "urgent"),
	}

	email := CreateTestEmail()

	matched, outcomes := p.Process(context.Background(), rules, email)

	assert.Equal(t, "rule-2", matched)
	assert.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success)
	assert.Equal(t, "rule-2", outcomes[0].RuleID)

	// Only the first matching rule dispatched
	assert.Len(t, transport.sent, 1)

	assert.Len(t, recorder.outcomes, 1)
	assert.Len(t, recorder.statuses, 1)
	assert.Equal(t, recordedStatus{"test-email", "rule-2", "first match"}, recorder.statuses[0])
}

func TestProcessorSkipsInactiveRules(t *testing.T) {

	logger = zap.NewExample()

	transport := &fakeTransport{}

	p := NewProcessor(
		WithActionDispatcher(NewActionDispatcher(WithMailTransport(transport))),
	)

	inactive := CreateForwardRule("rule-1", "disabled", "urgent")
	inactive.IsActive = false

	matched, outcomes := p.Process(context.Background(), []*rule_manager.Rule{inactive}, CreateTestEmail())

	assert.Empty(t, matched)
	assert.Empty(t, outcomes)
	assert.Empty(t, transport.sent)
}

func TestProcessorDispatchFailure(t *testing.T) {

	logger = zap.NewExample()

	transport := &fakeTransport{
		err: fmt.Errorf("connection refused"),
	}
	recorder := &fakeRecorder{}

	p := NewProcessor(
		WithActionDispatcher(NewActionDispatcher(WithMailTransport(transport))),
		WithOutcomeRecorder(recorder),
	)

	rules := []*rule_manager.Rule{
		CreateForwardRule("rule-1", "failing forward", "urgent"),
	}

	matched, outcomes := p.Process(context.Background(), rules, CreateTestEmail())

	// A failed dispatch still counts as the match
	assert.Equal(t, "rule-1", matched)
	assert.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Success)
	assert.Equal(t, "connection refused", outcomes[0].Error)

	assert.Len(t, recorder.outcomes, 1)
	assert.False(t, recorder.outcomes[0].Success)
	assert.Len(t, recorder.statuses, 1)
	assert.Equal(t, "rule-1", recorder.statuses[0].RuleID)
}

func TestProcessorNoMatchClearsRuleStatus(t *testing.T) {

	logger = zap.NewExample()

	recorder := &fakeRecorder{}

	p := NewProcessor(
		WithActionDispatcher(NewActionDispatcher(WithMailTransport(&fakeTransport{}))),
		WithOutcomeRecorder(recorder),
	)

	rules := []*rule_manager.Rule{
		CreateForwardRule("rule-1", "no match", "lottery"),
	}

	matched, outcomes := p.Process(context.Background(), rules, CreateTestEmail())

	assert.Empty(t, matched)
	assert.Empty(t, outcomes)
	assert.Empty(t, recorder.outcomes)

	// Any previous association is cleared
	assert.Len(t, recorder.statuses, 1)
	assert.Equal(t, recordedStatus{"test-email", "", ""}, recorder.statuses[0])
}

func TestProcessorUnpersistedEmail(t *testing.T) {

	logger = zap.NewExample()

	recorder := &fakeRecorder{}

	p := NewProcessor(
		WithActionDispatcher(NewActionDispatcher(WithMailTransport(&fakeTransport{}))),
		WithOutcomeRecorder(recorder),
	)

	rules := []*rule_manager.Rule{
		CreateForwardRule("rule-1", "match", "urgent"),
	}

	email := CreateTestEmail()
	email.ID = ""

	matched, outcomes := p.Process(context.Background(), rules, email)

	// The pipeline still runs, but nothing is recorded for an email
	// that was never persisted
	assert.Equal(t, "rule-1", matched)
	assert.Len(t, outcomes, 1)
	assert.Empty(t, recorder.outcomes)
	assert.Empty(t, recorder.statuses)
}

func TestTestConditionGroupVerbose(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()

	group := rule_manager.ConditionGroup{
		Operator: rule_manager.GroupAnd,
		Conditions: []rule_manager.Condition{
			cond(rule_manager.ConditionSubject, rule_manager.OperatorContains, "urgent"),
			cond(rule_manager.ConditionSubject, rule_manager.OperatorContains, "lottery"),
		},
	}

	matched, results := TestConditionGroupVerbose(group, email)

	assert.False(t, matched)
	assert.Equal(t, []bool{true, false}, results)
}
