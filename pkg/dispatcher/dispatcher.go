package dispatcher

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/rulepost/rulepost/pkg/configs"
	"github.com/rulepost/rulepost/pkg/dispatcher/message"
	"github.com/rulepost/rulepost/pkg/dispatcher/rule_manager"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var logger *zap.Logger

// RuleStore supplies the active rules in creation order.
type RuleStore interface {
	ActiveRules(ctx context.Context) ([]*rule_manager.Rule, error)
}

// OutcomeRecorder persists pipeline results for one email.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, emailID string, outcome *message.Outcome) error
	UpdateEmailRuleStatus(ctx context.Context, emailID string, ruleID string, ruleName string) error
}

// Dispatcher owns the rule pipeline: it keeps the active rule set in
// memory, evaluates every inbound email against it and dispatches the
// matched action. Concurrent emails are independent; the rule set is
// the only shared state and is swapped atomically on reload.
type Dispatcher struct {
	config    *configs.Config
	ruleStore RuleStore
	processor *Processor

	mu    sync.RWMutex
	rules *rule_manager.RuleManager
}

func New(config *configs.Config, l *zap.Logger, ruleStore RuleStore, recorder OutcomeRecorder, transport MailTransport, bus BusPublisher) *Dispatcher {

	logger = l.Named("Dispatcher")

	viper.SetDefault("sandbox.timeout", DefaultScriptTimeout)

	sandbox := NewSandbox(
		WithScriptTimeout(viper.GetDuration("sandbox.timeout")),
	)

	actions := NewActionDispatcher(
		WithMailTransport(transport),
		WithBusPublisher(bus),
		WithSandbox(sandbox),
	)

	d := &Dispatcher{
		config:    config,
		ruleStore: ruleStore,
		rules:     rule_manager.NewRuleManager(),
		processor: NewProcessor(
			WithActionDispatcher(actions),
			WithOutcomeRecorder(recorder),
		),
	}

	err := d.ReloadRules(context.Background())
	if err != nil {
		logger.Error("Failed to load rules",
			zap.Error(err),
		)
	}

	return d
}

// ReloadRules replaces the in-memory rule set with the active rules
// from the store. Called at startup and after every rule mutation.
func (d *Dispatcher) ReloadRules(ctx context.Context) error {

	rules, err := d.ruleStore.ActiveRules(ctx)
	if err != nil {
		return err
	}

	rm := rule_manager.NewRuleManager()
	for _, rule := range rules {
		err := rm.AddRule(rule)
		if err != nil {
			logger.Warn("Skipping invalid rule",
				zap.String("rule", rule.Name),
				zap.Error(err),
			)
		}
	}

	d.mu.Lock()
	d.rules = rm
	d.mu.Unlock()

	logger.Info("Loaded rules",
		zap.Int("count", len(rm.GetActiveRules())),
	)

	return nil
}

// ActiveRules returns the current active rules in creation order.
func (d *Dispatcher) ActiveRules() []*rule_manager.Rule {

	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.rules.GetActiveRules()
}

// ProcessEmail runs the rule pipeline for one persisted email.
func (d *Dispatcher) ProcessEmail(ctx context.Context, email *message.Email) (string, []*message.Outcome) {
	return d.processor.Process(ctx, d.ActiveRules(), email)
}
