package rule_manager

import (
	"time"

	"github.com/google/uuid"
)

type RuleManager struct {
	rules *RuleSet
}

func NewRuleManager() *RuleManager {
	return &RuleManager{
		rules: NewRuleSet(),
	}
}

func (rm *RuleManager) AddRule(rule *Rule) error {

	if len(rule.ID) == 0 {
		id, _ := uuid.NewUUID()
		rule.ID = id.String()
	}

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}

	err := rule.Validate()
	if err != nil {
		return err
	}

	// Registering
	rm.rules.Set(rule.ID, rule)

	return nil
}

func (rm *RuleManager) DeleteRule(id string) {
	rm.rules.Delete(id)
}

func (rm *RuleManager) GetRule(id string) *Rule {
	return rm.rules.Get(id)
}

func (rm *RuleManager) GetRules() []*Rule {
	return rm.rules.List()
}

// GetActiveRules returns enabled rules in creation order.
func (rm *RuleManager) GetActiveRules() []*Rule {

	rules := make([]*Rule, 0)

	for _, rule := range rm.rules.List() {
		if rule.IsActive {
			rules = append(rules, rule)
		}
	}

	return rules
}
