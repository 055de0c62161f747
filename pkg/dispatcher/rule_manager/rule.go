package rule_manager

import (
	"encoding/json"
	"fmt"
	"time"
)

type ConditionType string

const (
	ConditionFrom           ConditionType = "from"
	ConditionTo             ConditionType = "to"
	ConditionSubject        ConditionType = "subject"
	ConditionContent        ConditionType = "content"
	ConditionHasAttachment  ConditionType = "hasAttachment"
	ConditionAttachmentName ConditionType = "attachmentName"
	ConditionReceivedDate   ConditionType = "receivedDate"
	ConditionReceivedTime   ConditionType = "receivedTime"
	ConditionDayOfWeek      ConditionType = "dayOfWeek"
	ConditionHeaderField    ConditionType = "headerField"
	ConditionEmailSize      ConditionType = "emailSize"
	ConditionPriority       ConditionType = "priority"
)

type Operator string

const (
	OperatorContains    Operator = "contains"
	OperatorNotContains Operator = "notContains"
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "notEquals"
	OperatorStartsWith  Operator = "startsWith"
	OperatorEndsWith    Operator = "endsWith"
	OperatorMatches     Operator = "matches"
	OperatorBefore      Operator = "before"
	OperatorAfter       Operator = "after"
	OperatorBetween     Operator = "between"
	OperatorExists      Operator = "exists"
	OperatorNotExists   Operator = "notExists"
	OperatorTrue        Operator = "true"
	OperatorFalse       Operator = "false"
	OperatorGreaterThan Operator = "greaterThan"
	OperatorLessThan    Operator = "lessThan"
	OperatorInRange     Operator = "inRange"
	OperatorHigh        Operator = "high"
	OperatorNormal      Operator = "normal"
	OperatorLow         Operator = "low"
)

// Condition is one atomic predicate over a message field. Value2 is only
// used by the between and inRange operators.
type Condition struct {
	Type     ConditionType `json:"type"`
	Operator Operator      `json:"operator"`
	Value    string        `json:"value"`
	Value2   string        `json:"value2,omitempty"`
}

type GroupOperator string

const (
	GroupAnd GroupOperator = "AND"
	GroupOr  GroupOperator = "OR"
)

// ConditionGroup combines conditions with AND or OR. An empty group
// evaluates true under AND and false under OR.
type ConditionGroup struct {
	Operator   GroupOperator `json:"operator"`
	Conditions []Condition   `json:"conditions"`
}

type ActionType string

const (
	ActionForward ActionType = "forward"
	ActionWebhook ActionType = "webhook"
	ActionPublish ActionType = "publish"
	ActionScript  ActionType = "script"
)

// ActionConfig carries the type-specific action settings. Body and
// Message stay raw JSON so the stored shape round-trips exactly.
type ActionConfig struct {
	// forward
	ForwardTo string `json:"forwardTo,omitempty"`

	// webhook
	WebhookURL string            `json:"webhookUrl,omitempty"`
	Method     string            `json:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`

	// publish
	Topic   string          `json:"topic,omitempty"`
	Broker  string          `json:"broker,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`

	// script
	Code string `json:"code,omitempty"`
}

type Action struct {
	Type   ActionType   `json:"type"`
	Config ActionConfig `json:"config"`
}

// Rule pairs OR'd condition groups with exactly one action. A rule with
// zero condition groups never matches.
type Rule struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	IsActive        bool             `json:"isActive"`
	ConditionGroups []ConditionGroup `json:"conditionGroups"`
	Action          Action           `json:"action"`
	CreatedAt       time.Time        `json:"createdAt"`
}

func NewRule() *Rule {
	return &Rule{}
}

// Validate checks that the action configuration carries the fields its
// type requires. Missing fields are configuration errors, reported at
// authoring time here and again at dispatch time.
func (r *Rule) Validate() error {

	if len(r.Name) == 0 {
		return fmt.Errorf("rule name is required")
	}

	switch r.Action.Type {
	case ActionForward:
		if len(r.Action.Config.ForwardTo) == 0 {
			return fmt.Errorf("forward action requires forwardTo")
		}
	case ActionWebhook:
		if len(r.Action.Config.WebhookURL) == 0 {
			return fmt.Errorf("webhook action requires webhookUrl")
		}
	case ActionPublish:
		if len(r.Action.Config.Topic) == 0 {
			return fmt.Errorf("publish action requires topic")
		}
	case ActionScript:
		if len(r.Action.Config.Code) == 0 {
			return fmt.Errorf("script action requires code")
		}
	default:
		return fmt.Errorf("unknown action type: %s", r.Action.Type)
	}

	return nil
}
