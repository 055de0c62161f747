package dispatcher

import (
	"strconv"
	"testing"
	"time"

	"github.com/rulepost/rulepost/pkg/dispatcher/message"
	"github.com/rulepost/rulepost/pkg/dispatcher/rule_manager"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func CreateTestEmail() *message.Email {

	return &message.Email{
		ID:      "test-email",
		From:    "Boss@Example.com",
		To:      "team@example.com",
		Subject: "URGENT: Quarterly Report",
		Text:    "Please review the attached report before Friday.",
		HTML:    "<p>Please review the attached report before Friday.</p>",
		Headers: map[string]string{
			"x-mailer": "TestMailer 1.0",
		},
		Attachments: []message.Attachment{
			{
				Filename:    "Report.PDF",
				ContentType: "application/pdf",
				Size:        2048,
			},
		},
		// Wednesday
		ReceivedAt: time.Date(2026, 8, 26, 14, 30, 0, 0, time.UTC),
	}
}

func cond(t rule_manager.ConditionType, op rule_manager.Operator, value string) rule_manager.Condition {
	return rule_manager.Condition{
		Type:     t,
		Operator: op,
		Value:    value,
	}
}

func TestTextConditions(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()

	// Comparison is case-insensitive on both sides
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionFrom, rule_manager.OperatorContains, "BOSS"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionFrom, rule_manager.OperatorEquals, "boss@example.com"), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionFrom, rule_manager.OperatorNotEquals, "boss@example.com"), email))

	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionSubject, rule_manager.OperatorStartsWith, "urgent"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionSubject, rule_manager.OperatorEndsWith, "report"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionSubject, rule_manager.OperatorNotContains, "invoice"), email))

	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionContent, rule_manager.OperatorContains, "attached report"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionTo, rule_manager.OperatorEquals, "TEAM@example.com"), email))
}

func TestTextConditionRegex(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()

	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionSubject, rule_manager.OperatorMatches, "^urgent:.*report$"), email))

	// The pattern is lower-cased before compiling, so uppercase literals
	// still match
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionSubject, rule_manager.OperatorMatches, "QUARTERLY"), email))

	// A malformed pattern is a non-match, not an error
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionSubject, rule_manager.OperatorMatches, "[unclosed"), email))
}

func TestHasAttachmentCondition(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()

	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionHasAttachment, rule_manager.OperatorTrue, ""), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionHasAttachment, rule_manager.OperatorFalse, ""), email))

	email.Attachments = nil
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionHasAttachment, rule_manager.OperatorTrue, ""), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionHasAttachment, rule_manager.OperatorFalse, ""), email))
}

func TestAttachmentNameCondition(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()
	email.Attachments = append(email.Attachments, message.Attachment{
		Filename: "notes.txt",
		Size:     10,
	})

	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionAttachmentName, rule_manager.OperatorContains, ".pdf"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionAttachmentName, rule_manager.OperatorEquals, "report.pdf"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionAttachmentName, rule_manager.OperatorMatches, `\.pdf$`), email))

	// Negated operators negate the quantifier: true only when NO
	// attachment satisfies the positive form
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionAttachmentName, rule_manager.OperatorNotContains, ".pdf"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionAttachmentName, rule_manager.OperatorNotContains, ".exe"), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionAttachmentName, rule_manager.OperatorNotEquals, "notes.txt"), email))

	// Without attachments the condition never matches, negated or not
	email.Attachments = nil
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionAttachmentName, rule_manager.OperatorContains, ".pdf"), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionAttachmentName, rule_manager.OperatorNotContains, ".pdf"), email))
}

func TestEmailSizeCondition(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()
	size := email.Size()

	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionEmailSize, rule_manager.OperatorGreaterThan, "100"), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionEmailSize, rule_manager.OperatorLessThan, "100"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionEmailSize, rule_manager.OperatorEquals, strconv.Itoa(size)), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionEmailSize, rule_manager.OperatorNotEquals, strconv.Itoa(size)), email))

	inRange := rule_manager.Condition{
		Type:     rule_manager.ConditionEmailSize,
		Operator: rule_manager.OperatorInRange,
		Value:    "100",
		Value2:   "1000000",
	}
	assert.True(t, EvaluateCondition(inRange, email))

	// Bounds are inclusive
	exact := rule_manager.Condition{
		Type:     rule_manager.ConditionEmailSize,
		Operator: rule_manager.OperatorInRange,
		Value:    "2048",
		Value2:   "4096",
	}
	assert.Equal(t, size >= 2048 && size <= 4096, EvaluateCondition(exact, email))

	// Missing or malformed bounds never match
	inRange.Value2 = ""
	assert.False(t, EvaluateCondition(inRange, email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionEmailSize, rule_manager.OperatorGreaterThan, "huge"), email))
}

func TestPriorityCondition(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()

	// No priority headers at all means normal
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionPriority, rule_manager.OperatorNormal, ""), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionPriority, rule_manager.OperatorHigh, ""), email))

	email.SetHeader("Importance", "High")
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionPriority, rule_manager.OperatorHigh, ""), email))

	// X-Priority takes precedence over Importance
	email.SetHeader("X-Priority", "low")
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionPriority, rule_manager.OperatorLow, ""), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionPriority, rule_manager.OperatorHigh, ""), email))
}

func TestReceivedDateCondition(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()

	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionReceivedDate, rule_manager.OperatorAfter, "2026-08-25"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionReceivedDate, rule_manager.OperatorBefore, "2026-08-27"), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionReceivedDate, rule_manager.OperatorAfter, "2026-08-26"), email))

	between := rule_manager.Condition{
		Type:     rule_manager.ConditionReceivedDate,
		Operator: rule_manager.OperatorBetween,
		Value:    "2026-08-25",
		Value2:   "2026-08-27",
	}
	assert.True(t, EvaluateCondition(between, email))

	// Between excludes both bounds
	between.Value = "2026-08-26"
	assert.False(t, EvaluateCondition(between, email))

	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionReceivedDate, rule_manager.OperatorAfter, "not-a-date"), email))
}

func TestReceivedTimeCondition(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()

	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionReceivedTime, rule_manager.OperatorAfter, "09:00"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionReceivedTime, rule_manager.OperatorBefore, "17:00"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionReceivedTime, rule_manager.OperatorEquals, "14:30"), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionReceivedTime, rule_manager.OperatorAfter, "14:30"), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionReceivedTime, rule_manager.OperatorBefore, "2pm"), email))
}

func TestDayOfWeekCondition(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()

	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionDayOfWeek, rule_manager.OperatorEquals, "Wednesday"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionDayOfWeek, rule_manager.OperatorNotEquals, "monday"), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionDayOfWeek, rule_manager.OperatorEquals, "friday"), email))
}

func TestHeaderFieldCondition(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()

	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionHeaderField, rule_manager.OperatorExists, "X-Mailer"), email))
	assert.False(t, EvaluateCondition(cond(rule_manager.ConditionHeaderField, rule_manager.OperatorNotExists, "x-mailer"), email))
	assert.True(t, EvaluateCondition(cond(rule_manager.ConditionHeaderField, rule_manager.OperatorNotExists, "List-Unsubscribe"), email))
}

func TestConditionGroups(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()

	and := rule_manager.ConditionGroup{
		Operator: rule_manager.GroupAnd,
		Conditions: []rule_manager.Condition{
			cond(rule_manager.ConditionFrom, rule_manager.OperatorContains, "boss"),
			cond(rule_manager.ConditionSubject, rule_manager.OperatorContains, "urgent"),
		},
	}
	assert.True(t, EvaluateConditionGroup(and, email))

	and.Conditions = append(and.Conditions, cond(rule_manager.ConditionSubject, rule_manager.OperatorContains, "lottery"))
	assert.False(t, EvaluateConditionGroup(and, email))

	or := rule_manager.ConditionGroup{
		Operator: rule_manager.GroupOr,
		Conditions: []rule_manager.Condition{
			cond(rule_manager.ConditionSubject, rule_manager.OperatorContains, "lottery"),
			cond(rule_manager.ConditionFrom, rule_manager.OperatorContains, "boss"),
		},
	}
	assert.True(t, EvaluateConditionGroup(or, email))

	// Empty groups: vacuously true under AND, false under OR
	assert.True(t, EvaluateConditionGroup(rule_manager.ConditionGroup{Operator: rule_manager.GroupAnd}, email))
	assert.False(t, EvaluateConditionGroup(rule_manager.ConditionGroup{Operator: rule_manager.GroupOr}, email))
}

func TestRuleMatches(t *testing.T) {

	logger = zap.NewExample()

	email := CreateTestEmail()

	rule := rule_manager.NewRule()
	rule.Name = "test"

	// A rule with no condition groups never matches
	assert.False(t, RuleMatches(rule, email))

	rule.ConditionGroups = []rule_manager.ConditionGroup{
		{
			Operator: rule_manager.GroupAnd,
			Conditions: []rule_manager.Condition{
				cond(rule_manager.ConditionSubject, rule_manager.OperatorContains, "lottery"),
			},
		},
		{
			Operator: rule_manager.GroupAnd,
			Conditions: []rule_manager.Condition{
				cond(rule_manager.ConditionSubject, rule_manager.OperatorContains, "urgent"),
			},
		},
	}

	// Groups combine with OR
	assert.True(t, RuleMatches(rule, email))
}
