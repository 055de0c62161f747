package dispatcher

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rulepost/rulepost/pkg/dispatcher/message"
	"github.com/rulepost/rulepost/pkg/dispatcher/rule_manager"
	"go.uber.org/zap"
)

// EvaluateCondition tests one condition against an email. It never fails:
// a malformed pattern, date, time or number supplied by the rule author
// is logged and treated as a non-match.
func EvaluateCondition(condition rule_manager.Condition, email *message.Email) bool {

	switch condition.Type {
	case rule_manager.ConditionFrom,
		rule_manager.ConditionTo,
		rule_manager.ConditionSubject,
		rule_manager.ConditionContent:
		return evaluateTextCondition(condition, email)

	case rule_manager.ConditionHasAttachment:
		switch condition.Operator {
		case rule_manager.OperatorTrue:
			return len(email.Attachments) > 0
		case rule_manager.OperatorFalse:
			return len(email.Attachments) == 0
		}
		return false

	case rule_manager.ConditionAttachmentName:
		return evaluateAttachmentName(condition, email)

	case rule_manager.ConditionEmailSize:
		return evaluateEmailSize(condition, email)

	case rule_manager.ConditionPriority:
		priority, ok := email.Header("x-priority")
		if !ok {
			priority, ok = email.Header("importance")
		}
		if !ok {
			priority = "normal"
		}
		return strings.ToLower(priority) == string(condition.Operator)

	case rule_manager.ConditionReceivedDate:
		return evaluateReceivedDate(condition, email)

	case rule_manager.ConditionReceivedTime:
		return evaluateReceivedTime(condition, email)

	case rule_manager.ConditionDayOfWeek:
		day := strings.ToLower(email.ReceivedAt.Weekday().String())
		value := strings.ToLower(condition.Value)
		switch condition.Operator {
		case rule_manager.OperatorEquals:
			return day == value
		case rule_manager.OperatorNotEquals:
			return day != value
		}
		return false

	case rule_manager.ConditionHeaderField:
		_, exists := email.Header(condition.Value)
		switch condition.Operator {
		case rule_manager.OperatorExists:
			return exists
		case rule_manager.OperatorNotExists:
			return !exists
		}
		return false
	}

	return false
}

func evaluateTextCondition(condition rule_manager.Condition, email *message.Email) bool {

	var field string
	switch condition.Type {
	case rule_manager.ConditionFrom:
		field = email.From
	case rule_manager.ConditionTo:
		field = email.To
	case rule_manager.ConditionSubject:
		field = email.Subject
	case rule_manager.ConditionContent:
		field = email.Text
	}

	emailValue := strings.ToLower(field)
	testValue := strings.ToLower(condition.Value)

	switch condition.Operator {
	case rule_manager.OperatorContains:
		return strings.Contains(emailValue, testValue)
	case rule_manager.OperatorNotContains:
		return !strings.Contains(emailValue, testValue)
	case rule_manager.OperatorEquals:
		return emailValue == testValue
	case rule_manager.OperatorNotEquals:
		return emailValue != testValue
	case rule_manager.OperatorStartsWith:
		return strings.HasPrefix(emailValue, testValue)
	case rule_manager.OperatorEndsWith:
		return strings.HasSuffix(emailValue, testValue)
	case rule_manager.OperatorMatches:
		re, err := regexp.Compile(testValue)
		if err != nil {
			logger.Warn("Invalid regex pattern in condition",
				zap.String("pattern", condition.Value),
				zap.Error(err),
			)
			return false
		}
		return re.MatchString(emailValue)
	}

	return false
}

// evaluateAttachmentName applies the operator as "does ANY attachment
// name satisfy". The negated operators negate the whole quantifier, so
// notContains is true only when NO attachment name contains the value.
func evaluateAttachmentName(condition rule_manager.Condition, email *message.Email) bool {

	if len(email.Attachments) == 0 {
		return false
	}

	testValue := strings.ToLower(condition.Value)

	names := make([]string, 0, len(email.Attachments))
	for _, a := range email.Attachments {
		if len(a.Filename) == 0 {
			continue
		}
		names = append(names, strings.ToLower(a.Filename))
	}

	anyMatches := func(fn func(string) bool) bool {
		for _, name := range names {
			if fn(name) {
				return true
			}
		}
		return false
	}

	switch condition.Operator {
	case rule_manager.OperatorContains:
		return anyMatches(func(name string) bool { return strings.Contains(name, testValue) })
	case rule_manager.OperatorNotContains:
		return !anyMatches(func(name string) bool { return strings.Contains(name, testValue) })
	case rule_manager.OperatorEquals:
		return anyMatches(func(name string) bool { return name == testValue })
	case rule_manager.OperatorNotEquals:
		return !anyMatches(func(name string) bool { return name == testValue })
	case rule_manager.OperatorMatches:
		re, err := regexp.Compile(testValue)
		if err != nil {
			logger.Warn("Invalid regex pattern in condition",
				zap.String("pattern", condition.Value),
				zap.Error(err),
			)
			return false
		}
		return anyMatches(re.MatchString)
	}

	return false
}

func evaluateEmailSize(condition rule_manager.Condition, email *message.Email) bool {

	size := email.Size()

	testSize, err := strconv.Atoi(condition.Value)
	if err != nil {
		logger.Warn("Invalid size value in condition",
			zap.String("value", condition.Value),
		)
		return false
	}

	switch condition.Operator {
	case rule_manager.OperatorGreaterThan:
		return size > testSize
	case rule_manager.OperatorLessThan:
		return size < testSize
	case rule_manager.OperatorEquals:
		return size == testSize
	case rule_manager.OperatorNotEquals:
		return size != testSize
	case rule_manager.OperatorInRange:
		if len(condition.Value2) == 0 {
			return false
		}
		testSize2, err := strconv.Atoi(condition.Value2)
		if err != nil {
			logger.Warn("Invalid size value in condition",
				zap.String("value", condition.Value2),
			)
			return false
		}
		return size >= testSize && size <= testSize2
	}

	return false
}

func evaluateReceivedDate(condition rule_manager.Condition, email *message.Email) bool {

	// Date-only comparison
	y, m, d := email.ReceivedAt.Date()
	emailDate := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	testDate, err := time.Parse(time.DateOnly, condition.Value)
	if err != nil {
		logger.Warn("Invalid date value in condition",
			zap.String("value", condition.Value),
		)
		return false
	}

	switch condition.Operator {
	case rule_manager.OperatorBefore:
		return emailDate.Before(testDate)
	case rule_manager.OperatorAfter:
		return emailDate.After(testDate)
	case rule_manager.OperatorBetween:
		if len(condition.Value2) == 0 {
			return false
		}
		testDate2, err := time.Parse(time.DateOnly, condition.Value2)
		if err != nil {
			logger.Warn("Invalid date value in condition",
				zap.String("value", condition.Value2),
			)
			return false
		}
		// Both bounds are exclusive
		return emailDate.After(testDate) && emailDate.Before(testDate2)
	}

	return false
}

func evaluateReceivedTime(condition rule_manager.Condition, email *message.Email) bool {

	emailTime := email.ReceivedAt.Hour()*60 + email.ReceivedAt.Minute()

	testTime, err := parseMinutes(condition.Value)
	if err != nil {
		logger.Warn("Invalid time value in condition",
			zap.String("value", condition.Value),
		)
		return false
	}

	switch condition.Operator {
	case rule_manager.OperatorBefore:
		return emailTime < testTime
	case rule_manager.OperatorAfter:
		return emailTime > testTime
	case rule_manager.OperatorEquals:
		return emailTime == testTime
	}

	return false
}

// parseMinutes converts "HH:MM" to minutes since midnight.
func parseMinutes(value string) (int, error) {

	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}

	return t.Hour()*60 + t.Minute(), nil
}

// EvaluateConditionGroup applies the group operator across its
// conditions. An empty group is vacuously true under AND and false
// under OR.
func EvaluateConditionGroup(group rule_manager.ConditionGroup, email *message.Email) bool {

	if group.Operator == rule_manager.GroupAnd {
		for _, condition := range group.Conditions {
			if !EvaluateCondition(condition, email) {
				return false
			}
		}
		return true
	}

	// OR
	for _, condition := range group.Conditions {
		if EvaluateCondition(condition, email) {
			return true
		}
	}

	return false
}

// RuleMatches reports whether any of the rule's condition groups
// matches the email.
func RuleMatches(rule *rule_manager.Rule, email *message.Email) bool {

	for _, group := range rule.ConditionGroups {
		if EvaluateConditionGroup(group, email) {
			return true
		}
	}

	return false
}
