package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rulepost/rulepost/pkg/dispatcher"
	"github.com/rulepost/rulepost/pkg/dispatcher/rule_manager"
)

// CreateRule inserts a new rule, assigning its id and creation time.
func (s *Store) CreateRule(ctx context.Context, rule *rule_manager.Rule) error {

	if len(rule.ID) == 0 {
		rule.ID = uuid.New().String()
	}

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}

	groups, action, err := encodeRule(rule)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, name, is_active, condition_groups, action, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rule.ID, rule.Name, rule.IsActive, groups, action, rule.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	return nil
}

func (s *Store) UpdateRule(ctx context.Context, rule *rule_manager.Rule) error {

	groups, action, err := encodeRule(rule)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE rules
		SET name = ?, is_active = ?, condition_groups = ?, action = ?
		WHERE id = ?
	`, rule.Name, rule.IsActive, groups, action, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {

	_, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (*rule_manager.Rule, error) {

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, is_active, condition_groups, action, created_at
		FROM rules
		WHERE id = ?
	`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}

	return rule, nil
}

// ListRules returns all rules in creation order.
func (s *Store) ListRules(ctx context.Context) ([]*rule_manager.Rule, error) {
	return s.queryRules(ctx, `
		SELECT id, name, is_active, condition_groups, action, created_at
		FROM rules
		ORDER BY created_at
	`)
}

// ActiveRules returns the enabled rules in creation order. This is the
// rule source consumed by the dispatcher.
func (s *Store) ActiveRules(ctx context.Context) ([]*rule_manager.Rule, error) {
	return s.queryRules(ctx, `
		SELECT id, name, is_active, condition_groups, action, created_at
		FROM rules
		WHERE is_active = 1
		ORDER BY created_at
	`)
}

func (s *Store) queryRules(ctx context.Context, query string) ([]*rule_manager.Rule, error) {

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*rule_manager.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func encodeRule(rule *rule_manager.Rule) (string, string, error) {

	groups, err := json.Marshal(rule.ConditionGroups)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode condition groups: %w", err)
	}

	action, err := json.Marshal(&rule.Action)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode action: %w", err)
	}

	return dispatcher.BytesToString(groups), dispatcher.BytesToString(action), nil
}

func scanRule(row scanner) (*rule_manager.Rule, error) {

	rule := rule_manager.NewRule()
	var groups, action string
	var createdAt int64

	err := row.Scan(&rule.ID, &rule.Name, &rule.IsActive, &groups, &action, &createdAt)
	if err != nil {
		return nil, err
	}

	// Parse JSON columns once, here at the store boundary
	if err := json.Unmarshal(dispatcher.StrToBytes(groups), &rule.ConditionGroups); err != nil {
		return nil, fmt.Errorf("failed to decode condition groups: %w", err)
	}

	if err := json.Unmarshal(dispatcher.StrToBytes(action), &rule.Action); err != nil {
		return nil, fmt.Errorf("failed to decode action: %w", err)
	}

	rule.CreatedAt = time.Unix(createdAt, 0)

	return rule, nil
}
