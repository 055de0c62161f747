package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rulepost/rulepost/pkg/dispatcher"
	"github.com/rulepost/rulepost/pkg/dispatcher/message"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const DefaultPath = "./data/rulepost.db"

const schema = `
CREATE TABLE IF NOT EXISTS emails (
	id TEXT PRIMARY KEY,
	sender TEXT NOT NULL,
	recipients TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	body_text TEXT NOT NULL DEFAULT '',
	body_html TEXT NOT NULL DEFAULT '',
	headers TEXT NOT NULL DEFAULT '{}',
	attachments TEXT NOT NULL DEFAULT '[]',
	received_at INTEGER NOT NULL,
	processed_by_rules INTEGER NOT NULL DEFAULT 0,
	processed_by_rule_id TEXT,
	processed_by_rule_name TEXT
);

CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	condition_groups TEXT NOT NULL DEFAULT '[]',
	action TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_outcomes (
	id TEXT PRIMARY KEY,
	email_id TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	rule_name TEXT NOT NULL,
	success INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	processed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_created_at ON rules(created_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_email_id ON processing_outcomes(email_id);
CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at);
`

// Store persists emails, rules and processing outcomes in SQLite.
// Condition groups and actions are stored as JSON columns and parsed
// into structured types here at the boundary, never mid-pipeline.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(l *zap.Logger) (*Store, error) {

	viper.SetDefault("store.path", DefaultPath)
	path := viper.GetString("store.path")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: l.Named("Store"),
	}

	s.logger.Info("Store opened",
		zap.String("path", path),
	)

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveEmail inserts a new email and assigns its id.
func (s *Store) SaveEmail(ctx context.Context, email *message.Email) error {

	if len(email.ID) == 0 {
		email.ID = uuid.New().String()
	}

	headers, err := json.Marshal(email.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}

	attachments, err := json.Marshal(email.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO emails (id, sender, recipients, subject, body_text, body_html, headers, attachments, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, email.ID, email.From, email.To, email.Subject, email.Text, email.HTML,
		dispatcher.BytesToString(headers), dispatcher.BytesToString(attachments), email.ReceivedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save email: %w", err)
	}

	return nil
}

func (s *Store) GetEmail(ctx context.Context, id string) (*message.Email, error) {

	row := s.db.QueryRowContext(ctx, `
		SELECT id, sender, recipients, subject, body_text, body_html, headers, attachments, received_at
		FROM emails
		WHERE id = ?
	`, id)

	email, err := scanEmail(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query email: %w", err)
	}

	return email, nil
}

func (s *Store) ListEmails(ctx context.Context, limit int) ([]*message.Email, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, recipients, subject, body_text, body_html, headers, attachments, received_at
		FROM emails
		ORDER BY received_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query emails: %w", err)
	}
	defer rows.Close()

	emails := make([]*message.Email, 0)
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}

	return emails, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEmail(row scanner) (*message.Email, error) {

	var email message.Email
	var headers, attachments string
	var receivedAt int64

	err := row.Scan(&email.ID, &email.From, &email.To, &email.Subject, &email.Text, &email.HTML,
		&headers, &attachments, &receivedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(dispatcher.StrToBytes(headers), &email.Headers); err != nil {
		return nil, fmt.Errorf("failed to decode headers: %w", err)
	}

	if err := json.Unmarshal(dispatcher.StrToBytes(attachments), &email.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}

	email.ReceivedAt = time.Unix(receivedAt, 0)

	return &email, nil
}

// UpdateEmailRuleStatus records which rule processed an email. An empty
// rule id clears any previous association and marks the email as not
// processed by rules.
func (s *Store) UpdateEmailRuleStatus(ctx context.Context, emailID string, ruleID string, ruleName string) error {

	if len(ruleID) == 0 {
		_, err := s.db.ExecContext(ctx, `
			UPDATE emails
			SET processed_by_rules = 0, processed_by_rule_id = NULL, processed_by_rule_name = NULL
			WHERE id = ?
		`, emailID)
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE emails
		SET processed_by_rules = 1, processed_by_rule_id = ?, processed_by_rule_name = ?
		WHERE id = ?
	`, ruleID, ruleName, emailID)

	return err
}

// RecordOutcome appends one processing outcome for an email. Outcomes
// are written once and never updated.
func (s *Store) RecordOutcome(ctx context.Context, emailID string, outcome *message.Outcome) error {

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_outcomes (id, email_id, rule_id, rule_name, success, error, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), emailID, outcome.RuleID, outcome.RuleName, outcome.Success, outcome.Error,
		outcome.ProcessedAt.Unix())

	return err
}

func (s *Store) ListOutcomes(ctx context.Context, emailID string) ([]*message.Outcome, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, rule_name, success, error, processed_at
		FROM processing_outcomes
		WHERE email_id = ?
		ORDER BY processed_at
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]*message.Outcome, 0)
	for rows.Next() {
		var outcome message.Outcome
		var processedAt int64
		err := rows.Scan(&outcome.RuleID, &outcome.RuleName, &outcome.Success, &outcome.Error, &processedAt)
		if err != nil {
			return nil, err
		}
		outcome.ProcessedAt = time.Unix(processedAt, 0)
		outcomes = append(outcomes, &outcome)
	}

	return outcomes, rows.Err()
}
