package message

import (
	"strings"
	"sync"
	"time"
)

// Attachment is one file carried by an email. Content may be empty when
// the attachment was loaded without its body (e.g. for rule testing).
type Attachment struct {
	Filename    string `json:"filename"`
	Content     []byte `json:"content,omitempty"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// Email is the fully-materialized message the rule engine operates on.
// ID is assigned by the store after persistence and is empty before that.
// Header keys are stored lower-cased; use Header for lookups.
type Email struct {
	ID          string            `json:"id"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text"`
	HTML        string            `json:"html"`
	Headers     map[string]string `json:"headers"`
	Attachments []Attachment      `json:"attachments"`
	ReceivedAt  time.Time         `json:"receivedAt"`
}

// Header returns a header value by case-insensitive name.
func (e *Email) Header(name string) (string, bool) {

	if e.Headers == nil {
		return "", false
	}

	v, ok := e.Headers[strings.ToLower(name)]

	return v, ok
}

// SetHeader stores a header value under its lower-cased name.
func (e *Email) SetHeader(name string, value string) {

	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}

	e.Headers[strings.ToLower(name)] = value
}

// Size is the byte length of both bodies plus all attachment sizes.
func (e *Email) Size() int {

	size := len(e.Text) + len(e.HTML)

	for _, a := range e.Attachments {
		size += a.Size
	}

	return size
}

// Outcome records the result of one rule's action dispatch for one email.
// It is created once per matched rule and never mutated afterward.
type Outcome struct {
	RuleID      string    `json:"ruleId"`
	RuleName    string    `json:"ruleName"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
}

// OutboundMail is the envelope handed to the mail transport by
// forward actions.
type OutboundMail struct {
	From        string
	To          string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Message wraps one email for a single pipeline run.
type Message struct {
	Email         *Email
	MatchedRuleID string
	Outcomes      []*Outcome
}

var messagePool = sync.Pool{
	New: func() interface{} {
		return &Message{}
	},
}

func New() *Message {
	m := messagePool.Get().(*Message)
	m.Reset()
	return m
}

func (m *Message) Reset() {
	m.Email = nil
	m.MatchedRuleID = ""
	m.Outcomes = m.Outcomes[:0]
}

func (m *Message) Release() {
	m.Reset()
	messagePool.Put(m)
}
