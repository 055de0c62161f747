package dispatcher

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/rulepost/rulepost/pkg/dispatcher/message"
	"go.uber.org/zap"
)

const (
	DefaultScriptTimeout      = time.Second
	DefaultScriptMaxStackSize = 2048
)

// ScriptModifiedEmail overrides fields of the in-memory email for the
// remainder of the current dispatch. Nil fields are left untouched.
type ScriptModifiedEmail struct {
	Subject *string           `json:"subject"`
	Text    *string           `json:"text"`
	HTML    *string           `json:"html"`
	To      []string          `json:"to"`
	Headers map[string]string `json:"headers"`
}

type ScriptForward struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

type ScriptWebhook struct {
	URL     string                 `json:"url"`
	Method  string                 `json:"method"`
	Headers map[string]string      `json:"headers"`
	Body    map[string]interface{} `json:"body"`
}

type ScriptPublish struct {
	Topic   string                 `json:"topic"`
	Message map[string]interface{} `json:"message"`
}

// ScriptResult describes the side effects a script asked for. Absent
// fields mean the corresponding side effect is skipped.
type ScriptResult struct {
	ModifiedEmail *ScriptModifiedEmail `json:"modifiedEmail"`
	Forward       *ScriptForward       `json:"forward"`
	Webhook       *ScriptWebhook       `json:"webhook"`
	Publish       *ScriptPublish       `json:"bus"`
}

type scriptAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// scriptEmail is the read-only snapshot handed to scripts. Attachment
// bodies are not exposed.
type scriptEmail struct {
	From        string             `json:"from"`
	To          string             `json:"to"`
	Subject     string             `json:"subject"`
	Text        string             `json:"text"`
	HTML        string             `json:"html"`
	Headers     map[string]string  `json:"headers"`
	Attachments []scriptAttachment `json:"attachments"`
	Date        string             `json:"date"`
}

// Sandbox executes untrusted rule scripts in an embedded interpreter.
// Each invocation gets a fresh runtime with no ambient network,
// filesystem or process bindings, a hard wall-clock interrupt and a
// bounded call stack. Script failures of any kind degrade to an empty
// result; they are logged but never surfaced as dispatch failures.
type Sandbox struct {
	timeout      time.Duration
	maxStackSize int
}

func NewSandbox(opts ...func(*Sandbox)) *Sandbox {

	s := &Sandbox{
		timeout:      DefaultScriptTimeout,
		maxStackSize: DefaultScriptMaxStackSize,
	}

	// Apply options
	for _, o := range opts {
		o(s)
	}

	return s
}

func WithScriptTimeout(timeout time.Duration) func(*Sandbox) {
	return func(s *Sandbox) {
		s.timeout = timeout
	}
}

// Execute runs the script against a snapshot of the email and returns
// the structured result. It never returns an error: a throw, a syntax
// error, a timeout or an unexportable return value all yield an empty
// result.
func (s *Sandbox) Execute(code string, email *message.Email) *ScriptResult {

	// One runtime per invocation, never reused across messages
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	vm.SetMaxCallStackSize(s.maxStackSize)

	scriptLogger := logger.Named("script")

	console := vm.NewObject()
	console.Set("log", func(args ...interface{}) {
		scriptLogger.Info(fmt.Sprint(args...))
	})
	console.Set("error", func(args ...interface{}) {
		scriptLogger.Error(fmt.Sprint(args...))
	})
	vm.Set("console", console)

	vm.Set("email", s.snapshot(email))

	timer := time.AfterFunc(s.timeout, func() {
		vm.Interrupt("script execution timed out")
	})
	defer timer.Stop()

	value, err := vm.RunString("(function() {\n" + code + "\n})()")
	if err != nil {
		scriptLogger.Warn("Script execution failed",
			zap.Error(err),
		)
		return &ScriptResult{}
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return &ScriptResult{}
	}

	var result ScriptResult
	err = vm.ExportTo(value, &result)
	if err != nil {
		scriptLogger.Warn("Script returned an unusable result",
			zap.Error(err),
		)
		return &ScriptResult{}
	}

	return &result
}

func (s *Sandbox) snapshot(email *message.Email) *scriptEmail {

	headers := make(map[string]string, len(email.Headers))
	for k, v := range email.Headers {
		headers[k] = v
	}

	attachments := make([]scriptAttachment, 0, len(email.Attachments))
	for _, a := range email.Attachments {
		attachments = append(attachments, scriptAttachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}

	return &scriptEmail{
		From:        email.From,
		To:          email.To,
		Subject:     email.Subject,
		Text:        email.Text,
		HTML:        email.HTML,
		Headers:     headers,
		Attachments: attachments,
		Date:        email.ReceivedAt.Format(time.RFC3339),
	}
}

// MarshalPayload renders a script-provided object as JSON, falling back
// to an empty object on failure.
func MarshalPayload(payload map[string]interface{}) []byte {

	raw, err := json.Marshal(payload)
	if err != nil {
		return []byte("{}")
	}

	return raw
}
