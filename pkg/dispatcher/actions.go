package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rulepost/rulepost/pkg/dispatcher/message"
	"github.com/rulepost/rulepost/pkg/dispatcher/rule_manager"
	"go.uber.org/zap"
)

const DefaultWebhookTimeout = 30 * time.Second

// MailTransport sends one outbound message, used by forward actions.
type MailTransport interface {
	SendMail(ctx context.Context, mail *message.OutboundMail) error
}

// BusPublisher publishes one payload to a topic, used by publish
// actions. The connection is shared process-wide and thread-safe.
type BusPublisher interface {
	Connected() bool
	Publish(topic string, payload []byte) error
}

// ActionDispatcher executes the action of a matched rule. Collaborators
// are injected at construction; a missing required config field is a
// configuration error, not a match failure.
type ActionDispatcher struct {
	transport MailTransport
	bus       BusPublisher
	client    *http.Client
	sandbox   *Sandbox
}

func NewActionDispatcher(opts ...func(*ActionDispatcher)) *ActionDispatcher {

	ad := &ActionDispatcher{
		client: &http.Client{
			Timeout: DefaultWebhookTimeout,
		},
		sandbox: NewSandbox(),
	}

	// Apply options
	for _, o := range opts {
		o(ad)
	}

	return ad
}

func WithMailTransport(transport MailTransport) func(*ActionDispatcher) {
	return func(ad *ActionDispatcher) {
		ad.transport = transport
	}
}

func WithBusPublisher(bus BusPublisher) func(*ActionDispatcher) {
	return func(ad *ActionDispatcher) {
		ad.bus = bus
	}
}

func WithHTTPClient(client *http.Client) func(*ActionDispatcher) {
	return func(ad *ActionDispatcher) {
		ad.client = client
	}
}

func WithSandbox(sandbox *Sandbox) func(*ActionDispatcher) {
	return func(ad *ActionDispatcher) {
		ad.sandbox = sandbox
	}
}

// Dispatch executes one action against an email. The returned error is
// recorded by the pipeline as a failed outcome; script errors never
// reach it because the sandbox swallows them before this point.
func (ad *ActionDispatcher) Dispatch(ctx context.Context, action rule_manager.Action, email *message.Email) error {

	switch action.Type {
	case rule_manager.ActionForward:
		if len(action.Config.ForwardTo) == 0 {
			return fmt.Errorf("forward action is missing forwardTo")
		}
		return ad.forward(ctx, email, &ScriptForward{To: action.Config.ForwardTo})

	case rule_manager.ActionWebhook:
		if len(action.Config.WebhookURL) == 0 {
			return fmt.Errorf("webhook action is missing webhookUrl")
		}
		body := []byte(action.Config.Body)
		if len(body) == 0 {
			body = ad.defaultPayload(email)
		}
		return ad.callWebhook(ctx, action.Config.WebhookURL, action.Config.Method, action.Config.Headers, body)

	case rule_manager.ActionPublish:
		if len(action.Config.Topic) == 0 {
			return fmt.Errorf("publish action is missing topic")
		}
		// Without a configured bus the action is a silent no-op
		if ad.bus == nil || !ad.bus.Connected() {
			logger.Debug("No message bus configured, skipping publish action",
				zap.String("topic", action.Config.Topic),
			)
			return nil
		}
		payload := []byte(action.Config.Message)
		if len(payload) == 0 {
			payload = ad.defaultPayload(email)
		}
		return ad.bus.Publish(action.Config.Topic, payload)

	case rule_manager.ActionScript:
		if len(action.Config.Code) == 0 {
			return fmt.Errorf("script action is missing code")
		}
		result := ad.sandbox.Execute(action.Config.Code, email)
		ad.applyScriptResult(ctx, result, email)
		return nil
	}

	return fmt.Errorf("unknown action type: %s", action.Type)
}

func (ad *ActionDispatcher) forward(ctx context.Context, email *message.Email, overrides *ScriptForward) error {

	if ad.transport == nil {
		return fmt.Errorf("no mail transport configured")
	}

	m := &message.OutboundMail{
		From:        email.From,
		To:          overrides.To,
		Subject:     email.Subject,
		Text:        email.Text,
		HTML:        email.HTML,
		Attachments: email.Attachments,
	}

	if len(overrides.Subject) > 0 {
		m.Subject = overrides.Subject
	}
	if len(overrides.Text) > 0 {
		m.Text = overrides.Text
	}
	if len(overrides.HTML) > 0 {
		m.HTML = overrides.HTML
	}

	return ad.transport.SendMail(ctx, m)
}

func (ad *ActionDispatcher) callWebhook(ctx context.Context, url string, method string, headers map[string]string, body []byte) error {

	if len(method) == 0 {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ad.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// applyScriptResult performs the side effects a script asked for.
// Failures here are logged and dropped, matching the sandbox's policy
// of never failing the dispatch on behalf of a script.
func (ad *ActionDispatcher) applyScriptResult(ctx context.Context, result *ScriptResult, email *message.Email) {

	if result.ModifiedEmail != nil {
		modified := result.ModifiedEmail
		if modified.Subject != nil {
			email.Subject = *modified.Subject
		}
		if modified.Text != nil {
			email.Text = *modified.Text
		}
		if modified.HTML != nil {
			email.HTML = *modified.HTML
		}
		if len(modified.To) > 0 {
			email.To = strings.Join(modified.To, ", ")
		}
		for k, v := range modified.Headers {
			email.SetHeader(k, v)
		}
	}

	if result.Forward != nil {
		if len(result.Forward.To) == 0 {
			logger.Warn("Script forward request has no recipient")
		} else if err := ad.forward(ctx, email, result.Forward); err != nil {
			logger.Error("Failed to forward email for script",
				zap.String("to", result.Forward.To),
				zap.Error(err),
			)
		}
	}

	if result.Webhook != nil {
		if len(result.Webhook.URL) == 0 {
			logger.Warn("Script webhook request has no URL")
		} else {
			body := ad.defaultPayload(email)
			if len(result.Webhook.Body) > 0 {
				body = MarshalPayload(result.Webhook.Body)
			}
			err := ad.callWebhook(ctx, result.Webhook.URL, result.Webhook.Method, result.Webhook.Headers, body)
			if err != nil {
				logger.Error("Failed to call webhook for script",
					zap.String("url", result.Webhook.URL),
					zap.Error(err),
				)
			}
		}
	}

	if result.Publish != nil {
		if ad.bus == nil || !ad.bus.Connected() {
			logger.Debug("No message bus configured, skipping script publish",
				zap.String("topic", result.Publish.Topic),
			)
		} else {
			payload := ad.defaultPayload(email)
			if len(result.Publish.Message) > 0 {
				payload = MarshalPayload(result.Publish.Message)
			}
			err := ad.bus.Publish(result.Publish.Topic, payload)
			if err != nil {
				logger.Error("Failed to publish for script",
					zap.String("topic", result.Publish.Topic),
					zap.Error(err),
				)
			}
		}
	}
}

type webhookPayload struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Text       string    `json:"text"`
	HTML       string    `json:"html"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func (ad *ActionDispatcher) defaultPayload(email *message.Email) []byte {

	raw, err := json.Marshal(&webhookPayload{
		From:       email.From,
		To:         email.To,
		Subject:    email.Subject,
		Text:       email.Text,
		HTML:       email.HTML,
		ReceivedAt: email.ReceivedAt,
	})
	if err != nil {
		return []byte("{}")
	}

	return raw
}
