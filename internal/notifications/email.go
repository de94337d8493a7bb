package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/aquapure/api/internal/domain"
)

// RecipientResolver maps a user ID to the address notifications are sent to.
type RecipientResolver func(ctx context.Context, userID string) (email, name string, err error)

type sendgridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailSinkConfig configures the SendGrid email sink.
type EmailSinkConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Templates maps event types to SendGrid dynamic template IDs. Events
	// without a template are skipped silently.
	Templates map[domain.EventType]string
	Resolver  RecipientResolver
	Client    sendgridAPI
}

// EmailSink delivers lifecycle notifications through SendGrid dynamic templates.
// Rendering happens on the SendGrid side; the sink only supplies template data.
type EmailSink struct {
	client    sendgridAPI
	from      *mail.Email
	templates map[domain.EventType]string
	resolver  RecipientResolver
}

// NewEmailSink constructs the sink from the given configuration.
func NewEmailSink(cfg EmailSinkConfig) (*EmailSink, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("notifications: recipient resolver is required")
	}
	fromEmail := strings.TrimSpace(cfg.FromEmail)
	if fromEmail == "" {
		return nil, errors.New("notifications: from address is required")
	}

	client := cfg.Client
	if client == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("notifications: sendgrid api key is required")
		}
		client = sendgrid.NewSendClient(apiKey)
	}

	templates := make(map[domain.EventType]string, len(cfg.Templates))
	for eventType, templateID := range cfg.Templates {
		if id := strings.TrimSpace(templateID); id != "" {
			templates[eventType] = id
		}
	}

	return &EmailSink{
		client:    client,
		from:      mail.NewEmail(strings.TrimSpace(cfg.FromName), fromEmail),
		templates: templates,
		resolver:  cfg.Resolver,
	}, nil
}

// HandleEvent sends the templated email for the event when one is configured.
func (s *EmailSink) HandleEvent(ctx context.Context, event domain.LifecycleEvent) error {
	if s == nil {
		return errors.New("notifications: email sink is nil")
	}

	templateID, ok := s.templates[event.Type]
	if !ok {
		return nil
	}
	if strings.TrimSpace(event.UserID) == "" {
		return nil
	}

	address, name, err := s.resolver(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient %s: %w", event.UserID, err)
	}
	if strings.TrimSpace(address) == "" {
		return nil
	}

	message := mail.NewV3Mail()
	message.SetFrom(s.from)
	message.SetTemplateID(templateID)

	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail(name, address))
	personalization.SetDynamicTemplateData("eventType", string(event.Type))
	personalization.SetDynamicTemplateData("entityId", event.EntityID)
	if event.ToStatus != "" {
		personalization.SetDynamicTemplateData("status", event.ToStatus)
	}
	if event.Reason != "" {
		personalization.SetDynamicTemplateData("reason", event.Reason)
	}
	for key, value := range event.Payload {
		personalization.SetDynamicTemplateData(key, value)
	}
	message.AddPersonalizations(personalization)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp != nil && resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	return nil
}
