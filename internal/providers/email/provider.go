package email

import "context"

// Template names understood by SendTemplate.
const (
	TemplateInvitation   = "invitation"
	TemplateReminder     = "reminder"
	TemplateNotification = "notification"
	TemplateActivation   = "activation"
)

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (p *NoOpProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	return nil
}
