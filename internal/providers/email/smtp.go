package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
)

//go:embed templates/*.html
var templateFS embed.FS

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg  Config
	tmpl *template.Template
}

func NewSMTP(cfg Config) (*SMTPProvider, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	return &SMTPProvider{cfg: cfg, tmpl: tmpl}, nil
}

func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", to[0], subject, mime, htmlBody))

	return smtp.SendMail(addr, auth, p.cfg.From, to, msg)
}

func (p *SMTPProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	var body bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&body, templateName+".html", data); err != nil {
		return fmt.Errorf("failed to execute template %s: %w", templateName, err)
	}

	subject := defaultSubject(templateName, data)
	if raw, ok := data["subject"].(string); ok && raw != "" {
		subject = raw
	}

	return p.Send(ctx, to, subject, body.String())
}

func defaultSubject(templateName string, data map[string]any) string {
	orgName, _ := data["org_name"].(string)
	switch templateName {
	case TemplateInvitation:
		if orgName != "" {
			return fmt.Sprintf("You're invited to join %s", orgName)
		}
		return "You're invited to join a team"
	case TemplateReminder:
		if orgName != "" {
			return fmt.Sprintf("Reminder: your invitation to %s is waiting", orgName)
		}
		return "Reminder: your invitation is waiting"
	case TemplateNotification:
		if orgName != "" {
			return fmt.Sprintf("You've been added to %s", orgName)
		}
		return "You've been added to a team"
	case TemplateActivation:
		return "Activate your account"
	default:
		return "Notification"
	}
}
