package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/inkwell/server/internal/shared/config"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends email through an SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
	logger *zap.Logger
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(cfg *config.EmailConfig, logger *zap.Logger) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
		from:   cfg.FromEmail,
		logger: logger,
	}
}

func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	if err := s.dialer.DialAndSend(m); err != nil {
		s.logger.Error("failed to send email",
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		return fmt.Errorf("send email: %w", err)
	}

	s.logger.Info("email sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// NoOpSender logs instead of sending. It is used when SMTP is not configured.
type NoOpSender struct {
	logger *zap.Logger
}

func NewNoOpSender(logger *zap.Logger) *NoOpSender {
	return &NoOpSender{logger: logger}
}

func (s *NoOpSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("email (no-op)", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

// NewSender returns an SMTP sender when a host is configured.
func NewSender(cfg *config.EmailConfig, logger *zap.Logger) Sender {
	if cfg.SMTPHost == "" {
		return NewNoOpSender(logger)
	}
	return NewSMTPSender(cfg, logger)
}

type quotaEmail struct {
	Name         string
	Feature      string
	CurrentUsage int64
	Limit        int64
	Remaining    int64
	Percentage   int
	Plan         string
	URL          string
}

func renderQuotaWarning(to string, d quotaEmail) (Message, error) {
	subject := fmt.Sprintf("Quota Warning: %d%% of Your %s Limit Used", d.Percentage, d.Feature)
	text := fmt.Sprintf("Hi %s,\n\nYou've used %d%% of your monthly %s quota (%d / %d, %d remaining).\n\n"+
		"Upgrade or wait for the monthly reset: %s\n", d.Name, d.Percentage, d.Feature, d.CurrentUsage, d.Limit, d.Remaining, d.URL)
	return render(to, subject, text, warningTemplate, d)
}

func renderQuotaExceeded(to string, d quotaEmail) (Message, error) {
	subject := fmt.Sprintf("Action Required: %s Quota Exceeded", d.Feature)
	text := fmt.Sprintf("Hi %s,\n\nYou've reached your monthly %s quota (%d / %d).\n\n"+
		"Upgrade to keep going, or wait for the monthly reset: %s\n", d.Name, d.Feature, d.CurrentUsage, d.Limit, d.URL)
	return render(to, subject, text, exceededTemplate, d)
}

func renderQuotaReset(to string, d quotaEmail) (Message, error) {
	subject := "Your Monthly Quota Has Been Reset"
	text := fmt.Sprintf("Hi %s,\n\nYour monthly quota has been reset. You have full access to your %s plan again.\n\n"+
		"View your usage: %s\n", d.Name, d.Plan, d.URL)
	return render(to, subject, text, resetTemplate, d)
}

func render(to, subject, text string, tmpl *template.Template, data quotaEmail) (Message, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render template: %w", err)
	}
	return Message{To: to, Subject: subject, HTML: buf.String(), Text: text}, nil
}

func featureTitle(f string) string {
	if f == "" {
		return f
	}
	return strings.ToUpper(f[:1]) + f[1:]
}

const emailHead = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .box { padding: 20px; margin: 20px 0; border-radius: 5px; background: #f9fafb; }
        .button { display: inline-block; padding: 12px 24px; background-color: #4F46E5; color: white; text-decoration: none; border-radius: 6px; }
        .footer { margin-top: 30px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
`

const emailFoot = `
        <div class="footer">
            <p>This is an automated notification. Quotas reset at the start of each billing period.</p>
        </div>
    </div>
</body>
</html>
`

var warningTemplate = template.Must(template.New("warning").Parse(emailHead + `
        <h1>Quota Warning</h1>
        <p>Hi {{.Name}},</p>
        <p>You've used <strong>{{.Percentage}}%</strong> of your monthly {{.Feature}} quota.</p>
        <div class="box">
            <strong>{{.Feature}}:</strong> {{.CurrentUsage}} / {{.Limit}}<br>
            <strong>Remaining:</strong> {{.Remaining}}
        </div>
        <p><a href="{{.URL}}" class="button">View Usage &amp; Upgrade</a></p>
` + emailFoot))

var exceededTemplate = template.Must(template.New("exceeded").Parse(emailHead + `
        <h1>Quota Exceeded</h1>
        <p>Hi {{.Name}},</p>
        <p>You've reached your monthly {{.Feature}} quota.</p>
        <div class="box">
            <strong>{{.Feature}}:</strong> {{.CurrentUsage}} / {{.Limit}}
        </div>
        <p>Upgrade your plan to continue, or wait until your quota resets.</p>
        <p><a href="{{.URL}}" class="button">Upgrade Plan</a></p>
` + emailFoot))

var resetTemplate = template.Must(template.New("reset").Parse(emailHead + `
        <h1>Quota Reset</h1>
        <p>Hi {{.Name}},</p>
        <div class="box">
            Your monthly quota has been reset, and you have full access to all features in your {{.Plan}} plan.
        </div>
        <p><a href="{{.URL}}" class="button">View Your Usage</a></p>
` + emailFoot))
