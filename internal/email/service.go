// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	texttemplate "text/template"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Mailer sends invitation mail. *Service implements it.
type Mailer interface {
	IsConfigured() bool
	SendInviteEmail(to string, invite InviteData) error
}

// SendHTMLEmail sends an HTML email with a plain text alternative
func (s *Service) SendHTMLEmail(to []string, subject, plainBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	// Simple multipart message
	boundary := "boundary-orbit"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", plainBody)
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// InviteData fills the invitation template.
type InviteData struct {
	AppName     string
	InviterName string
	ProjectName string
	Code        string
	ExpiresAt   time.Time
	// Pending is set when the invitee has no account yet.
	Pending bool
}

// Expires renders the expiry date for templates.
func (d InviteData) Expires() string {
	return d.ExpiresAt.UTC().Format("January 2, 2006")
}

// SendInviteEmail sends a project invitation carrying the join code.
func (s *Service) SendInviteEmail(to string, invite InviteData) error {
	if invite.AppName == "" {
		invite.AppName = "Orbit"
	}

	subject := fmt.Sprintf("%s invited you to %s on %s", invite.InviterName, invite.ProjectName, invite.AppName)
	html, err := renderTemplate(inviteEmailTemplate, invite)
	if err != nil {
		return fmt.Errorf("render invite template: %w", err)
	}
	plain, err := renderTextTemplate(inviteTextTemplate, invite)
	if err != nil {
		return fmt.Errorf("render invite text: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, plain, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderTextTemplate(tmpl string, data interface{}) (string, error) {
	t, err := texttemplate.New("email-text").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const inviteTextTemplate = `{{.InviterName}} invited you to join "{{.ProjectName}}" on {{.AppName}}.
{{if .Pending}}
Create your {{.AppName}} account with this address first, then join the team.
{{end}}
Join code: {{.Code}}
The code expires on {{.Expires}}.
`

const inviteEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Join {{.ProjectName}} on {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #5b4bdb; padding-bottom: 10px; margin-bottom: 20px; }
        .code { display: inline-block; padding: 12px 24px; background: #f1efff; color: #3a2fa8; font-family: monospace; font-size: 28px; letter-spacing: 4px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>You're invited to {{.ProjectName}}</h2>

    <p>{{.InviterName}} wants you on the team.</p>
    {{if .Pending}}
    <p>Create your {{.AppName}} account with this email address, then enter the code below under <strong>Join a team</strong>.</p>
    {{else}}
    <p>Open {{.AppName}} and enter the code below under <strong>Join a team</strong>.</p>
    {{end}}
    <p class="code">{{.Code}}</p>

    <p>This code expires on {{.Expires}}.</p>

    <div class="footer">
        <p>If you weren't expecting this invitation, you can safely ignore this email.</p>
    </div>
</body>
</html>`
