// Package email sends proposal mail over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
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

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

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

// Proposal is the content of a share email. FromName overrides the
// configured sender name; ReplyTo points answers at the proposal author.
type Proposal struct {
	FromName string
	ReplyTo  string
	Subject  string
	Body     string
	Link     string
}

// SendProposal mails the share link of a proposal to its recipients.
func (s *Service) SendProposal(to []string, p Proposal) error {
	html, err := renderTemplate(proposalEmailTemplate, p)
	if err != nil {
		return fmt.Errorf("render proposal template: %w", err)
	}
	text := p.Body + "\r\n\r\n" + p.Link + "\r\n"
	return s.sendMultipart(to, p.FromName, p.ReplyTo, p.Subject, text, html)
}

// SendNotification sends a plain text notice to the team.
func (s *Service) SendNotification(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return nil
	}

	var msg bytes.Buffer
	s.writeHeaders(&msg, to, "", "", subject)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", body)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

func (s *Service) sendMultipart(to []string, fromName, replyTo, subject, text, html string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	boundary := "boundary-proppy"

	var msg bytes.Buffer
	s.writeHeaders(&msg, to, fromName, replyTo, subject)
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", text)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", html)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

func (s *Service) writeHeaders(msg *bytes.Buffer, to []string, fromName, replyTo, subject string) {
	if fromName == "" {
		fromName = s.config.FromName
	}
	from := s.config.From
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", headerSafe(fromName), s.config.From)
	}
	fmt.Fprintf(msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(msg, "From: %s\r\n", from)
	if replyTo != "" {
		fmt.Fprintf(msg, "Reply-To: %s\r\n", headerSafe(replyTo))
	}
	fmt.Fprintf(msg, "Subject: %s\r\n", headerSafe(subject))
	fmt.Fprintf(msg, "MIME-Version: 1.0\r\n")
}

// headerSafe drops line breaks so user input cannot add headers.
func headerSafe(value string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
}

func renderTemplate(tmpl string, data any) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const proposalEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .link { word-break: break-all; color: #0066cc; }
        .body { white-space: pre-line; }
    </style>
</head>
<body>
    <p class="body">{{.Body}}</p>

    <p>
        <a href="{{.Link}}" class="button">View proposal</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.Link}}</p>
</body>
</html>`
