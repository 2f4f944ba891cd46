package app

import (
	"context"

	"github.com/sirupsen/logrus"

	"proppy/api/internal/email"
	"proppy/api/internal/logging"
)

// ShareMail is the message sent to a proposal's recipients.
type ShareMail struct {
	To       []string
	Subject  string
	FromName string
	Body     string
	ReplyTo  string
	Link     string
}

// Mailer delivers outgoing mail. Delivery errors are logged by the caller
// and never fail the request that triggered them.
type Mailer interface {
	SendShare(ctx context.Context, mail ShareMail) error
	NotifyTeam(ctx context.Context, companyID, subject, body string) error
}

// LogMailer writes messages to the service log instead of sending them.
type LogMailer struct{}

func (LogMailer) SendShare(_ context.Context, mail ShareMail) error {
	logging.Log.WithFields(logrus.Fields{
		"to":      mail.To,
		"subject": mail.Subject,
		"link":    mail.Link,
	}).Info("share email")
	return nil
}

func (LogMailer) NotifyTeam(_ context.Context, companyID, subject, body string) error {
	logging.Log.WithFields(logrus.Fields{
		"company": companyID,
		"subject": subject,
	}).Info(body)
	return nil
}

// TeamDirectory lists where team notifications go.
type TeamDirectory interface {
	ListTeamEmails(ctx context.Context, companyID string) ([]string, error)
}

// SMTPMailer delivers share mail and team notifications over SMTP.
type SMTPMailer struct {
	sender *email.Service
	team   TeamDirectory
}

func NewSMTPMailer(sender *email.Service, team TeamDirectory) *SMTPMailer {
	return &SMTPMailer{sender: sender, team: team}
}

func (m *SMTPMailer) SendShare(_ context.Context, mail ShareMail) error {
	return m.sender.SendProposal(mail.To, email.Proposal{
		FromName: mail.FromName,
		ReplyTo:  mail.ReplyTo,
		Subject:  mail.Subject,
		Body:     mail.Body,
		Link:     mail.Link,
	})
}

func (m *SMTPMailer) NotifyTeam(ctx context.Context, companyID, subject, body string) error {
	to, err := m.team.ListTeamEmails(ctx, companyID)
	if err != nil {
		return err
	}
	return m.sender.SendNotification(to, subject, body)
}

func (s *Service) notifyTeam(companyID, subject, body string) {
	logging.SafeGo("mail.team", func() {
		if err := s.mailer.NotifyTeam(context.Background(), companyID, subject, body); err != nil {
			logging.Log.WithError(err).WithField("company", companyID).Warn("team notification failed")
		}
	})
}
