package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type sentMail struct {
	from string
	to   []string
	msg  string
}

func capture(svc *Service) *[]sentMail {
	var sent []sentMail
	svc.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{from: from, to: to, msg: string(msg)})
		return nil
	}
	return &sent
}

func configured() Config {
	return Config{Host: "smtp.example.com", Port: "587", From: "noreply@proppy.test", FromName: "Proppy"}
}

func TestSendProposal(t *testing.T) {
	svc := NewService(configured())
	sent := capture(svc)

	err := svc.SendProposal([]string{"client@example.com"}, Proposal{
		FromName: "Alice at Acme",
		ReplyTo:  "alice@acme.test",
		Subject:  "Your proposal",
		Body:     "Have a look",
		Link:     "https://proppy.test/p/abc",
	})
	if err != nil {
		t.Fatalf("SendProposal failed: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(*sent))
	}
	msg := (*sent)[0].msg
	for _, want := range []string{
		"From: Alice at Acme <noreply@proppy.test>",
		"Reply-To: alice@acme.test",
		"Subject: Your proposal",
		"https://proppy.test/p/abc",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message should contain %q", want)
		}
	}
}

func TestSendNotificationStripsHeaderInjection(t *testing.T) {
	svc := NewService(configured())
	sent := capture(svc)

	if err := svc.SendNotification([]string{"team@acme.test"}, "Signed\r\nBcc: evil@example.com", "done"); err != nil {
		t.Fatalf("SendNotification failed: %v", err)
	}
	msg := (*sent)[0].msg
	if strings.Contains(msg, "\r\nBcc:") {
		t.Errorf("subject must not inject headers: %q", msg)
	}
	if !strings.Contains(msg, "From: Proppy <noreply@proppy.test>") {
		t.Errorf("expected configured sender name, got %q", msg)
	}
}

func TestSendRequiresConfiguration(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendProposal([]string{"a@example.com"}, Proposal{Subject: "s"}); err == nil {
		t.Fatal("expected an error for unconfigured email")
	}
}

func TestRenderProposalTemplateEscapesBody(t *testing.T) {
	html, err := renderTemplate(proposalEmailTemplate, Proposal{
		Subject: "Offer",
		Body:    "<script>x</script>",
		Link:    "https://proppy.test/p/abc",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Error("body should be escaped")
	}
	if !strings.Contains(html, "https://proppy.test/p/abc") {
		t.Error("template should contain the link")
	}
}
