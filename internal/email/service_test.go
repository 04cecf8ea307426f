package email

import (
	"strings"
	"testing"
)

func TestIsConfigured(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"empty", Config{}, false},
		{"missing from", Config{Host: "smtp.example.com", Port: "587"}, false},
		{"missing host", Config{Port: "587", From: "qa@example.com"}, false},
		{"complete", Config{Host: "smtp.example.com", Port: "587", From: "qa@example.com"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NewService(tc.cfg).IsConfigured(); got != tc.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestUnconfiguredSendFails(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendEmail([]string{"a@example.com"}, "subject", "body"); err == nil {
		t.Error("expected error sending without configuration")
	}
	if err := svc.SendHTMLEmail([]string{"a@example.com"}, "subject", "<p>body</p>"); err == nil {
		t.Error("expected error sending HTML without configuration")
	}
}

func TestVerificationTemplateRenders(t *testing.T) {
	html, err := renderTemplate(verificationEmailTemplate, verificationData{
		AppName:         "QASheet",
		UserName:        "Alice",
		VerificationURL: "https://qa.example.com/verify?token=abc",
	})
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	for _, want := range []string{"Alice", "https://qa.example.com/verify?token=abc", "QASheet"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered email missing %q", want)
		}
	}
}

func TestAccessRequestTemplateRenders(t *testing.T) {
	html, err := renderTemplate(accessRequestEmailTemplate, accessRequestData{
		AppName:       "QASheet",
		SheetTitle:    "Release 2.4 Regression",
		RequesterName: "Bob",
		RequestedRole: "qa_tester",
		Message:       "I'm covering the payments suite this cycle.",
		ReviewURL:     "https://qa.example.com/sheets/sheet_1/requests",
	})
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	for _, want := range []string{"Bob", "qa_tester", "Release 2.4 Regression", "payments suite"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered email missing %q", want)
		}
	}
}

func TestAccessResolvedTemplateOmitsEmptyRole(t *testing.T) {
	html, err := renderTemplate(accessResolvedEmailTemplate, accessResolvedData{
		AppName:    "QASheet",
		SheetTitle: "Smoke Tests",
		Outcome:    "declined",
	})
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	if strings.Contains(html, "You now have") {
		t.Error("declined email should not mention a granted role")
	}
}
