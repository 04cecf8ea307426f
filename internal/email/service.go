// Package email sends transactional mail over SMTP: account verification,
// password resets, and access request notifications.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
	}
}

// IsConfigured reports whether SMTP settings are present. Callers treat an
// unconfigured service as a no-op sink.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendEmail sends a plain text message.
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\nFrom: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		strings.Join(to, ", "), s.fromHeader(), subject, body,
	))
	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends a multipart message with a plain text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	boundary := "boundary-qasheet"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type verificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type passwordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

type accessRequestData struct {
	AppName       string
	SheetTitle    string
	RequesterName string
	RequestedRole string
	Message       string
	ReviewURL     string
}

type accessResolvedData struct {
	AppName     string
	SheetTitle  string
	Outcome     string
	GrantedRole string
	SheetURL    string
}

// SendVerificationEmail mails the email verification link to a new account.
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	html, err := renderTemplate(verificationEmailTemplate, verificationData{
		AppName:         "QASheet",
		UserName:        userName,
		VerificationURL: verificationURL,
	})
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Verify your QASheet account", html)
}

// SendPasswordResetEmail mails a password reset link.
func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	html, err := renderTemplate(passwordResetEmailTemplate, passwordResetData{
		AppName:  "QASheet",
		UserName: userName,
		ResetURL: resetURL,
	})
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Reset your QASheet password", html)
}

// SendAccessRequestedEmail notifies a sheet owner that someone asked for
// access.
func (s *Service) SendAccessRequestedEmail(to, sheetTitle, requesterName, requestedRole, message, reviewURL string) error {
	html, err := renderTemplate(accessRequestEmailTemplate, accessRequestData{
		AppName:       "QASheet",
		SheetTitle:    sheetTitle,
		RequesterName: requesterName,
		RequestedRole: requestedRole,
		Message:       message,
		ReviewURL:     reviewURL,
	})
	if err != nil {
		return fmt.Errorf("render access request template: %w", err)
	}
	subject := fmt.Sprintf("Access request for %q", sheetTitle)
	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendAccessResolvedEmail notifies a requester that their access request was
// approved or declined.
func (s *Service) SendAccessResolvedEmail(to, sheetTitle, outcome, grantedRole, sheetURL string) error {
	html, err := renderTemplate(accessResolvedEmailTemplate, accessResolvedData{
		AppName:     "QASheet",
		SheetTitle:  sheetTitle,
		Outcome:     outcome,
		GrantedRole: grantedRole,
		SheetURL:    sheetURL,
	})
	if err != nil {
		return fmt.Errorf("render access resolved template: %w", err)
	}
	subject := fmt.Sprintf("Your access request for %q was %s", sheetTitle, outcome)
	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const emailStyle = `body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0b7261; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0b7261; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0b7261; }
        .quote { background: #f4f4f4; padding: 12px; border-radius: 4px; margin: 20px 0; }`

const verificationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Verify your {{.AppName}} account</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Thank you for signing up. Please verify your email address to activate your account.</p>
    <p><a href="{{.VerificationURL}}" class="button">Verify Email Address</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>
    <p>This verification link will expire in 24 hours.</p>
    <div class="footer">
        <p>If you didn't create an account with {{.AppName}}, you can safely ignore this email.</p>
    </div>
</body>
</html>`

const passwordResetEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password. Click the button below to create a new password:</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ResetURL}}</p>
    <p>This reset link will expire in 1 hour.</p>
    <div class="footer">
        <p>If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.</p>
    </div>
</body>
</html>`

const accessRequestEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Access request for {{.SheetTitle}}</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Access Request</h2>
    <p><strong>{{.RequesterName}}</strong> has requested <strong>{{.RequestedRole}}</strong> access to <strong>{{.SheetTitle}}</strong>.</p>
    {{if .Message}}<div class="quote">{{.Message}}</div>{{end}}
    <p><a href="{{.ReviewURL}}" class="button">Review Request</a></p>
    <div class="footer">
        <p>You received this because you manage access to this sheet.</p>
    </div>
</body>
</html>`

const accessResolvedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Access request {{.Outcome}}</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Request {{.Outcome}}</h2>
    <p>Your access request for <strong>{{.SheetTitle}}</strong> was <strong>{{.Outcome}}</strong>.</p>
    {{if .GrantedRole}}<p>You now have the <strong>{{.GrantedRole}}</strong> role.</p>{{end}}
    {{if .SheetURL}}<p><a href="{{.SheetURL}}" class="button">Open Sheet</a></p>{{end}}
    <div class="footer">
        <p>You received this because you requested access to this sheet.</p>
    </div>
</body>
</html>`
