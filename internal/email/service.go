// Package email sends transactional mail over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
)

// Config holds SMTP settings. An empty Host puts the service in log-only
// mode: messages are written to the logger instead of being sent, which is
// what local development wants.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service renders and sends emails.
type Service struct {
	cfg    Config
	logger *slog.Logger
	send   sendFunc
}

// NewService creates an email Service.
func NewService(cfg Config, logger *slog.Logger) *Service {
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &Service{cfg: cfg, logger: logger, send: smtp.SendMail}
}

// SendPasswordResetEmail sends resetLink to toEmail. It blocks on the SMTP
// round trip, so callers on a request path run it in a goroutine.
func (s *Service) SendPasswordResetEmail(ctx context.Context, toEmail, resetLink string) error {
	if s.cfg.Host == "" {
		s.logger.InfoContext(ctx, "SMTP not configured, logging password reset link instead",
			slog.String("email", toEmail),
			slog.String("link", resetLink),
		)
		return nil
	}

	body, err := renderPasswordReset(resetLink)
	if err != nil {
		return fmt.Errorf("email: rendering password reset: %w", err)
	}

	if err := s.sendHTML(toEmail, "Reset your password", body); err != nil {
		return fmt.Errorf("email: sending password reset to %s: %w", toEmail, err)
	}

	s.logger.InfoContext(ctx, "password reset email sent", slog.String("email", toEmail))
	return nil
}

func (s *Service) sendHTML(to, subject, body string) error {
	// Header injection guard: an address with CR/LF could add headers.
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient address")
	}

	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		s.cfg.From, to, subject, body,
	))

	addr := s.cfg.Host + ":" + s.cfg.Port
	return s.send(addr, auth, s.cfg.From, []string{to}, msg)
}

var passwordResetTemplate = template.Must(template.New("passwordReset").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #2563EB; color: white; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
        .content { background-color: #f9f9f9; padding: 30px; border-radius: 0 0 5px 5px; }
        .button { display: inline-block; background-color: #2563EB; color: white !important; padding: 12px 30px; text-decoration: none; border-radius: 5px; margin: 20px 0; }
        .footer { margin-top: 30px; font-size: 12px; color: #666; text-align: center; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Job Tracker</h1>
    </div>
    <div class="content">
        <h2>Reset your password</h2>
        <p>Someone asked to reset the password for your Job Tracker account. Click the button below to choose a new one.</p>

        <a href="{{.ResetLink}}" class="button" style="color: white !important;">Reset Password</a>

        <p>Or copy and paste this link into your browser:</p>
        <p style="word-break: break-all; color: #2563EB;">{{.ResetLink}}</p>

        <p style="margin-top: 30px;">If you didn't ask for this, ignore this email. Your password stays the same.</p>
    </div>
    <div class="footer">
        <p>This link expires in 1 hour and can be used once.</p>
    </div>
</body>
</html>
`))

func renderPasswordReset(resetLink string) (string, error) {
	var buf bytes.Buffer
	data := struct{ ResetLink string }{ResetLink: resetLink}
	if err := passwordResetTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
