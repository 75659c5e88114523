// Package mail sends the transactional email the account flows need.
// SMTPMailer works against any STARTTLS-capable provider; NopMailer backs
// installs without SMTP configured.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"time"
)

// Mailer sends transactional emails.
type Mailer interface {
	// SendPasswordReset sends a password reset email containing the raw token.
	SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration) error
}

// SMTPConfig holds all configuration for SMTPMailer.
type SMTPConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	FromAddress  string
	ResetURLBase string
}

// SMTPMailer delivers mail over SMTP with mandatory STARTTLS.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTPMailer with the given config.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// NopMailer discards all outbound email. Used when SMTP is not configured.
type NopMailer struct{}

func (n *NopMailer) SendPasswordReset(_ context.Context, _, _ string, _ time.Duration) error {
	return nil
}

// sendMail dials the SMTP server, enforces STARTTLS (rejects plaintext
// sessions), authenticates, and delivers msg.
func (m *SMTPMailer) sendMail(ctx context.Context, toEmail, msg string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", m.cfg.Host+":"+m.cfg.Port)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); !ok {
		return fmt.Errorf("smtp server does not advertise STARTTLS: refusing plaintext session")
	}
	if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}

	if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(toEmail); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := fmt.Fprint(wc, msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	return c.Quit()
}

// SendPasswordReset emails a password reset link to toEmail. token is the
// raw (unhashed) token generated by the handler.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration) error {
	link := m.cfg.ResetURLBase + "?token=" + url.QueryEscape(token)

	body := fmt.Sprintf("Anda meminta pengaturan ulang kata sandi.\n\n"+
		"Klik tautan berikut untuk memilih kata sandi baru:\n\n"+
		"%s\n\n"+
		"Tautan ini berlaku selama %s. Abaikan email ini jika Anda tidak meminta pengaturan ulang.",
		link, formatDuration(expiresIn))

	msg := "From: " + m.cfg.FromAddress + "\r\n" +
		"To: " + toEmail + "\r\n" +
		"Subject: Atur ulang kata sandi ModulPintar\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		body

	if err := m.sendMail(ctx, toEmail, msg); err != nil {
		return fmt.Errorf("sending password reset email: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%d hari", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%d jam", int(d.Hours()))
	default:
		return fmt.Sprintf("%d menit", int(d.Minutes()))
	}
}
