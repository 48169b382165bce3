// Package mail renders and sends notification emails.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/study-hub/internal/circuitbreaker"
	"github.com/study-hub/internal/config"
	"github.com/study-hub/internal/logging"
)

// Email is one outbound message
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers emails
type Sender interface {
	Send(ctx context.Context, email Email) error
}

// SMTPSender sends through a plain SMTP relay
type SMTPSender struct {
	addr string
	auth smtp.Auth
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a sender for cfg. Auth is used only when a user is set.
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	var auth smtp.Auth
	if cfg.User != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return &SMTPSender{
		addr: cfg.Host + ":" + strconv.Itoa(cfg.Port),
		auth: auth,
		from: cfg.From,
		send: smtp.SendMail,
	}
}

// Send implements Sender
func (s *SMTPSender) Send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := buildMIME(s.from, email)
	if err := s.send(s.addr, s.auth, s.from, []string{email.To}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", email.To, err)
	}
	return nil
}

const mimeBoundary = "studyhub-alt-boundary"

// buildMIME assembles a multipart/alternative message with text and HTML parts
func buildMIME(from string, email Email) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + email.To + "\r\n")
	b.WriteString("Subject: " + email.Subject + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/alternative; boundary=" + mimeBoundary + "\r\n\r\n")

	b.WriteString("--" + mimeBoundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(email.TextBody + "\r\n")

	if email.HTMLBody != "" {
		b.WriteString("--" + mimeBoundary + "\r\n")
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(email.HTMLBody + "\r\n")
	}
	b.WriteString("--" + mimeBoundary + "--\r\n")
	return []byte(b.String())
}

// LogSender writes emails to the log instead of sending them. Used when no
// SMTP host is configured.
type LogSender struct{}

// Send implements Sender
func (LogSender) Send(ctx context.Context, email Email) error {
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"to":      email.To,
		"subject": email.Subject,
	}).Info(email.TextBody)
	return nil
}

// RateLimitedSender throttles another sender
type RateLimitedSender struct {
	next    Sender
	limiter *rate.Limiter
}

// NewRateLimitedSender allows perSecond sends with the given burst
func NewRateLimitedSender(next Sender, perSecond float64, burst int) *RateLimitedSender {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedSender{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send waits for a token and forwards the email
func (s *RateLimitedSender) Send(ctx context.Context, email Email) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail rate limiter: %w", err)
	}
	return s.next.Send(ctx, email)
}

// GuardedSender stops calling a failing SMTP relay until its breaker cools down
type GuardedSender struct {
	next    Sender
	breaker *circuitbreaker.Breaker
}

// NewGuardedSender wraps next with breaker
func NewGuardedSender(next Sender, breaker *circuitbreaker.Breaker) *GuardedSender {
	return &GuardedSender{next: next, breaker: breaker}
}

// Send forwards the email unless the breaker is open
func (s *GuardedSender) Send(ctx context.Context, email Email) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.next.Send(ctx, email)
	})
}
