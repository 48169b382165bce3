package mail

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	texttemplate "text/template"

	"github.com/study-hub/internal/models"
)

// SimpleLink is the template for every notification email: a greeting, a
// message and one link.
const SimpleLink = "simple-link"

// LinkData are the variables of the simple-link template
type LinkData struct {
	SiteName string
	Nickname string
	Message  string
	Host     string
	Link     string
	LinkName string
}

// URL joins host and link
func (d LinkData) URL() string {
	return d.Host + d.Link
}

// Renderer renders a named template with variables
type Renderer interface {
	Render(name string, data LinkData) (text string, html string, err error)
}

// TemplateRenderer renders the built-in templates
type TemplateRenderer struct {
	html map[string]*htmltemplate.Template
	text map[string]*texttemplate.Template
}

// NewTemplateRenderer parses the built-in templates
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{
		html: map[string]*htmltemplate.Template{
			SimpleLink: htmltemplate.Must(htmltemplate.New(SimpleLink).Parse(simpleLinkHTML)),
		},
		text: map[string]*texttemplate.Template{
			SimpleLink: texttemplate.Must(texttemplate.New(SimpleLink).Parse(simpleLinkText)),
		},
	}
}

// Render implements Renderer
func (r *TemplateRenderer) Render(name string, data LinkData) (string, string, error) {
	ht, ok := r.html[name]
	if !ok {
		return "", "", fmt.Errorf("unknown mail template %q", name)
	}
	var html, text bytes.Buffer
	if err := ht.Execute(&html, data); err != nil {
		return "", "", fmt.Errorf("render %s html: %w", name, err)
	}
	if err := r.text[name].Execute(&text, data); err != nil {
		return "", "", fmt.Errorf("render %s text: %w", name, err)
	}
	return text.String(), html.String(), nil
}

// AccountMailer sends account emails such as the verification link
type AccountMailer struct {
	sender   Sender
	renderer Renderer
	host     string
	siteName string
}

// NewAccountMailer creates an account mailer
func NewAccountMailer(sender Sender, renderer Renderer, host, siteName string) *AccountMailer {
	return &AccountMailer{sender: sender, renderer: renderer, host: host, siteName: siteName}
}

// SendVerification emails the confirmation link for account's current token
func (m *AccountMailer) SendVerification(ctx context.Context, account *models.Account) error {
	data := LinkData{
		SiteName: m.siteName,
		Nickname: account.Nickname,
		Message:  fmt.Sprintf("Click the link below to start using %s.", m.siteName),
		Host:     m.host,
		Link:     "/check-email-token?token=" + url.QueryEscape(account.EmailToken) + "&email=" + url.QueryEscape(account.Email),
		LinkName: "Verify email",
	}
	text, html, err := m.renderer.Render(SimpleLink, data)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Email{
		To:       account.Email,
		Subject:  fmt.Sprintf("[%s] Verify your email", m.siteName),
		TextBody: text,
		HTMLBody: html,
	})
}

const simpleLinkText = `Hello {{.Nickname}},

{{.Message}}

{{.LinkName}}: {{.URL}}
`

const simpleLinkHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.SiteName}}</title>
</head>
<body style="margin: 0; padding: 24px; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background-color: #f3f4f6;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; margin: 0 auto; background-color: #ffffff; border-radius: 8px;">
    <tr>
      <td style="padding: 24px 32px; border-bottom: 1px solid #e5e7eb;">
        <h1 style="margin: 0; font-size: 20px; color: #4f46e5;">{{.SiteName}}</h1>
      </td>
    </tr>
    <tr>
      <td style="padding: 32px;">
        <p style="margin: 0 0 16px; font-size: 16px; color: #374151;">Hello {{.Nickname}},</p>
        <p style="margin: 0 0 24px; font-size: 16px; color: #374151;">{{.Message}}</p>
        <a href="{{.URL}}" style="display: inline-block; padding: 12px 24px; background-color: #4f46e5; color: #ffffff; text-decoration: none; border-radius: 6px;">{{.LinkName}}</a>
        <p style="margin: 24px 0 0; font-size: 12px; color: #6b7280;">If the button does not work, copy this address into your browser: {{.URL}}</p>
      </td>
    </tr>
  </table>
</body>
</html>
`
