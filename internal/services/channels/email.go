package channels

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"

	"intercity-backend/internal/models"
	"intercity-backend/internal/services/notification"
)

// EmailChannel отправляет письма через SMTP. Письмо содержит текстовую и HTML версии
type EmailChannel struct {
	addr string
	auth smtp.Auth
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(host, port, username, password, from string) *EmailChannel {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &EmailChannel{
		addr: host + ":" + port,
		auth: auth,
		from: from,
		send: smtp.SendMail,
	}
}

func (c *EmailChannel) Send(ctx context.Context, recipient *models.User, p models.NotificationPayload) error {
	if recipient == nil || recipient.Email == "" {
		return notification.ErrNoContact
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildEmail(c.from, recipient.Email, p.Title, renderHTML(p), p.Message)
	if err != nil {
		return err
	}
	if err := c.send(c.addr, c.auth, c.from, []string{recipient.Email}, msg); err != nil {
		return fmt.Errorf("ошибка при отправке письма: %w", err)
	}
	return nil
}

func renderHTML(p models.NotificationPayload) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString("<h2>" + html.EscapeString(p.Title) + "</h2>")
	for _, line := range strings.Split(p.Message, "\n") {
		b.WriteString("<p>" + html.EscapeString(line) + "</p>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

// buildEmail собирает письмо multipart/alternative
func buildEmail(from, to, subject, htmlBody, textBody string) ([]byte, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", textBody},
		{"text/html; charset=UTF-8", htmlBody},
	}
	for _, part := range parts {
		pw, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {part.contentType}})
		if err != nil {
			return nil, fmt.Errorf("ошибка при сборке письма: %w", err)
		}
		if _, err := pw.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("ошибка при сборке письма: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("ошибка при сборке письма: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", w.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
