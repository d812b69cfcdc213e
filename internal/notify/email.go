// Package notify delivers invitation emails and facility desk alerts.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"campusbook/internal/config"
	"campusbook/internal/metrics"
	"campusbook/internal/models"

	"github.com/rs/zerolog"
)

const channelEmail = "email"

var (
	invitationTemplate = template.Must(template.New("invitation").Parse(
		`Hi {{.Receiver}},

{{.Sender}} invited you to {{.Title}} on {{.Date}} ({{.TimeSlot}}).

Respond before {{.Deadline}}:
{{.Link}}

Invitations that are not answered in time count as declined.
`))

	responseTemplate = template.Must(template.New("response").Parse(
		`Hi {{.Host}},

{{.Invitee}} has {{.Status}} your invitation to {{.Title}} on {{.Date}} ({{.TimeSlot}}).
{{if .Cancelled}}
A majority of invitees declined, so the reservation has been cancelled.
{{end}}`))
)

// sendFunc delivers a fully rendered RFC 5322 message.
type sendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// EmailNotifier sends invitation and response emails over SMTP.
type EmailNotifier struct {
	from    string
	baseURL string
	send    sendFunc
	logger  *zerolog.Logger
}

func NewEmailNotifier(cfg config.SMTPConfig, baseURL string, logger *zerolog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		from:    cfg.From,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
	n.send = smtpSender(cfg)
	return n
}

func (n *EmailNotifier) NotifyInvitation(ctx context.Context, receiver, sender *models.User, r *models.Reservation, inv *models.Invitation) error {
	var body bytes.Buffer
	err := invitationTemplate.Execute(&body, map[string]string{
		"Receiver": receiver.DisplayName(),
		"Sender":   sender.DisplayName(),
		"Title":    r.Title(),
		"Date":     r.Date,
		"TimeSlot": r.TimeSlot,
		"Deadline": inv.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"),
		"Link":     n.baseURL + "/invitations/" + inv.ID,
	})
	if err != nil {
		return fmt.Errorf("render invitation email: %w", err)
	}
	subject := fmt.Sprintf("%s invited you to %s", sender.DisplayName(), r.Title())
	return n.deliver(ctx, receiver.Email, subject, body.Bytes())
}

func (n *EmailNotifier) NotifyResponse(ctx context.Context, host, invitee *models.User, r *models.Reservation, status models.InvitationStatus) error {
	var body bytes.Buffer
	err := responseTemplate.Execute(&body, map[string]interface{}{
		"Host":      host.DisplayName(),
		"Invitee":   invitee.DisplayName(),
		"Status":    string(status),
		"Title":     r.Title(),
		"Date":      r.Date,
		"TimeSlot":  r.TimeSlot,
		"Cancelled": r.IsCancelled(),
	})
	if err != nil {
		return fmt.Errorf("render response email: %w", err)
	}
	subject := fmt.Sprintf("%s %s your invitation", invitee.DisplayName(), status)
	return n.deliver(ctx, host.Email, subject, body.Bytes())
}

func (n *EmailNotifier) deliver(ctx context.Context, to, subject string, body []byte) error {
	msg := buildMessage(n.from, to, subject, body)
	err := n.send(ctx, n.from, []string{to}, msg)
	metrics.IncNotification(channelEmail, err)
	if err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	n.logger.Debug().Str("to", to).Str("subject", subject).Msg("email sent")
	return nil
}

func buildMessage(from, to, subject string, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.Write(bytes.ReplaceAll(body, []byte("\n"), []byte("\r\n")))
	return buf.Bytes()
}

// smtpSender dials per message, upgrading with STARTTLS when offered.
func smtpSender(cfg config.SMTPConfig) sendFunc {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	return func(ctx context.Context, from string, to []string, msg []byte) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		dialer := &net.Dialer{}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}

		c, err := smtp.NewClient(conn, cfg.Host)
		if err != nil {
			_ = conn.Close()
			return err
		}
		defer c.Close()

		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
		if cfg.Username != "" {
			if err := c.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
				return fmt.Errorf("auth: %w", err)
			}
		}
		if err := c.Mail(from); err != nil {
			return err
		}
		for _, rcpt := range to {
			if err := c.Rcpt(rcpt); err != nil {
				return err
			}
		}
		w, err := c.Data()
		if err != nil {
			return err
		}
		if _, err := w.Write(msg); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		return c.Quit()
	}
}

// LogNotifier records notifications in the log instead of sending them.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyInvitation(_ context.Context, receiver, sender *models.User, r *models.Reservation, inv *models.Invitation) error {
	n.logger.Info().
		Str("to", receiver.Email).
		Str("from", sender.Email).
		Str("reservation_id", r.ID).
		Str("invitation_id", inv.ID).
		Time("expires_at", inv.ExpiresAt).
		Msg("invitation email suppressed")
	return nil
}

func (n *LogNotifier) NotifyResponse(_ context.Context, host, invitee *models.User, r *models.Reservation, status models.InvitationStatus) error {
	n.logger.Info().
		Str("to", host.Email).
		Str("invitee", invitee.Email).
		Str("reservation_id", r.ID).
		Str("status", string(status)).
		Msg("response email suppressed")
	return nil
}
