package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	gomail "github.com/wneessen/go-mail"

	"github.com/clearsight-optics/clearsight/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
)

// MailerConfig carries SMTP settings for notification delivery.
// Username/Password are optional; local Mailpit-style servers accept
// unauthenticated delivery.
type MailerConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// Mailer delivers queued notifications over SMTP.
type Mailer struct {
	cfg    MailerConfig
	logger *slog.Logger
}

// NewMailer constructs a Mailer.
func NewMailer(cfg MailerConfig, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{cfg: cfg, logger: logger}
}

// HandleSendNotification processes notify.TaskTypeSend tasks. A payload
// that cannot be decoded is dropped; delivery errors are retried by the
// queue.
func (m *Mailer) HandleSendNotification(ctx context.Context, t *asynq.Task) error {
	var n notify.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		m.logger.Error("undecodable notification payload", slog.Any("error", err))
		return asynq.SkipRetry
	}
	if n.Email == "" {
		m.logger.Warn("notification without recipient email dropped",
			slog.String("event_id", n.EventID.String()),
			slog.String("type", n.Type))
		return asynq.SkipRetry
	}

	subject, body := renderNotification(n)
	msg := gomail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("mail from %s: %w", m.cfg.From, err)
	}
	if err := msg.To(n.Email); err != nil {
		m.logger.Warn("notification with invalid recipient dropped",
			slog.String("event_id", n.EventID.String()),
			slog.String("email", n.Email),
			slog.Any("error", err))
		return asynq.SkipRetry
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := m.client()
	if err != nil {
		return fmt.Errorf("mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", n.Type, n.Email, err)
	}

	m.logger.Info("notification delivered",
		slog.String("event_id", n.EventID.String()),
		slog.String("type", n.Type),
		slog.String("email", n.Email))
	return nil
}

func (m *Mailer) client() (*gomail.Client, error) {
	opts := []gomail.Option{
		gomail.WithPort(m.cfg.Port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.Username),
			gomail.WithPassword(m.cfg.Password))
	}
	return gomail.NewClient(m.cfg.Host, opts...)
}

// renderNotification produces plain-text mail content per event type.
func renderNotification(n notify.Notification) (subject, body string) {
	number, _ := n.Payload["quotation_number"].(string)
	switch n.Type {
	case notify.TypeQuotationApproved:
		subject = fmt.Sprintf("Your quotation %s has been approved", number)
		body = fmt.Sprintf("Good news! Quotation %s was reviewed and approved by our staff. You can now confirm it in your account.", number)
	case notify.TypeQuotationRejected:
		subject = fmt.Sprintf("Update on your quotation %s", number)
		reason, _ := n.Payload["reason"].(string)
		body = fmt.Sprintf("Quotation %s could not be approved. Reason: %s", number, reason)
	case notify.TypeQuotationCustomerApproved:
		subject = fmt.Sprintf("Quotation %s confirmed", number)
		body = fmt.Sprintf("Thank you for confirming quotation %s. Our staff will prepare your order shortly.", number)
	case notify.TypeQuotationCustomerRejected:
		subject = fmt.Sprintf("Quotation %s declined", number)
		body = fmt.Sprintf("You declined quotation %s. Feel free to request a new one at any time.", number)
	case notify.TypeQuotationStaffReply:
		subject = fmt.Sprintf("New reply on your quotation %s", number)
		body = fmt.Sprintf("Our staff added a reply to quotation %s. Sign in to read it.", number)
	case notify.TypeQuotationConverted:
		orderNumber, _ := n.Payload["order_number"].(string)
		subject = fmt.Sprintf("Your order %s is confirmed", orderNumber)
		body = fmt.Sprintf("Quotation %s has been converted into order %s. We will keep you posted on fulfillment.", number, orderNumber)
	default:
		subject = "Notification from ClearSight Optics"
		body = fmt.Sprintf("You have a new notification of type %s.", n.Type)
	}
	return subject, body
}
