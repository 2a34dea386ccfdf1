package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
	Recipient    string `json:"recipient"`
}

// Email sends alerts over SMTP to the operator mailbox.
type Email struct {
	config SmtpConfig
}

var _ Sink = Email{}

func NewEmail(config SmtpConfig) Email {
	return Email{config: config}
}

func (e Email) Raise(ctx context.Context, severity Severity, message string) error {
	ctx, span := tracer.Start(ctx, "email:Raise")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Load Scanner <%s>", e.config.EmailAddress)
	mail.To = []string{e.config.Recipient}
	mail.Subject = fmt.Sprintf("[%s] load scanner alert", severity)
	mail.Text = []byte(message)

	addr := fmt.Sprintf("%s:%d", e.config.Server, e.config.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", e.config.EmailAddress, e.config.Password, e.config.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send alert email")
		return err
	}

	return nil
}
