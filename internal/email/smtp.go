package email

import (
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/config"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/mailerr"
	"github.com/debasish-raychawdhuri/tuimail-sub000/pkg/types"
)

// SendMessage builds an outgoing message and submits it over the account's
// SMTP endpoint. The connection is opened and closed per call.
func SendMessage(account *config.Account, password string, msg *types.OutgoingMessage, logger *logrus.Logger) error {
	recipients := msg.Recipients()
	if len(recipients) == 0 {
		return mailerr.E(mailerr.Protocol, "smtp send", fmt.Errorf("message has no recipients"))
	}

	buf, err := BuildMessage(account.Email, msg, account.Signature)
	if err != nil {
		return mailerr.E(mailerr.IO, "smtp send", fmt.Errorf("failed to build message: %w", err))
	}

	client, err := dialSMTP(account)
	if err != nil {
		return err
	}
	defer client.Close()

	if password != "" {
		auth := sasl.NewPlainClient("", account.SMTPUsername, password)
		if err := client.Auth(auth); err != nil {
			return mailerr.E(mailerr.Auth, "smtp auth",
				fmt.Errorf("SMTP authentication failed: %w", err))
		}
	}

	if err := client.SendMail(account.Email, recipients, buf); err != nil {
		return mailerr.E(mailerr.Protocol, "smtp send",
			fmt.Errorf("failed to send email: %w", err))
	}

	logger.WithFields(logrus.Fields{
		"account":    account.Name,
		"recipients": len(recipients),
	}).Info("Email sent")
	return nil
}

// dialSMTP connects per the account's SMTP security mode. The mode picks the
// dial function once; everything after that is identical.
func dialSMTP(account *config.Account) (*smtp.Client, error) {
	var dialFn func(addr string, tlsConfig *tls.Config) (*smtp.Client, error)

	switch account.SMTPSecurity {
	case config.SecuritySSL:
		dialFn = smtp.DialTLS
	case config.SecurityStartTLS:
		dialFn = smtp.DialStartTLS
	default:
		dialFn = func(addr string, _ *tls.Config) (*smtp.Client, error) {
			return smtp.Dial(addr)
		}
	}

	addr := account.SMTPAddr()
	client, err := dialFn(addr, &tls.Config{ServerName: account.SMTPHost})
	if err != nil {
		return nil, mailerr.E(mailerr.Connection, "smtp connect",
			fmt.Errorf("failed to connect to SMTP server %s: %w", addr, err))
	}
	return client, nil
}
