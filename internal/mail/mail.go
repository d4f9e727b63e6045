// Package mail defines outbound mail delivery for account flows.
package mail

import (
	"context"

	"github.com/MarchenkoRuslan/faberge-egg/internal/observability"
)

// Message is a single outbound mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them. Default for
// environments without a mail provider.
type LogMailer struct {
	logger observability.Logger
}

// NewLogMailer constructs a logging mailer.
func NewLogMailer(logger observability.Logger) *LogMailer {
	if logger == nil {
		logger = observability.Log()
	}
	return &LogMailer{logger: logger}
}

// Send logs the message.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("outbound mail",
		observability.F("to", msg.To),
		observability.F("subject", msg.Subject),
		observability.F("body", msg.Body))
	return nil
}
