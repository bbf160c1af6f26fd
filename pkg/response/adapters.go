package response

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/edgewatch/edgewatch/pkg/util"
)

// The log-only adapters below stand in until real SMTP, ticketing, and
// EDR integrations are wired. They record what would have happened and
// always succeed, which keeps pipelines exercisable end to end.

// LogNotifier writes the mail it would have sent to the log.
type LogNotifier struct {
	log *logrus.Entry
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: util.WithComponent("notifier")}
}

func (n *LogNotifier) SendEmail(ctx context.Context, recipient, subject, body string) error {
	n.log.WithFields(logrus.Fields{
		"recipient": recipient,
		"subject":   subject,
		"body":      util.Truncate(body, 200),
	}).Info("Email notification (log only)")
	return nil
}

// LogTicketer writes the ticket it would have opened to the log.
type LogTicketer struct {
	log *logrus.Entry
}

func NewLogTicketer() *LogTicketer {
	return &LogTicketer{log: util.WithComponent("ticketer")}
}

func (t *LogTicketer) CreateTicket(ctx context.Context, queue, summary, description string) error {
	t.log.WithFields(logrus.Fields{
		"queue":   queue,
		"summary": summary,
	}).Info("Ticket created (log only)")
	return nil
}

// LogIsolator writes the isolation it would have performed to the log.
type LogIsolator struct {
	log *logrus.Entry
}

func NewLogIsolator() *LogIsolator {
	return &LogIsolator{log: util.WithComponent("isolator")}
}

func (i *LogIsolator) IsolateHost(ctx context.Context, host string) error {
	i.log.WithField("host", host).Warn("Host isolation requested (log only)")
	return nil
}
