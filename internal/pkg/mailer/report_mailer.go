package mailer

import (
	"fmt"
	"html"
	"strings"

	"gopkg.in/gomail.v2"
)

// Sender is the part of gomail.Dialer the notifier needs.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type IReportNotifier interface {
	NotifyReport(sessionID, reportType, key, feedback string) error
}

// ReportNotifier mails user feedback reports to the maintainers.
type ReportNotifier struct {
	sender     Sender
	from       string
	recipients []string
}

func NewReportNotifier(host string, port int, username, password, senderEmail string, recipients []string) *ReportNotifier {
	return &ReportNotifier{
		sender:     gomail.NewDialer(host, port, username, password),
		from:       senderEmail,
		recipients: recipients,
	}
}

func newReportNotifierWithSender(sender Sender, from string, recipients []string) *ReportNotifier {
	return &ReportNotifier{sender: sender, from: from, recipients: recipients}
}

func (n *ReportNotifier) NotifyReport(sessionID, reportType, key, feedback string) error {
	if len(n.recipients) == 0 {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.recipients...)
	m.SetHeader("Subject", fmt.Sprintf("[chatbot] %s report for session %s", reportType, sessionID))

	if strings.TrimSpace(feedback) == "" {
		feedback = "(no feedback given)"
	}
	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>New %s report</h2>
			<p><b>Session:</b> %s</p>
			<p><b>Stored as:</b> %s</p>
			<p>%s</p>
		</div>
	`, html.EscapeString(reportType), html.EscapeString(sessionID), html.EscapeString(key), html.EscapeString(feedback))
	m.SetBody("text/html", body)

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send report mail for %s: %w", sessionID, err)
	}
	return nil
}
