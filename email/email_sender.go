package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"net/http"
	"path/filepath"
	"strings"

	"warrn-service/models"

	"github.com/apex/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sender delivers lifecycle notification emails through SendGrid. All
// sends are best-effort; an unset API key disables delivery entirely.
type Sender struct {
	client    *sendgrid.Client
	fromName  string
	fromEmail string
	enabled   bool
}

// NewSender creates a new email sender
func NewSender(apiKey, fromName, fromEmail string) *Sender {
	return &Sender{
		client:    sendgrid.NewSendClient(apiKey),
		fromName:  fromName,
		fromEmail: fromEmail,
		enabled:   apiKey != "",
	}
}

// SendReportReceived sends the submission confirmation to the reporter.
func (s *Sender) SendReportReceived(ctx context.Context, report *models.Report) error {
	subject := "Report Received - WARRN"
	body := fmt.Sprintf(`Thank you for reporting an animal incident!

Report ID: #%d
Animal Type: %s
Condition: %s
Location: %s

Your report has been received and our responders have been notified.
You will receive updates when the report is claimed and resolved.

WARRN - Wildlife Animal Rescue & Response Network
`, report.ID, report.AnimalType, report.Condition, mapLink(report))

	return s.send(ctx, report.ReporterEmail, subject, body, nil, "")
}

// SendNewReportAlert notifies all responders about a new incident.
func (s *Sender) SendNewReportAlert(ctx context.Context, report *models.Report, recipients []string) error {
	subject := "New Animal Incident Reported - WARRN"
	body := fmt.Sprintf(`A new animal incident has been reported.

Report ID: #%d
Animal Type: %s
Condition: %s
Location: %s

Please log in to the WARRN dashboard to claim and respond to this incident.
`, report.ID, report.AnimalType, report.Condition, mapLink(report))

	var firstErr error
	for _, recipient := range recipients {
		if err := s.send(ctx, recipient, subject, body, nil, ""); err != nil {
			log.Warnf("Error sending responder alert to %s: %v", recipient, err)
			if firstErr == nil {
				firstErr = err
			}
			// Continue with other recipients
		}
	}
	return firstErr
}

// SendReportClaimed tells the reporter their report has been claimed.
func (s *Sender) SendReportClaimed(ctx context.Context, report *models.Report, responderName string) error {
	subject := "Report Claimed - WARRN"
	body := fmt.Sprintf(`Good news! Your report has been claimed by a responder.

Report ID: #%d
Animal Type: %s
Condition: %s
Location: %s
Responder: %s
Status: Acknowledged

A responder is now working on this incident.
You will be notified when it is resolved.
`, report.ID, report.AnimalType, report.Condition, mapLink(report), responderName)

	return s.send(ctx, report.ReporterEmail, subject, body, nil, "")
}

// SendReportResolved tells the reporter their report has been resolved,
// attaching the resolution photo when one was provided.
func (s *Sender) SendReportResolved(ctx context.Context, report *models.Report, responderName string, attachment []byte, attachmentName string) error {
	subject := "Report Resolved - WARRN"
	notes := ""
	if report.ResolutionNotes != "" {
		notes = fmt.Sprintf("Resolution Notes: %s\n", report.ResolutionNotes)
	}
	body := fmt.Sprintf(`Great news! Your report has been resolved.

Report ID: #%d
Animal Type: %s
Condition: %s
Location: %s
Responder: %s
Status: Resolved

%sThe incident has been successfully handled.
Thank you for reporting and helping save an animal's life!
`, report.ID, report.AnimalType, report.Condition, mapLink(report), responderName, notes)

	return s.send(ctx, report.ReporterEmail, subject, body, attachment, attachmentName)
}

func (s *Sender) send(ctx context.Context, recipient, subject, body string, attachment []byte, attachmentName string) error {
	if !s.enabled {
		log.Debugf("Email delivery disabled, skipping %q to %s", subject, recipient)
		return nil
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(recipient, recipient)

	message := mail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = subject

	p := mail.NewPersonalization()
	p.AddTos(to)
	message.AddPersonalizations(p)

	message.AddContent(mail.NewContent("text/plain", body))
	message.AddContent(mail.NewContent("text/html", htmlBody(body)))

	if len(attachment) > 0 {
		att := mail.NewAttachment()
		att.SetContent(base64.StdEncoding.EncodeToString(attachment))
		att.SetType(attachmentType(attachmentName))
		att.SetFilename(attachmentName)
		att.SetDisposition("attachment")
		message.AddAttachment(att)
	}

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", recipient, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid returned status %d for %s: %s", resp.StatusCode, recipient, resp.Body)
	}
	return nil
}

// attachmentType maps the attachment filename to its image MIME type.
func attachmentType(name string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")) {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// htmlBody wraps the plain-text body in a minimal HTML rendering.
func htmlBody(body string) string {
	escaped := html.EscapeString(body)
	return "<html><body><p>" + strings.ReplaceAll(escaped, "\n", "<br>\n") + "</p></body></html>"
}

func mapLink(report *models.Report) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%f,%f", report.Latitude, report.Longitude)
}
