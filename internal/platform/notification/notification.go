// Package notification delivers patient and doctor notices about bookings.
// Delivery is best-effort: callers log failures and never roll back on them.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Channel is a delivery route.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// Template ids used by the booking core.
const (
	TemplateAppointmentBooked      = "appointment-booked"
	TemplateAppointmentCancelled   = "appointment-cancelled"
	TemplateAppointmentRescheduled = "appointment-rescheduled"
	TemplateAbsenceCancellation    = "absence-cancellation"
	TemplateScheduleChanged        = "schedule-changed"
)

// Recipient holds whatever contact details are known. Channels without a
// matching address are skipped.
type Recipient struct {
	Name  string
	Email string
	Phone string
}

// Notification is one rendered message on one channel.
type Notification struct {
	Channel    Channel
	To         string
	Subject    string
	Body       string
	TemplateID string
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// WhatsAppSender is the interface for sending WhatsApp messages.
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, to, body string) error
}

// Template defines a reusable notification template.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine creates a TemplateEngine with the booking templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateAppointmentBooked,
			Subject: "Appointment confirmed with {{doctor_name}}",
			Body:    "Dear {{patient_name}}, your appointment with {{doctor_name}} is booked for {{date}} at {{time}}. Token number: {{token}}.",
		},
		{
			ID:      TemplateAppointmentCancelled,
			Subject: "Appointment cancelled",
			Body:    "Dear {{patient_name}}, your appointment with {{doctor_name}} on {{date}} at {{time}} has been cancelled. {{reason}}",
		},
		{
			ID:      TemplateAppointmentRescheduled,
			Subject: "Appointment rescheduled",
			Body:    "Dear {{patient_name}}, your appointment with {{doctor_name}} has moved from {{old_date}} {{old_time}} to {{date}} at {{time}}. Token number: {{token}}.",
		},
		{
			ID:      TemplateAbsenceCancellation,
			Subject: "Appointment cancelled: doctor unavailable",
			Body:    "Dear {{patient_name}}, {{doctor_name}} is unavailable on {{date}}, so your {{time}} appointment has been cancelled. Please book another slot.",
		},
		{
			ID:      TemplateScheduleChanged,
			Subject: "Your consulting schedule was updated",
			Body:    "Dear {{doctor_name}}, your weekly schedule has been updated. Slots from {{date}} onwards were regenerated.",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render fills a template. Placeholders with no value in data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, strings.TrimSpace(body), nil
}
