package notifications

import (
	"strings"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

type Template struct {
	ID        string                     `json:"id"`
	Type      domain.NotificationType    `json:"type"`
	Channel   domain.NotificationChannel `json:"channel"`
	Title     string                     `json:"title"`
	Content   string                     `json:"content"`
	Variables []string                   `json:"variables"`
}

// Render fills the template's title and content from data.
func (t Template) Render(data map[string]string) (title, content string) {
	return Render(t.Title, data), Render(t.Content, data)
}

var builtinTemplates = []Template{
	{
		ID:      "welcome_email",
		Type:    domain.NotificationTypeWelcome,
		Channel: domain.ChannelEmail,
		Title:   "Welcome to InsureFlow",
		Content: "Dear {{username}},\n\n" +
			"Welcome to InsureFlow. Your account is ready and you can start browsing our insurance plans.\n\n" +
			"If you have any questions our support team is happy to help.\n\n" +
			"The InsureFlow team",
		Variables: []string{"username"},
	},
	{
		ID:      "order_created_email",
		Type:    domain.NotificationTypeOrderCreated,
		Channel: domain.ChannelEmail,
		Title:   "Order created - {{orderNumber}}",
		Content: "Hello {{username}},\n\n" +
			"Your insurance order has been created:\n\n" +
			"Order number: {{orderNumber}}\n" +
			"Plan: {{planName}}\n" +
			"Premium: ¥{{amount}}\n" +
			"Created at: {{createdAt}}\n\n" +
			"Please complete the payment within 24 hours or the order will be cancelled.\n\n" +
			"Payment link: {{paymentUrl}}\n\n" +
			"The InsureFlow team",
		Variables: []string{"username", "orderNumber", "planName", "amount", "createdAt", "paymentUrl"},
	},
	{
		ID:        "payment_completed_sms",
		Type:      domain.NotificationTypePaymentCompleted,
		Channel:   domain.ChannelSMS,
		Content:   "[InsureFlow] Payment for order {{orderNumber}} succeeded. Your policy takes effect within 1 business day.",
		Variables: []string{"orderNumber"},
	},
	{
		ID:      "payment_failed_email",
		Type:    domain.NotificationTypePaymentFailed,
		Channel: domain.ChannelEmail,
		Title:   "Payment failed - {{orderNumber}}",
		Content: "Hello {{username}},\n\n" +
			"We could not complete the payment of ¥{{amount}} for order {{orderNumber}}: {{reason}}.\n\n" +
			"You can retry the payment from your order page.\n\n" +
			"The InsureFlow team",
		Variables: []string{"username", "orderNumber", "amount", "reason"},
	},
}

type templateKey struct {
	typ     domain.NotificationType
	channel domain.NotificationChannel
}

// TemplateSet resolves templates by (type, channel).
type TemplateSet struct {
	all   []Template
	byKey map[templateKey]Template
}

func NewTemplateSet(templates []Template) *TemplateSet {
	s := &TemplateSet{all: templates, byKey: make(map[templateKey]Template, len(templates))}
	for _, t := range templates {
		s.byKey[templateKey{t.Type, t.Channel}] = t
	}
	return s
}

func DefaultTemplates() *TemplateSet {
	return NewTemplateSet(builtinTemplates)
}

func (s *TemplateSet) Lookup(typ domain.NotificationType, channel domain.NotificationChannel) (Template, bool) {
	t, ok := s.byKey[templateKey{typ, channel}]
	return t, ok
}

func (s *TemplateSet) All() []Template {
	return s.all
}

// Render replaces every {{key}} in text with data[key] in a single left to
// right pass. Substituted values are never rescanned, and placeholders
// without a matching key stay in the output as written.
func Render(text string, data map[string]string) string {
	var b strings.Builder
	b.Grow(len(text))

	for {
		start := strings.Index(text, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(text[start+2:], "}}")
		if end < 0 {
			break
		}
		end += start + 2

		b.WriteString(text[:start])
		if v, ok := data[text[start+2:end]]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(text[start : end+2])
		}
		text = text[end+2:]
	}

	b.WriteString(text)
	return b.String()
}
