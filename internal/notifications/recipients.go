package notifications

import (
	"context"

	"github.com/joao-fontenele/insureflow/internal/domain"
)

// RecipientResolver finds the delivery address of a user on a channel. Bulk
// sends only know user ids.
type RecipientResolver interface {
	Recipient(ctx context.Context, userID string, channel domain.NotificationChannel) (string, error)
}

// MailboxRecipients addresses email to user_<id>@<Domain> and uses the user
// id itself on every other channel. There is no user directory to consult.
type MailboxRecipients struct {
	Domain string
}

func (m MailboxRecipients) Recipient(_ context.Context, userID string, channel domain.NotificationChannel) (string, error) {
	if channel == domain.ChannelEmail {
		d := m.Domain
		if d == "" {
			d = "example.com"
		}
		return "user_" + userID + "@" + d, nil
	}
	return userID, nil
}
