package telegram

import "context"

// Notifier sends processor results to the user's private chat, whose id
// equals the user id.
type Notifier struct {
	client *Client
}

func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) Notify(ctx context.Context, userID int64, message string) error {
	return n.client.SendMessage(ctx, userID, message, nil)
}
