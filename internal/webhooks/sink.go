package webhooks

import (
	"context"

	"github.com/protrace/protrace/internal/anchor"
)

// AnchorNotification is the payload of a root.anchored event.
type AnchorNotification struct {
	Payload      anchor.Payload       `json:"payload"`
	Confirmation *anchor.Confirmation `json:"confirmation"`
}

// Sink wraps an anchor.Sink and announces every successful anchoring to the
// notifier's endpoints. Delivery is asynchronous and never fails the anchor.
type Sink struct {
	Next     anchor.Sink
	Notifier *Notifier
}

// Anchor implements anchor.Sink.
func (s Sink) Anchor(ctx context.Context, p anchor.Payload) (*anchor.Confirmation, error) {
	conf, err := s.Next.Anchor(ctx, p)
	if err != nil {
		return nil, err
	}
	s.Notifier.Dispatch(context.WithoutCancel(ctx), NewEvent(EventRootAnchored, AnchorNotification{
		Payload:      p,
		Confirmation: conf,
	}))
	return conf, nil
}
