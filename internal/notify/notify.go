// Package notify persists in-app notifications and hands opted-in ones
// to an out-of-band deliverer.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
)

// Deliverer pushes a notification over an external channel. Delivery is
// best effort; failures never undo the persisted row.
type Deliverer interface {
	Deliver(ctx context.Context, user *domain.User, n *domain.Notification) error
}

type Service struct {
	notifications store.NotificationStore
	users         store.UserStore
	settings      store.SettingsStore
	deliverer     Deliverer
	log           zerolog.Logger
}

func NewService(notifications store.NotificationStore, users store.UserStore, settings store.SettingsStore, deliverer Deliverer, log zerolog.Logger) *Service {
	return &Service{
		notifications: notifications,
		users:         users,
		settings:      settings,
		deliverer:     deliverer,
		log:           log.With().Str("component", "notify").Logger(),
	}
}

// Create persists a notification for the user. Unknown event types fall
// into the generic workflow bucket rather than being rejected.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, event string, message, link string) (*domain.Notification, error) {
	n := &domain.Notification{
		UserID:  userID,
		Event:   domain.NormalizeNotificationEvent(event),
		Message: message,
		Link:    link,
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, err
	}
	s.deliver(ctx, n)
	return n, nil
}

func (s *Service) deliver(ctx context.Context, n *domain.Notification) {
	if s.deliverer == nil {
		return
	}
	orgSettings, err := s.settings.OrgSettings(ctx)
	if err != nil || !orgSettings.NotifyEnabled {
		return
	}
	user, err := s.users.Get(ctx, n.UserID)
	if err != nil || !user.NotifyOptIn {
		return
	}
	if err := s.deliverer.Deliver(ctx, user, n); err != nil {
		s.log.Warn().Err(err).
			Stringer("user_id", n.UserID).
			Str("event", string(n.Event)).
			Msg("out-of-band delivery failed")
	}
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Notification, error) {
	return s.notifications.ListByUser(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.notifications.MarkRead(ctx, id)
}
