package service

import (
	"context"

	"github.com/study-hub/internal/models"
)

// NotificationService serves an account's web notifications
type NotificationService struct {
	notifications NotificationStore
}

// NewNotificationService creates a new notification service
func NewNotificationService(notifications NotificationStore) *NotificationService {
	return &NotificationService{notifications: notifications}
}

// NotificationList splits notifications into unread and read
type NotificationList struct {
	New []*models.Notification `json:"new"`
	Old []*models.Notification `json:"old"`
}

// CountUnread returns the number of unread notifications
func (s *NotificationService) CountUnread(ctx context.Context, accountID string) (int, error) {
	return s.notifications.CountUnread(ctx, accountID)
}

// ListNotifications returns both unread and read notifications, newest first
func (s *NotificationService) ListNotifications(ctx context.Context, accountID string) (*NotificationList, error) {
	unread, err := s.notifications.ListByAccount(ctx, accountID, false)
	if err != nil {
		return nil, err
	}
	read, err := s.notifications.ListByAccount(ctx, accountID, true)
	if err != nil {
		return nil, err
	}
	return &NotificationList{New: unread, Old: read}, nil
}

// MarkRead marks the given notifications of accountID as read. Ids that
// belong to other accounts are ignored.
func (s *NotificationService) MarkRead(ctx context.Context, accountID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.notifications.MarkRead(ctx, accountID, ids)
}
