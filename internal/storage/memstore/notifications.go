package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/study-hub/internal/models"
)

// Notifications is the web notification view
type Notifications struct{ s *Store }

// Notifications returns the notification store
func (s *Store) Notifications() *Notifications { return &Notifications{s: s} }

// Save inserts a notification; an existing id is left as it is
func (n *Notifications) Save(ctx context.Context, notification *models.Notification) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if _, ok := n.s.notifications[notification.ID]; ok {
		return nil
	}
	put(ctx, n.s.notifications, notification.ID, cloneNotification(notification))
	return nil
}

// CountUnread counts the account's unchecked notifications
func (n *Notifications) CountUnread(_ context.Context, accountID string) (int, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	count := 0
	for _, item := range n.s.notifications {
		if item.AccountID == accountID && !item.Checked {
			count++
		}
	}
	return count, nil
}

// ListByAccount returns notifications with the given checked state, newest first
func (n *Notifications) ListByAccount(_ context.Context, accountID string, checked bool) ([]*models.Notification, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	var out []*models.Notification
	for _, item := range n.s.notifications {
		if item.AccountID == accountID && item.Checked == checked {
			out = append(out, cloneNotification(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkRead checks the account's notifications among ids
func (n *Notifications) MarkRead(ctx context.Context, accountID string, ids []string) (int, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	changed := 0
	for _, id := range ids {
		item, ok := n.s.notifications[id]
		if !ok || item.AccountID != accountID || item.Checked {
			continue
		}
		c := cloneNotification(item)
		c.Checked = true
		put(ctx, n.s.notifications, id, c)
		changed++
	}
	return changed, nil
}

// All returns every stored notification, oldest first
func (n *Notifications) All() []*models.Notification {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	out := make([]*models.Notification, 0, len(n.s.notifications))
	for _, item := range n.s.notifications {
		out = append(out, cloneNotification(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Outbox is the domain event outbox view
type Outbox struct{ s *Store }

// Outbox returns the outbox store
func (s *Store) Outbox() *Outbox { return &Outbox{s: s} }

// Append adds an event to the outbox
func (o *Outbox) Append(ctx context.Context, event *models.DomainEvent) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	put(ctx, o.s.outbox, event.ID, cloneDomainEvent(event))
	return nil
}

// MarkDispatched stamps the event as dispatched
func (o *Outbox) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	event, ok := o.s.outbox[id]
	if !ok || event.DispatchedAt != nil {
		return nil
	}
	c := cloneDomainEvent(event)
	c.DispatchedAt = &at
	put(ctx, o.s.outbox, id, c)
	return nil
}

// IncrementAttempts counts one relay attempt
func (o *Outbox) IncrementAttempts(ctx context.Context, id string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	event, ok := o.s.outbox[id]
	if !ok {
		return nil
	}
	c := cloneDomainEvent(event)
	c.Attempts++
	put(ctx, o.s.outbox, id, c)
	return nil
}

// ListPending returns undispatched events older than olderThan, oldest first
func (o *Outbox) ListPending(_ context.Context, olderThan time.Time, maxAttempts, limit int) ([]*models.DomainEvent, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	var out []*models.DomainEvent
	for _, event := range o.s.outbox {
		if event.DispatchedAt == nil && event.OccurredAt.Before(olderThan) && event.Attempts < maxAttempts {
			out = append(out, cloneDomainEvent(event))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every outbox entry, oldest first
func (o *Outbox) All() []*models.DomainEvent {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	out := make([]*models.DomainEvent, 0, len(o.s.outbox))
	for _, event := range o.s.outbox {
		out = append(out, cloneDomainEvent(event))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out
}

// DeliveryLog keeps delivery records in memory
type DeliveryLog struct {
	mu      sync.Mutex
	records []models.DeliveryRecord
}

// NewDeliveryLog creates an empty delivery log
func NewDeliveryLog() *DeliveryLog { return &DeliveryLog{} }

// Record appends a delivery record
func (d *DeliveryLog) Record(_ context.Context, record models.DeliveryRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, record)
	return nil
}

// Records returns a copy of everything recorded so far
func (d *DeliveryLog) Records() []models.DeliveryRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.DeliveryRecord(nil), d.records...)
}
