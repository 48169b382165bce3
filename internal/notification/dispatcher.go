// Package notification turns committed domain events into web notifications
// and emails for each affected account, honoring its delivery settings.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/eventbus"
	"github.com/study-hub/internal/logging"
	"github.com/study-hub/internal/mail"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/retry"
	"github.com/study-hub/internal/types"
)

// AccountReader resolves recipients
type AccountReader interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByIDs(ctx context.Context, ids []string) ([]*models.Account, error)
	FindByTagsAndZones(ctx context.Context, tags []models.Tag, zones []models.Zone) ([]*models.Account, error)
}

// StudyReader loads the study aggregates a dispatch needs
type StudyReader interface {
	LoadStudyWithTagsAndZones(ctx context.Context, id string) (*models.Study, error)
	LoadStudyWithManagersAndMembers(ctx context.Context, id string) (*models.Study, error)
}

// EventReader loads events
type EventReader interface {
	LoadEventWithEnrollments(ctx context.Context, id string) (*models.Event, error)
}

// NotificationWriter persists web notifications
type NotificationWriter interface {
	Save(ctx context.Context, notification *models.Notification) error
}

// DeliveryLog records the outcome of every delivery
type DeliveryLog interface {
	Record(ctx context.Context, record models.DeliveryRecord) error
}

// Subscriber is the registration side of the event bus
type Subscriber interface {
	Subscribe(eventType types.DomainEventType, name string, handler eventbus.Handler) error
}

// notificationSpace namespaces the ids of web notifications derived from a
// domain event and its recipient
var notificationSpace = uuid.MustParse("5b0d3c9e-8f53-4d0c-9a57-2f1c6e7a4b21")

// NotificationID is the id of the web notification event produces for
// accountID. A redelivered event maps to the same row.
func NotificationID(eventID, accountID string) string {
	return uuid.NewSHA1(notificationSpace, []byte(eventID+"/"+accountID)).String()
}

// Config holds link and retry settings
type Config struct {
	Host       string
	SiteName   string
	EmailRetry retry.Config
	SaveRetry  retry.Config
}

// Report counts what one dispatch produced
type Report struct {
	Audience         int
	Emails           int
	WebNotifications int
	Failures         int
}

// Dispatcher fans domain events out to their audience
type Dispatcher struct {
	accounts      AccountReader
	studies       StudyReader
	events        EventReader
	notifications NotificationWriter
	sender        mail.Sender
	renderer      mail.Renderer
	deliveries    DeliveryLog
	cfg           Config
	now           func() time.Time
}

// NewDispatcher creates a dispatcher. A nil clock means time.Now.
func NewDispatcher(
	accounts AccountReader,
	studies StudyReader,
	events EventReader,
	notifications NotificationWriter,
	sender mail.Sender,
	renderer mail.Renderer,
	deliveries DeliveryLog,
	cfg Config,
	now func() time.Time,
) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		accounts:      accounts,
		studies:       studies,
		events:        events,
		notifications: notifications,
		sender:        sender,
		renderer:      renderer,
		deliveries:    deliveries,
		cfg:           cfg,
		now:           now,
	}
}

// Register subscribes the dispatcher to the three notification events
func (d *Dispatcher) Register(bus Subscriber) error {
	handlers := map[types.DomainEventType]func(context.Context, models.DomainEvent) (*Report, error){
		types.EventStudyCreated:      d.DispatchStudyCreated,
		types.EventStudyUpdated:      d.DispatchStudyUpdated,
		types.EventEnrollmentDecided: d.DispatchEnrollmentDecided,
	}
	for _, eventType := range types.AllDomainEventTypes() {
		dispatch := handlers[eventType]
		err := bus.Subscribe(eventType, "notification."+string(eventType), func(ctx context.Context, event models.DomainEvent) error {
			_, err := dispatch(ctx, event)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// message is what every recipient of one dispatch gets
type message struct {
	title       string
	link        string
	webMessage  string
	mailMessage string
	subject     string
	kind        types.NotificationType
	byEmail     func(models.NotificationSettings) bool
	byWeb       func(models.NotificationSettings) bool
}

// DispatchStudyCreated notifies accounts sharing a tag and a zone with the study
func (d *Dispatcher) DispatchStudyCreated(ctx context.Context, event models.DomainEvent) (*Report, error) {
	study, err := d.studies.LoadStudyWithTagsAndZones(ctx, event.StudyID)
	if err != nil {
		return nil, fmt.Errorf("load study %s: %w", event.StudyID, err)
	}
	audience, err := d.accounts.FindByTagsAndZones(ctx, study.Tags, study.Zones)
	if err != nil {
		return nil, fmt.Errorf("resolve audience of study %s: %w", study.Path, err)
	}

	return d.fanOut(ctx, event, audience, message{
		title:       study.Title,
		link:        study.Link(),
		webMessage:  study.ShortDescription,
		mailMessage: fmt.Sprintf("A new study '%s' has opened.", study.Title),
		subject:     fmt.Sprintf("[%s] New study '%s' opened", d.cfg.SiteName, study.Title),
		kind:        types.NotificationStudyCreated,
		byEmail:     func(s models.NotificationSettings) bool { return s.StudyCreatedByEmail },
		byWeb:       func(s models.NotificationSettings) bool { return s.StudyCreatedByWeb },
	}), nil
}

// DispatchStudyUpdated notifies the study's managers and members once each
func (d *Dispatcher) DispatchStudyUpdated(ctx context.Context, event models.DomainEvent) (*Report, error) {
	study, err := d.studies.LoadStudyWithManagersAndMembers(ctx, event.StudyID)
	if err != nil {
		return nil, fmt.Errorf("load study %s: %w", event.StudyID, err)
	}
	audience, err := d.accounts.FindByIDs(ctx, study.Audience())
	if err != nil {
		return nil, fmt.Errorf("resolve audience of study %s: %w", study.Path, err)
	}

	return d.fanOut(ctx, event, audience, message{
		title:       study.Title,
		link:        study.Link(),
		webMessage:  event.Message,
		mailMessage: event.Message,
		subject:     fmt.Sprintf("[%s] News from study '%s'", d.cfg.SiteName, study.Title),
		kind:        types.NotificationStudyUpdated,
		byEmail:     func(s models.NotificationSettings) bool { return s.StudyUpdatedByEmail },
		byWeb:       func(s models.NotificationSettings) bool { return s.StudyUpdatedByWeb },
	}), nil
}

// DispatchEnrollmentDecided tells the enrollee whether they were accepted
func (d *Dispatcher) DispatchEnrollmentDecided(ctx context.Context, event models.DomainEvent) (*Report, error) {
	study, err := d.studies.LoadStudyWithManagersAndMembers(ctx, event.StudyID)
	if err != nil {
		return nil, fmt.Errorf("load study %s: %w", event.StudyID, err)
	}
	ev, err := d.events.LoadEventWithEnrollments(ctx, event.EventID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// cancelled in the meantime, the cancellation notice covers it
			logging.FromContext(ctx).WithField("event", event.EventID).Info("Skipping decision for deleted event")
			return &Report{}, nil
		}
		return nil, fmt.Errorf("load event %s: %w", event.EventID, err)
	}
	account, err := d.accounts.FindByID(ctx, event.AccountID)
	if err != nil {
		return nil, fmt.Errorf("resolve enrollee %s: %w", event.AccountID, err)
	}

	decision := "rejected"
	if event.Accepted {
		decision = "accepted"
	}
	msg := fmt.Sprintf("Your enrollment in '%s' was %s.", ev.Title, decision)

	return d.fanOut(ctx, event, []*models.Account{account}, message{
		title:       study.Title,
		link:        ev.Link(study),
		webMessage:  msg,
		mailMessage: msg,
		subject:     fmt.Sprintf("[%s] Enrollment result for '%s'", d.cfg.SiteName, ev.Title),
		kind:        types.NotificationEventEnrollment,
		byEmail:     func(s models.NotificationSettings) bool { return s.StudyRegistrationResultByEmail },
		byWeb:       func(s models.NotificationSettings) bool { return s.StudyRegistrationResultByWeb },
	}), nil
}

// fanOut delivers msg to every account independently. A failure for one
// recipient is logged and recorded but never stops the others. The bus
// tags ctx's logger with the event.
func (d *Dispatcher) fanOut(ctx context.Context, event models.DomainEvent, audience []*models.Account, msg message) *Report {
	logger := logging.FromContext(ctx)
	report := &Report{}
	seen := make(map[string]struct{}, len(audience))

	for _, account := range audience {
		if _, dup := seen[account.ID]; dup {
			continue
		}
		seen[account.ID] = struct{}{}
		report.Audience++

		if msg.byEmail(account.Notifications) {
			attempts, err := d.sendEmail(ctx, account, msg)
			d.record(ctx, event, account, types.ChannelEmail, attempts, err)
			if err != nil {
				report.Failures++
				logger.WithField("account", account.ID).
					WithError(apperrors.NewDispatchFailure("email", account.Email, err)).
					Warn("Dropping email after retries")
			} else {
				report.Emails++
			}
		}

		if msg.byWeb(account.Notifications) {
			attempts, err := d.saveNotification(ctx, event, account, msg)
			d.record(ctx, event, account, types.ChannelWeb, attempts, err)
			if err != nil {
				report.Failures++
				logger.WithField("account", account.ID).
					WithError(apperrors.NewDispatchFailure("web", account.ID, err)).
					Warn("Dropping web notification after retries")
			} else {
				report.WebNotifications++
			}
		}
	}

	logger.WithFields(map[string]interface{}{
		"audience": report.Audience,
		"emails":   report.Emails,
		"web":      report.WebNotifications,
		"failures": report.Failures,
	}).Info("Notifications dispatched")
	return report
}

func (d *Dispatcher) sendEmail(ctx context.Context, account *models.Account, msg message) (int, error) {
	text, html, err := d.renderer.Render(mail.SimpleLink, mail.LinkData{
		SiteName: d.cfg.SiteName,
		Nickname: account.Nickname,
		Message:  msg.mailMessage,
		Host:     d.cfg.Host,
		Link:     msg.link,
		LinkName: msg.title,
	})
	if err != nil {
		return 0, err
	}
	email := mail.Email{To: account.Email, Subject: msg.subject, TextBody: text, HTMLBody: html}

	result := retry.WithExponentialBackoff(ctx, d.cfg.EmailRetry, func(ctx context.Context, _ int) error {
		return d.sender.Send(ctx, email)
	})
	return result.Attempts, result.Err()
}

func (d *Dispatcher) saveNotification(ctx context.Context, event models.DomainEvent, account *models.Account, msg message) (int, error) {
	n := &models.Notification{
		ID:        NotificationID(event.ID, account.ID),
		Title:     msg.title,
		Link:      msg.link,
		Message:   msg.webMessage,
		AccountID: account.ID,
		Type:      msg.kind,
		CreatedAt: d.now(),
	}
	result := retry.WithExponentialBackoff(ctx, d.cfg.SaveRetry, func(ctx context.Context, _ int) error {
		return d.notifications.Save(ctx, n)
	})
	return result.Attempts, result.Err()
}

func (d *Dispatcher) record(ctx context.Context, event models.DomainEvent, account *models.Account, channel types.Channel, attempts int, deliveryErr error) {
	if d.deliveries == nil {
		return
	}
	rec := models.DeliveryRecord{
		EventID:     event.ID,
		EventType:   event.Type,
		AccountID:   account.ID,
		Channel:     channel,
		Status:      types.DeliveryDelivered,
		Attempts:    attempts,
		DeliveredAt: d.now(),
	}
	if deliveryErr != nil {
		rec.Status = types.DeliveryFailed
		rec.Error = deliveryErr.Error()
	}
	if err := d.deliveries.Record(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
		logging.FromContext(ctx).WithError(err).Warn("Failed to record delivery")
	}
}
