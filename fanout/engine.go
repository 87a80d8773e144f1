// Package fanout resolves which users must hear about a domain
// mutation, persists a durable notification row per recipient, and
// broadcasts the event over the distributed pub/sub channel so
// whichever process holds a recipient's connection can deliver it.
// Live delivery failure is non-fatal to the triggering request; the
// notification row is already committed by then.
package fanout

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"boardflow/apperr"
	"boardflow/models"
	"boardflow/store"
)

// Broker is the distributed broadcast medium. Every server process
// publishes to and subscribes from the same channel.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
}

// resolver computes the raw audience for one event kind. Duplicates
// across rules are fine; the engine dedupes before persisting.
type resolver func(ctx context.Context, s store.MembershipStore, ev Event) ([]Recipient, error)

// resolvers is the dispatch table from event kind to audience rule.
// Adding a Kind without an entry here fails loudly in Publish.
var resolvers = map[Kind]resolver{
	TaskCreated:    resolveTaskAudience,
	TaskUpdated:    resolveTaskAudience,
	TaskDeleted:    resolveTaskAudience,
	CommentCreated: resolveMembersAudience(models.NotificationTypeComment),
	CommentUpdated: resolveMembersAudience(models.NotificationTypeComment),
	CommentDeleted: resolveMembersAudience(models.NotificationTypeComment),
	ProjectUpdated: resolveProjectUpdatedAudience,
	MemberChanged:  resolveMembersAudience(models.NotificationTypeMember),
}

// resolveMembersAudience covers the events every current member must
// hear about.
func resolveMembersAudience(notifType string) resolver {
	return func(ctx context.Context, s store.MembershipStore, ev Event) ([]Recipient, error) {
		members, err := s.ListMembers(ctx, ev.ProjectID, false)
		if err != nil {
			return nil, err
		}
		out := make([]Recipient, 0, len(members))
		for _, m := range members {
			out = append(out, Recipient{UserID: m.UserID, Type: notifType})
		}
		return out, nil
	}
}

// resolveTaskAudience: the task's assignee plus everyone with manage
// rights on the project.
func resolveTaskAudience(ctx context.Context, s store.MembershipStore, ev Event) ([]Recipient, error) {
	members, err := s.ListMembers(ctx, ev.ProjectID, false)
	if err != nil {
		return nil, err
	}
	var out []Recipient
	for _, m := range members {
		if m.Role.CanManage() {
			out = append(out, Recipient{UserID: m.UserID, Type: models.NotificationTypeTask})
		}
	}
	if ev.AssigneeID != nil {
		out = append(out, Recipient{UserID: *ev.AssigneeID, Type: models.NotificationTypeTask})
	}
	return out, nil
}

// resolveProjectUpdatedAudience: all members, and on the transition
// into in_progress additionally every global tester who is not
// already a member, tagged so clients can tell the copies apart. The
// broadening applies to that transition only.
func resolveProjectUpdatedAudience(ctx context.Context, s store.MembershipStore, ev Event) ([]Recipient, error) {
	members, err := s.ListMembers(ctx, ev.ProjectID, false)
	if err != nil {
		return nil, err
	}
	memberSet := make(map[uint]bool, len(members))
	out := make([]Recipient, 0, len(members))
	for _, m := range members {
		memberSet[m.UserID] = true
		out = append(out, Recipient{UserID: m.UserID, Type: models.NotificationTypeProject})
	}

	if ev.NewProjectStatus == models.ProjectInProgress {
		testers, err := s.ListGlobalTesters(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range testers {
			if !memberSet[t.ID] {
				out = append(out, Recipient{UserID: t.ID, Type: models.NotificationTypeTesterBroadened})
			}
		}
	}
	return out, nil
}

type Engine struct {
	store  store.Store
	broker Broker
	log    *logrus.Logger
}

func NewEngine(s store.Store, broker Broker, log *logrus.Logger) *Engine {
	return &Engine{store: s, broker: broker, log: log}
}

// Publish resolves the audience, writes one notification row per
// recipient, then broadcasts the envelope. The rows commit before the
// broadcast is attempted: a client that misses the live push pulls
// them on reconnect. A user matched by several rules gets exactly one
// row; the actor gets none.
func (e *Engine) Publish(ctx context.Context, ev Event) error {
	resolve, ok := resolvers[ev.Kind]
	if !ok {
		return apperr.Invalid("unknown event kind %q", ev.Kind)
	}

	raw, err := resolve(ctx, e.store, ev)
	if err != nil {
		return err
	}

	// Dedup, first matching rule wins, actor excluded.
	seen := make(map[uint]bool, len(raw))
	recipients := make([]Recipient, 0, len(raw))
	for _, r := range raw {
		if r.UserID == ev.ActorID || seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true
		recipients = append(recipients, r)
	}
	if len(recipients) == 0 {
		return nil
	}

	rows := make([]models.Notification, 0, len(recipients))
	projectID := ev.ProjectID
	for _, r := range recipients {
		rows = append(rows, models.Notification{
			UserID:    r.UserID,
			Message:   ev.Message,
			Type:      r.Type,
			Link:      ev.Link,
			ProjectID: &projectID,
			CommentID: ev.CommentID,
		})
	}
	if err := e.store.CreateNotifications(ctx, rows); err != nil {
		return err
	}

	payload, err := Envelope{Event: ev, Recipients: recipients}.Marshal()
	if err != nil {
		return err
	}
	if err := e.broker.Publish(ctx, payload); err != nil {
		// Rows are durable; the live push is best effort. Surface the
		// failure for operability and move on.
		e.log.WithFields(logrus.Fields{
			"kind":       ev.Kind,
			"project_id": ev.ProjectID,
			"recipients": len(recipients),
		}).WithError(err).Error("live fan-out publish failed")
		sentry.CaptureException(err)
	}
	return nil
}

// PublishAsync runs Publish off the request path. Mutating handlers
// must not block on notification work.
func (e *Engine) PublishAsync(ev Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Publish(ctx, ev); err != nil {
			e.log.WithField("kind", ev.Kind).WithError(err).Error("fan-out failed")
			sentry.CaptureException(err)
		}
	}()
}
