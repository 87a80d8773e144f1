package worker

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"boardflow/fanout"
	"boardflow/realtime"
)

// wirePayload is what a connected client receives for one event. Type
// carries the per-recipient tag, so a tester broadened into a
// project.updated audience sees a different label than a member.
type wirePayload struct {
	Kind      fanout.Kind `json:"kind"`
	Type      string      `json:"type"`
	ProjectID uint        `json:"project_id"`
	Message   string      `json:"message"`
	Link      string      `json:"link,omitempty"`
	TaskID    *uint       `json:"task_id,omitempty"`
	CommentID *uint       `json:"comment_id,omitempty"`
}

// EventWorker drains the distributed pub/sub channel and hands each
// envelope to this process's connection registry, which delivers only
// to the connections it physically holds. Every server process runs
// one.
type EventWorker struct {
	Broker   *fanout.RedisBroker
	Registry *realtime.Registry
	Logger   *logrus.Logger
}

func NewEventWorker(broker *fanout.RedisBroker, registry *realtime.Registry, logger *logrus.Logger) *EventWorker {
	return &EventWorker{
		Broker:   broker,
		Registry: registry,
		Logger:   logger,
	}
}

func (w *EventWorker) Start(ctx context.Context) {
	sub := w.Broker.Subscribe(ctx)
	defer sub.Close()

	w.Logger.Info("event worker started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("event worker shutting down...")
			return
		case msg, ok := <-ch:
			if !ok {
				w.Logger.Warn("pub/sub channel closed")
				return
			}
			w.dispatch([]byte(msg.Payload))
		}
	}
}

func (w *EventWorker) dispatch(payload []byte) {
	env, err := fanout.UnmarshalEnvelope(payload)
	if err != nil {
		w.Logger.WithError(err).Error("dropping malformed envelope")
		return
	}

	for _, r := range env.Recipients {
		body, err := json.Marshal(wirePayload{
			Kind:      env.Event.Kind,
			Type:      r.Type,
			ProjectID: env.Event.ProjectID,
			Message:   env.Event.Message,
			Link:      env.Event.Link,
			TaskID:    env.Event.TaskID,
			CommentID: env.Event.CommentID,
		})
		if err != nil {
			w.Logger.WithError(err).Error("marshal wire payload")
			continue
		}
		w.Registry.Deliver(realtime.UserChannel(r.UserID), body)
	}

	// Admins observe every event on the shared channel regardless of
	// audience membership.
	adminBody, err := json.Marshal(wirePayload{
		Kind:      env.Event.Kind,
		Type:      string(env.Event.Kind),
		ProjectID: env.Event.ProjectID,
		Message:   env.Event.Message,
		Link:      env.Event.Link,
		TaskID:    env.Event.TaskID,
		CommentID: env.Event.CommentID,
	})
	if err != nil {
		return
	}
	w.Registry.Deliver(realtime.ChannelAdmin, adminBody)
}
