package fanout

import (
	"encoding/json"

	"boardflow/models"
)

// Kind enumerates the domain mutation events the engine fans out.
type Kind string

const (
	TaskCreated    Kind = "task.created"
	TaskUpdated    Kind = "task.updated"
	TaskDeleted    Kind = "task.deleted"
	CommentCreated Kind = "comment.created"
	CommentUpdated Kind = "comment.updated"
	CommentDeleted Kind = "comment.deleted"
	ProjectUpdated Kind = "project.updated"
	MemberChanged  Kind = "member.changed"
)

// Event is one domain mutation. ActorID is excluded from every
// audience. The optional fields feed the audience resolvers: AssigneeID
// for task events, NewProjectStatus for the tester broadening on
// project.updated.
type Event struct {
	Kind      Kind   `json:"kind"`
	ProjectID uint   `json:"project_id"`
	ActorID   uint   `json:"actor_id"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`

	TaskID           *uint                `json:"task_id,omitempty"`
	CommentID        *uint                `json:"comment_id,omitempty"`
	AssigneeID       *uint                `json:"assignee_id,omitempty"`
	NewProjectStatus models.ProjectStatus `json:"new_project_status,omitempty"`
}

// Recipient pairs an audience member with the notification type their
// copy carries. Testers pulled in by the in_progress broadening get
// the tagged type so clients can label those differently.
type Recipient struct {
	UserID uint   `json:"user_id"`
	Type   string `json:"type"`
}

// Envelope is what crosses the pub/sub channel: the event plus its
// resolved audience, so a subscribing process only has to match
// recipients against the connections it holds.
type Envelope struct {
	Event      Event       `json:"event"`
	Recipients []Recipient `json:"recipients"`
}

func (env Envelope) Marshal() ([]byte, error) {
	return json.Marshal(env)
}

func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
