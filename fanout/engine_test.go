package fanout

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardflow/apperr"
	"boardflow/models"
	"boardflow/store"
)

type fakeAudienceStore struct {
	store.Store
	members map[uint][]models.ProjectMembership
	testers []models.User
	rows    []models.Notification
}

func (f *fakeAudienceStore) ListMembers(_ context.Context, projectID uint, _ bool) ([]models.ProjectMembership, error) {
	return f.members[projectID], nil
}

func (f *fakeAudienceStore) ListGlobalTesters(_ context.Context) ([]models.User, error) {
	return f.testers, nil
}

func (f *fakeAudienceStore) CreateNotifications(_ context.Context, rows []models.Notification) error {
	f.rows = append(f.rows, rows...)
	return nil
}

type fakeBroker struct {
	payloads [][]byte
	err      error
}

func (b *fakeBroker) Publish(_ context.Context, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.payloads = append(b.payloads, payload)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func membership(projectID, userID uint, role models.ProjectRole) models.ProjectMembership {
	return models.ProjectMembership{ProjectID: projectID, UserID: userID, Role: role}
}

func tester(id uint) models.User {
	u := models.User{IsTester: true}
	u.ID = id
	return u
}

func rowsByUser(rows []models.Notification) map[uint]models.Notification {
	out := map[uint]models.Notification{}
	for _, r := range rows {
		out[r.UserID] = r
	}
	return out
}

func TestPublishDedupesOverlappingRules(t *testing.T) {
	f := &fakeAudienceStore{members: map[uint][]models.ProjectMembership{
		10: {
			membership(10, 1, models.RoleOwner),
			membership(10, 2, models.RoleManager),
			membership(10, 3, models.RoleDeveloper),
		},
	}}
	broker := &fakeBroker{}
	e := NewEngine(f, broker, quietLogger())

	// Assignee 2 also has manage rights; both rules match them.
	assignee := uint(2)
	err := e.Publish(context.Background(), Event{
		Kind:       TaskCreated,
		ProjectID:  10,
		ActorID:    1,
		AssigneeID: &assignee,
		Message:    "task created",
	})
	require.NoError(t, err)

	got := rowsByUser(f.rows)
	assert.Len(t, got, 1, "one row per user per event")
	assert.Contains(t, got, uint(2))
}

func TestPublishExcludesActor(t *testing.T) {
	f := &fakeAudienceStore{members: map[uint][]models.ProjectMembership{
		10: {
			membership(10, 1, models.RoleOwner),
			membership(10, 2, models.RoleDeveloper),
		},
	}}
	broker := &fakeBroker{}
	e := NewEngine(f, broker, quietLogger())

	err := e.Publish(context.Background(), Event{
		Kind:      CommentCreated,
		ProjectID: 10,
		ActorID:   1,
		Message:   "new comment",
	})
	require.NoError(t, err)

	got := rowsByUser(f.rows)
	assert.NotContains(t, got, uint(1))
	assert.Contains(t, got, uint(2))
}

func TestPublishTesterBroadening(t *testing.T) {
	f := &fakeAudienceStore{
		members: map[uint][]models.ProjectMembership{
			10: {
				membership(10, 1, models.RoleOwner),
				membership(10, 5, models.RoleTester),
			},
		},
		// 5 is already a member, 7 is not, 8 is not
		testers: []models.User{tester(5), tester(7), tester(8)},
	}
	broker := &fakeBroker{}
	e := NewEngine(f, broker, quietLogger())

	err := e.Publish(context.Background(), Event{
		Kind:             ProjectUpdated,
		ProjectID:        10,
		ActorID:          1,
		Message:          "project moved to in_progress",
		NewProjectStatus: models.ProjectInProgress,
	})
	require.NoError(t, err)

	got := rowsByUser(f.rows)
	require.Len(t, got, 3)

	// Member tester gets the member copy, not the broadened one.
	assert.Equal(t, models.NotificationTypeProject, got[5].Type)
	assert.Equal(t, models.NotificationTypeTesterBroadened, got[7].Type)
	assert.Equal(t, models.NotificationTypeTesterBroadened, got[8].Type)
}

func TestPublishNoBroadeningOutsideInProgress(t *testing.T) {
	f := &fakeAudienceStore{
		members: map[uint][]models.ProjectMembership{
			10: {membership(10, 1, models.RoleOwner), membership(10, 2, models.RoleViewer)},
		},
		testers: []models.User{tester(7)},
	}
	broker := &fakeBroker{}
	e := NewEngine(f, broker, quietLogger())

	err := e.Publish(context.Background(), Event{
		Kind:             ProjectUpdated,
		ProjectID:        10,
		ActorID:          1,
		Message:          "project on hold",
		NewProjectStatus: models.ProjectOnHold,
	})
	require.NoError(t, err)

	got := rowsByUser(f.rows)
	assert.NotContains(t, got, uint(7))
	assert.Contains(t, got, uint(2))
}

func TestPublishBrokerFailureIsNonFatal(t *testing.T) {
	f := &fakeAudienceStore{members: map[uint][]models.ProjectMembership{
		10: {membership(10, 1, models.RoleOwner), membership(10, 2, models.RoleDeveloper)},
	}}
	broker := &fakeBroker{err: errors.New("redis down")}
	e := NewEngine(f, broker, quietLogger())

	err := e.Publish(context.Background(), Event{
		Kind:      MemberChanged,
		ProjectID: 10,
		ActorID:   1,
		Message:   "member changed",
	})
	require.NoError(t, err, "durable rows committed, live push is best effort")
	assert.NotEmpty(t, f.rows)
}

func TestPublishUnknownKindRejected(t *testing.T) {
	e := NewEngine(&fakeAudienceStore{}, &fakeBroker{}, quietLogger())

	err := e.Publish(context.Background(), Event{Kind: Kind("bogus"), ProjectID: 10})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestPublishEnvelopeCarriesResolvedAudience(t *testing.T) {
	f := &fakeAudienceStore{members: map[uint][]models.ProjectMembership{
		10: {membership(10, 1, models.RoleOwner), membership(10, 2, models.RoleDeveloper)},
	}}
	broker := &fakeBroker{}
	e := NewEngine(f, broker, quietLogger())

	err := e.Publish(context.Background(), Event{
		Kind:      CommentCreated,
		ProjectID: 10,
		ActorID:   1,
		Message:   "new comment",
	})
	require.NoError(t, err)

	require.Len(t, broker.payloads, 1)
	env, err := UnmarshalEnvelope(broker.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, CommentCreated, env.Event.Kind)
	require.Len(t, env.Recipients, 1)
	assert.Equal(t, uint(2), env.Recipients[0].UserID)
}

func TestPublishEmptyAudienceSkipsBroadcast(t *testing.T) {
	f := &fakeAudienceStore{members: map[uint][]models.ProjectMembership{
		10: {membership(10, 1, models.RoleOwner)},
	}}
	broker := &fakeBroker{}
	e := NewEngine(f, broker, quietLogger())

	// Actor is the only member; nobody is left to notify.
	err := e.Publish(context.Background(), Event{
		Kind:      CommentCreated,
		ProjectID: 10,
		ActorID:   1,
		Message:   "talking to myself",
	})
	require.NoError(t, err)
	assert.Empty(t, f.rows)
	assert.Empty(t, broker.payloads)
}
