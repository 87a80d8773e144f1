// Package authz is the decision engine gating every mutating
// operation. Decide is a pure precedence ladder over explicit enums;
// the only I/O is the membership lookup. The owner-count guard is a
// separate precondition that must run inside the same transaction as
// the membership write it protects.
package authz

import (
	"context"

	"boardflow/apperr"
	"boardflow/models"
	"boardflow/store"
)

// Action enumerates every operation the engine can gate.
type Action string

const (
	ProjectRead   Action = "project.read"
	ProjectUpdate Action = "project.update"
	ProjectDelete Action = "project.delete"
	MemberUpdate  Action = "member.update"
	MemberRemove  Action = "member.remove"
	TaskCreate    Action = "task.create"
	TaskUpdate    Action = "task.update"
	TaskDelete    Action = "task.delete"
	CommentCreate Action = "comment.create"
	CommentUpdate Action = "comment.update"
	CommentDelete Action = "comment.delete"
)

// requirement is what a non-admin member must satisfy for an action.
type requirement int

const (
	// reqMember: any membership in the project suffices.
	reqMember requirement = iota
	// reqManage: membership role must be owner or manager.
	reqManage
	// reqCreatorOrManage: resource creator, or owner/manager.
	reqCreatorOrManage
	// reqAuthor: resource author only.
	reqAuthor
	// reqAuthorOrManage: resource author, or owner/manager.
	reqAuthorOrManage
)

// rules maps each action to the requirement a plain member must meet.
// Global admin and the not-a-member cases are handled before this
// table is consulted.
var rules = map[Action]requirement{
	ProjectRead:   reqMember,
	ProjectUpdate: reqManage,
	ProjectDelete: reqManage,
	MemberUpdate:  reqManage,
	MemberRemove:  reqManage,
	TaskCreate:    reqMember,
	TaskUpdate:    reqCreatorOrManage,
	TaskDelete:    reqCreatorOrManage,
	CommentCreate: reqMember,
	CommentUpdate: reqAuthor,
	CommentDelete: reqAuthorOrManage,
}

// Resource describes the target of an action. OwnerID is the task
// creator or comment author for the creator/author requirements; zero
// when the action has no per-resource owner.
type Resource struct {
	ProjectID     uint
	ProjectStatus models.ProjectStatus
	OwnerID       uint
}

// Decision is the engine's verdict. Reason is a machine-readable code
// (apperr.Reason*) when Allowed is false.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Engine decides allow/deny for an actor, action and resource.
type Engine struct {
	members store.MembershipStore
}

func NewEngine(members store.MembershipStore) *Engine {
	return &Engine{members: members}
}

// Decide evaluates the precedence ladder: global admin first, then the
// membership lookup (with the in_progress read exception), then the
// per-action requirement. First match wins.
func (e *Engine) Decide(ctx context.Context, actorID uint, action Action, res Resource) (Decision, error) {
	isAdmin, err := e.members.HasGlobalRole(ctx, actorID, models.GlobalRoleAdmin)
	if err != nil {
		return Decision{}, err
	}
	if isAdmin {
		return allow(), nil
	}

	membership, err := e.members.GetMembership(ctx, res.ProjectID, actorID)
	if err != nil {
		return Decision{}, err
	}
	if membership == nil {
		// Active projects are discoverable by any authenticated user.
		if action == ProjectRead && res.ProjectStatus == models.ProjectInProgress {
			return allow(), nil
		}
		return deny(apperr.ReasonNotAMember), nil
	}

	req, ok := rules[action]
	if !ok {
		return deny(apperr.ReasonInsufficientRole), nil
	}

	switch req {
	case reqMember:
		return allow(), nil
	case reqManage:
		if membership.Role.CanManage() {
			return allow(), nil
		}
	case reqCreatorOrManage, reqAuthorOrManage:
		if actorID == res.OwnerID || membership.Role.CanManage() {
			return allow(), nil
		}
	case reqAuthor:
		if actorID == res.OwnerID {
			return allow(), nil
		}
	}
	return deny(apperr.ReasonInsufficientRole), nil
}

// Authorize is Decide folded into the error taxonomy: nil on allow,
// an AuthorizationError carrying the reason on deny.
func (e *Engine) Authorize(ctx context.Context, actorID uint, action Action, res Resource) error {
	d, err := e.Decide(ctx, actorID, action, res)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return apperr.Forbidden(d.Reason)
	}
	return nil
}

// GuardOwnerChange rejects a membership mutation that would leave a
// populated project without an owner. newRole nil means removal. The
// caller must invoke this inside the same transaction as the write,
// passing the transaction-scoped store, so the count it reads cannot
// go stale before the write lands (two concurrent demotions must not
// both pass).
func GuardOwnerChange(ctx context.Context, members store.MembershipStore, projectID, targetUserID uint, newRole *models.ProjectRole) error {
	current, err := members.ListMembers(ctx, projectID, true)
	if err != nil {
		return err
	}

	var target *models.ProjectMembership
	owners := 0
	for i := range current {
		if current[i].Role == models.RoleOwner {
			owners++
		}
		if current[i].UserID == targetUserID {
			target = &current[i]
		}
	}

	if target == nil || target.Role != models.RoleOwner {
		return nil
	}
	if newRole != nil && *newRole == models.RoleOwner {
		return nil
	}
	if owners <= 1 {
		return apperr.Forbidden(apperr.ReasonLastOwnerProtected)
	}
	return nil
}
