package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicatesMatchTheirType(t *testing.T) {
	assert.True(t, IsAuthentication(Unauthenticated("no token")))
	assert.True(t, IsAuthorization(Forbidden(ReasonNotAMember)))
	assert.True(t, IsConflict(Conflict("stale board")))
	assert.True(t, IsValidation(Invalid("bad input")))
	assert.True(t, IsTransient(Transient(errors.New("connection reset"))))

	assert.False(t, IsAuthorization(Unauthenticated("no token")))
	assert.False(t, IsConflict(Invalid("bad input")))
	assert.False(t, IsValidation(nil))
}

func TestAuthorizationReason(t *testing.T) {
	assert.Equal(t, ReasonInsufficientRole, AuthorizationReason(Forbidden(ReasonInsufficientRole)))
	assert.Equal(t, "", AuthorizationReason(Invalid("bad input")))
	assert.Equal(t, "", AuthorizationReason(nil))
}

func TestPredicatesUnwrap(t *testing.T) {
	wrapped := fmt.Errorf("reorder failed: %w", Conflict("bucket changed"))
	assert.True(t, IsConflict(wrapped))

	deeper := fmt.Errorf("handler: %w", fmt.Errorf("guard: %w", Forbidden(ReasonLastOwnerProtected)))
	assert.True(t, IsAuthorization(deeper))
	assert.Equal(t, ReasonLastOwnerProtected, AuthorizationReason(deeper))
}

func TestTransientPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Transient(cause)
	assert.ErrorIs(t, err, cause)
}
