package utils

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"boardflow/apperr"
	"boardflow/models"
	"boardflow/realtime"
)

// DBCredentialVerifier resolves a JWT presented at websocket connect
// time to an identity. Injected into the connection registry at
// process start.
type DBCredentialVerifier struct {
	DB *gorm.DB
}

func NewCredentialVerifier(db *gorm.DB) *DBCredentialVerifier {
	return &DBCredentialVerifier{DB: db}
}

func (v *DBCredentialVerifier) Verify(ctx context.Context, credential string) (realtime.Identity, error) {
	if credential == "" {
		return realtime.Identity{}, apperr.Unauthenticated("authorization required")
	}

	claims, err := ParseJWTToken(credential)
	if err != nil {
		return realtime.Identity{}, apperr.Unauthenticated("invalid or expired token")
	}

	var user models.User
	err = v.DB.WithContext(ctx).First(&user, claims.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return realtime.Identity{}, apperr.Unauthenticated("user not found")
	}
	if err != nil {
		return realtime.Identity{}, apperr.Transient(err)
	}
	if !user.IsActive {
		return realtime.Identity{}, apperr.Unauthenticated("account is not active")
	}

	return realtime.Identity{UserID: user.ID, IsAdmin: user.IsAdmin}, nil
}
