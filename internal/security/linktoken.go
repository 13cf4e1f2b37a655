package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Link token purposes. A token minted for one purpose is rejected by every
// other verifier, so a password-reset link can never confirm an account
// deletion.
const (
	PurposeVerifyEmail   = "verify_email"
	PurposePasswordReset = "password_reset"
	PurposeChangeEmail   = "change_email"
	PurposeDeleteAccount = "delete_account"
	PurposeInvitation    = "invitation"
)

type LinkClaims struct {
	Purpose string `json:"purpose"`
	// NewEmail carries the target address for change-email tokens.
	NewEmail string `json:"new_email,omitempty"`
	// InvitationID binds an invitation token to one invitation row.
	InvitationID string `json:"invitation_id,omitempty"`
	jwt.RegisteredClaims
}

// LinkTokenManager signs the short-lived tokens embedded in outbound email
// links. Session tokens are opaque and never go through here.
type LinkTokenManager struct {
	issuer string
	secret []byte
}

func NewLinkTokenManager(issuer, secret string) *LinkTokenManager {
	return &LinkTokenManager{issuer: issuer, secret: []byte(secret)}
}

func (m *LinkTokenManager) Sign(userID uint, purpose string, ttl time.Duration, mutate func(*LinkClaims)) (string, error) {
	claims := LinkClaims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
	}
	if mutate != nil {
		mutate(&claims)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *LinkTokenManager) Parse(raw, purpose string) (*LinkClaims, error) {
	claims := &LinkClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("unexpected token purpose: %s", claims.Purpose)
	}
	return claims, nil
}

// SubjectUserID extracts the user id a link token was minted for.
func (c *LinkClaims) SubjectUserID() (uint, error) {
	id64, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse link token subject: %w", err)
	}
	return uint(id64), nil
}
