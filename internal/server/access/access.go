// Package access resolves callers from bearer tokens and decides who may
// read or mutate files and folders.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/cryptox"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/auth"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
)

// UserLookup is the part of the users repository access needs.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Decision is the outcome of an ownership check.
type Decision int

const (
	Allowed Decision = iota
	Missing
	NotOwner
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Missing:
		return "missing"
	default:
		return "not owner"
	}
}

// Err maps a decision to the error returned to callers. Missing and
// NotOwner both become common.ErrorNotFound so existence never leaks.
func (d Decision) Err() error {
	if d == Allowed {
		return nil
	}
	return common.ErrorNotFound
}

// Owns is the single ownership predicate used by every mutation.
func Owns(callerID, ownerID string) Decision {
	if ownerID == "" {
		return Missing
	}
	if callerID == "" || callerID != ownerID {
		return NotOwner
	}
	return Allowed
}

// OwnsFound combines a repository lookup with Owns: a lookup that failed
// with common.ErrorNotFound is Missing, any other failure is returned as is.
func OwnsFound(callerID, ownerID string, lookupErr error) error {
	if lookupErr != nil {
		if errors.Is(lookupErr, common.ErrorNotFound) {
			return Missing.Err()
		}
		return lookupErr
	}
	return Owns(callerID, ownerID).Err()
}

type Authenticator struct {
	users  UserLookup
	secret []byte
}

func NewAuthenticator(users UserLookup, secret []byte) *Authenticator {
	return &Authenticator{users: users, secret: secret}
}

// Resolve turns an Authorization header value into the calling user.
func (a *Authenticator) Resolve(ctx context.Context, header string) (*models.User, error) {
	token, ok := strings.CutPrefix(strings.TrimSpace(header), common.BearerPrefix)
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, fmt.Errorf("%w: missing bearer token", common.ErrorUnauthorized)
	}

	userID, err := auth.GetUserIDFromToken(token, a.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrorUnauthorized, err)
	}

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: user no longer exists", common.ErrorUnauthorized)
		}
		return nil, err
	}
	return user, nil
}

// VerifyPasscode checks passcode against the user's configured file passcode.
func VerifyPasscode(u *models.User, passcode string) error {
	if !u.HasPasscode() {
		return common.ErrPasscodeNotConfigured
	}
	if passcode == "" || !cryptox.Matches(u.FilePasscodeHash, passcode) {
		return fmt.Errorf("%w: incorrect passcode", common.ErrorForbidden)
	}
	return nil
}

type Policy struct {
	users UserLookup
}

func NewPolicy(users UserLookup) *Policy {
	return &Policy{users: users}
}

// CanReadFile decides whether caller (nil when anonymous) may read f.
//
// The owner always may. Anyone else needs the file to be shared or to
// present a passcode; for a locked file the passcode must match the
// owner's, even when the file is shared.
func (p *Policy) CanReadFile(ctx context.Context, caller *models.User, f *models.File, passcode string) error {
	var callerID string
	if caller != nil {
		callerID = caller.ID
	}
	if Owns(callerID, f.OwnerID) == Allowed {
		return nil
	}

	if !f.IsLocked {
		if f.IsShared() {
			return nil
		}
		return common.ErrorNotFound
	}

	if !f.IsShared() && passcode == "" {
		return common.ErrorNotFound
	}

	owner, err := p.users.GetByID(ctx, f.OwnerID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return err
	}
	return VerifyPasscode(owner, passcode)
}
