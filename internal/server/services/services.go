// Package services holds the business rules of cloudkeeper: accounts and
// sessions, the file lifecycle, folders, storage accounting and the
// dashboard.
package services

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/dbx"
	"github.com/google/uuid"
)

// withTx is the transaction runner used by every service; tests replace it.
var withTx = dbx.WithTx

const (
	minUserNameLength = 3
	minPasswordLength = 6
	minPasscodeLength = 4
	maxNameLength     = 255

	duplicateSuffix = "_copy"

	// shareSlugBytes random bytes give a 12 character hex slug.
	shareSlugBytes    = 6
	shareSlugAttempts = 3

	resetTokenBytes   = 32
	refreshTokenBytes = 32

	dayLayout   = "2-01-2006"
	monthLayout = "01-2006"
)

var allowedMimeTypes = map[string]struct{}{
	"image/jpg":          {},
	"image/jpeg":         {},
	"image/png":          {},
	"image/webp":         {},
	"application/pdf":    {},
	"text/plain":         {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

// checkID rejects ids that cannot exist so malformed input reads as not found.
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrorNotFound
	}
	return nil
}

// cleanName trims a display name and enforces it is present and bounded.
func cleanName(name, what string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: %s is required", common.ErrorBadRequest, what)
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: %s is too long", common.ErrorBadRequest, what)
	}
	return name, nil
}
