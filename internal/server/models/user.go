package models

import "time"

// User is an account. Secrets (password, passcode, reset token) are stored
// as hashes or opaque tokens and never serialised to clients.
type User struct {
	ID                   string
	UserName             string
	Email                string
	PasswordHash         string
	GoogleID             *string
	FilePasscodeHash     string
	StorageUsed          int64
	ResetPasswordToken   string
	ResetPasswordExpires *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasPasscode reports whether the owner configured a file passcode.
func (u *User) HasPasscode() bool {
	return u.FilePasscodeHash != ""
}

// Profile is the client-facing view of a User.
type Profile struct {
	ID          string    `json:"id"`
	UserName    string    `json:"username"`
	Email       string    `json:"email"`
	StorageUsed int64     `json:"storageUsed"`
	HasPasscode bool      `json:"hasPasscode"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (u *User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		UserName:    u.UserName,
		Email:       u.Email,
		StorageUsed: u.StorageUsed,
		HasPasscode: u.HasPasscode(),
		CreatedAt:   u.CreatedAt,
	}
}
