package models

import (
	"time"
)

// UserStatus is the account state stored on the user row. The numeric values
// are persisted and must not be reordered.
type UserStatus int

const (
	StatusNew UserStatus = iota
	StatusConfirmed
	StatusBlocked
	StatusDeleted
	StatusLoggedOut
)

func (s UserStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusConfirmed:
		return "confirmed"
	case StatusBlocked:
		return "blocked"
	case StatusDeleted:
		return "deleted"
	case StatusLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Gender values accepted on the profile.
const (
	GenderUnknown = 0
	GenderMale    = 1
	GenderFemale  = 2
)

// User is the credential row and the anchor of the user's session.
// LastLoginAt is the session epoch: tokens are only valid while the epoch
// they were minted under is still the one stored here.
type User struct {
	ID           string     `db:"id"`
	Mobile       string     `db:"mobile"`
	PasswordHash string     `db:"password_hash"`
	UserName     string     `db:"user_name"`
	Gender       int        `db:"gender"`
	Handle       string     `db:"handle"`
	Avatar       string     `db:"avatar"`
	Status       UserStatus `db:"status"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	LastLoginAt  time.Time  `db:"last_login_at"`
}

// IsAvailable is false for blocked and deleted accounts.
func (u *User) IsAvailable() bool {
	return u.Status != StatusBlocked && u.Status != StatusDeleted
}

func (u *User) IsLoggedOut() bool {
	return u.Status == StatusLoggedOut
}

// Profile is the public view of a user.
type Profile struct {
	ID       string `json:"id"`
	Mobile   string `json:"mobile,omitempty"`
	UserName string `json:"user_name"`
	Gender   int    `json:"gender"`
	Handle   string `json:"user_id"`
	Avatar   string `json:"avatar"`
}

// PublicProfile omits the mobile number.
func (u *User) PublicProfile() Profile {
	return Profile{
		ID:       u.ID,
		UserName: u.UserName,
		Gender:   u.Gender,
		Handle:   u.Handle,
		Avatar:   u.Avatar,
	}
}

// PrivateProfile is what the owner of the account sees.
func (u *User) PrivateProfile() Profile {
	p := u.PublicProfile()
	p.Mobile = u.Mobile
	return p
}

// ProfileUpdate is the set of column changes applied by the credential store.
// Nil fields are left untouched.
type ProfileUpdate struct {
	UserName     *string
	Gender       *int
	Handle       *string
	Avatar       *string
	PasswordHash *string
}

func (p ProfileUpdate) IsEmpty() bool {
	return p.UserName == nil && p.Gender == nil && p.Handle == nil && p.Avatar == nil && p.PasswordHash == nil
}

// Apply copies the non-nil fields onto u.
func (p ProfileUpdate) Apply(u *User) {
	if p.UserName != nil {
		u.UserName = *p.UserName
	}
	if p.Gender != nil {
		u.Gender = *p.Gender
	}
	if p.Handle != nil {
		u.Handle = *p.Handle
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	if p.PasswordHash != nil {
		u.PasswordHash = *p.PasswordHash
	}
}

// EpochPrecision is the resolution at which LastLoginAt is stored and
// embedded in tokens.
const EpochPrecision = time.Millisecond

// NextEpoch returns the epoch for a new login at now. It is always strictly
// after prev so that consecutive logins never share an epoch.
func NextEpoch(prev, now time.Time) time.Time {
	next := now.UTC().Truncate(EpochPrecision)
	if !next.After(prev) {
		next = prev.UTC().Truncate(EpochPrecision).Add(EpochPrecision)
	}
	return next
}

// EpochMillis is the fingerprint representation of an epoch.
func EpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
