package models

import (
	"errors"
	"regexp"
	"unicode/utf8"
)

var (
	ErrInvalidUserName = errors.New("user_name must be 1 to 32 characters")
	ErrInvalidGender   = errors.New("gender must be 0, 1 or 2")
	ErrInvalidHandle   = errors.New("user_id must be 4 to 20 letters, digits or underscores and start with a letter")
	ErrInvalidAvatar   = errors.New("avatar must be at most 512 characters")
	ErrInvalidPassword = errors.New("password must be 6 to 64 characters")
	ErrEmptyPatch      = errors.New("no profile fields to update")
)

var handlePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,19}$`)

// ProfilePatch is the client-facing profile change request. Every field is
// optional; present fields are validated individually.
type ProfilePatch struct {
	UserName *string `json:"user_name,omitempty"`
	Gender   *int    `json:"gender,omitempty"`
	Handle   *string `json:"user_id,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
	Password *string `json:"password,omitempty"`
}

func (p ProfilePatch) Validate() error {
	if p.UserName == nil && p.Gender == nil && p.Handle == nil && p.Avatar == nil && p.Password == nil {
		return ErrEmptyPatch
	}
	if p.UserName != nil {
		if n := utf8.RuneCountInString(*p.UserName); n == 0 || n > 32 {
			return ErrInvalidUserName
		}
	}
	if p.Gender != nil {
		switch *p.Gender {
		case GenderUnknown, GenderMale, GenderFemale:
		default:
			return ErrInvalidGender
		}
	}
	if p.Handle != nil && !handlePattern.MatchString(*p.Handle) {
		return ErrInvalidHandle
	}
	if p.Avatar != nil && len(*p.Avatar) > 512 {
		return ErrInvalidAvatar
	}
	if p.Password != nil {
		if err := ValidatePassword(*p.Password); err != nil {
			return err
		}
	}
	return nil
}

func ValidatePassword(password string) error {
	if n := utf8.RuneCountInString(password); n < 6 || n > 64 {
		return ErrInvalidPassword
	}
	return nil
}
