package domain

import (
	"strings"
	"time"
)

// Actor is the signed-in identity a Session Slot is keyed by.
type Actor struct {
	UID         string
	Email       string
	DisplayName string
	IDToken     string
}

// Name returns the display name, falling back to the local part of the email.
func (a *Actor) Name() string {
	if a == nil {
		return ""
	}
	if n := strings.TrimSpace(a.DisplayName); n != "" {
		return n
	}
	if at := strings.Index(a.Email, "@"); at > 0 {
		return a.Email[:at]
	}
	return strings.TrimSpace(a.Email)
}

func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// SameUID reports whether both actors refer to the same identity (nil == nil).
func SameUID(a, b *Actor) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UID == b.UID
}

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a user-visible status notification.
type Notice struct {
	Level NoticeLevel
	Text  string
}

// Game Record field names.
const (
	FieldPosition    = "position"
	FieldLastUpdated = "lastUpdated"
	FieldOwner       = "owner"
)

// GameRecord is the persisted document at a Session Slot.
type GameRecord struct {
	Key         string
	Position    string
	LastUpdated time.Time
	Owner       string
}
