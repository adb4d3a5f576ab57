package models

import "time"

// Security event types emitted by the auth flow.
const (
	EventRegister         = "register"
	EventLogin            = "login"
	EventLoginFailed      = "login_failed"
	EventRefresh          = "refresh"
	EventLogout           = "logout"
	EventVerificationSent = "verification_sent"
	EventProfileUpdated   = "profile_updated"
)

// SecurityEvent is an audit record of an authentication transition. It is
// published to Kafka as JSON and stored in ClickHouse.
type SecurityEvent struct {
	EventID     string    `json:"event_id" ch:"event_id"`
	EventBucket int       `json:"event_bucket" ch:"event_bucket"`
	EventDate   string    `json:"event_date" ch:"event_date"`
	EventTime   time.Time `json:"event_time" ch:"event_time"`
	EventType   string    `json:"event_type" ch:"event_type"`
	UserID      string    `json:"user_id,omitempty" ch:"user_id"`
	Mobile      string    `json:"mobile,omitempty" ch:"mobile"`
	DeviceID    string    `json:"device_id,omitempty" ch:"device_id"`
	IPAddress   string    `json:"ip_address,omitempty" ch:"ip_address"`
	Success     bool      `json:"success" ch:"success"`
	Reason      string    `json:"reason,omitempty" ch:"reason"`
}
