package models

// Fingerprint identifies one login of one user on one device. It is embedded
// in every token and recomputed from the user row when a token is presented.
// Timestamp is the user's LastLoginAt in Unix milliseconds.
type Fingerprint struct {
	UserID    string `json:"user_id"`
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp"`
}
