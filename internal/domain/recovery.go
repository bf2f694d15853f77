package domain

import "time"

// RecoveryCodeSet is the per-user collection of one-time backup code
// hashes. Plaintext codes are shown to the user exactly once when the
// set is generated and are never stored or retrievable afterwards.
type RecoveryCodeSet struct {
	UserID      string    `json:"user_id" bson:"_id"`
	Hashes      []string  `json:"-" bson:"hashes"`
	GeneratedAt time.Time `json:"generated_at" bson:"generated_at"`
}
