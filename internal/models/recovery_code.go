package models

import (
	"time"

	"github.com/google/uuid"
)

// RecoveryCode is a one-time-use alternate proof of identity. Codes are
// stored bcrypt-hashed; generating a new batch deletes the previous batch in
// the same transaction so old and new codes never validate concurrently.
type RecoveryCode struct {
	ID        uuid.UUID  `db:"id"`
	UserID    string     `db:"user_id"`
	Email     string     `db:"email"`
	CodeHash  string     `db:"code_hash"`
	IsUsed    bool       `db:"is_used"`
	UsedAt    *time.Time `db:"used_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// TOTPEnrollment stores an account's authenticator secret, AES-256-GCM
// encrypted at rest.
type TOTPEnrollment struct {
	Email           string    `db:"email"`
	SecretEncrypted []byte    `db:"secret_encrypted"`
	Nonce           []byte    `db:"nonce"`
	EnrolledAt      time.Time `db:"enrolled_at"`
}
