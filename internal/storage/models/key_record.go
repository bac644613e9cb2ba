package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// KeyRecord holds one party's sealed key share. The material is encrypted
// under a data key; only the encrypted data key is stored alongside it.
type KeyRecord struct {
	gorm.Model
	KeychainID       uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_keychain_role" json:"-"` // Foreign key to the Keychain table's KeyID
	Role             string    `gorm:"type:varchar(32);uniqueIndex:idx_keychain_role" json:"role"`
	Ciphertext       []byte    `json:"-"`
	DataKeyReference []byte    `json:"-"`
}
