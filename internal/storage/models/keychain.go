package models

import (
	"time"

	"github.com/google/uuid"
)

// Keychain is one finished key generation ceremony, addressed by its
// common keychain. Its shares are stored per role.
type Keychain struct {
	KeyID          uuid.UUID   `gorm:"type:uuid;primary_key;" json:"keyId"`
	CommonKeychain string      `gorm:"type:varchar(200);uniqueIndex" json:"commonKeychain"`
	Records        []KeyRecord `gorm:"foreignKey:KeychainID;references:KeyID"` // Has-many relationship using UUID
	CreatedAt      time.Time   `json:"createdAt"`
}
