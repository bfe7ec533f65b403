package vault

import "time"

// Credential is the single delegated-access credential for a provider.
// Uniqueness per provider is enforced at the storage level; the vault
// never holds more than one row per provider name.
type Credential struct {
	ID                  uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Provider            string    `gorm:"column:provider;size:50;not null;uniqueIndex"`
	AccessSecretSealed  string    `gorm:"column:access_secret_sealed;type:text;not null"`
	RefreshSecretSealed string    `gorm:"column:refresh_secret_sealed;type:text;not null"`
	AccessExpiresAt     time.Time `gorm:"column:access_expires_at;not null"`
	RefreshExpiresAt    time.Time `gorm:"column:refresh_expires_at;not null"`
	Scopes              string    `gorm:"column:scopes;size:500;not null"`
	MemberID            *string   `gorm:"column:member_id;size:190"`
	CreatedAt           time.Time `gorm:"column:created_at"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Credential) TableName() string {
	return "credentials"
}
