package userstore

import (
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account is the persisted identity row.
//
// Username stays NULL until claimed so the unique index ignores unclaimed accounts.
type Account struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Username  *string   `gorm:"uniqueIndex;size:20"`
	Email     string    `gorm:"uniqueIndex;size:254;not null"`
	Name      string    `gorm:"size:255"`
	Provider  string    `gorm:"size:32;not null;default:credentials"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

func (Account) TableName() string {
	return "users"
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Provider == "" {
		a.Provider = goIdentity.ProviderCredentials
	}
	return nil
}

func (a *Account) toUser() *goIdentity.User {
	u := &goIdentity.User{
		ID:        a.ID,
		Email:     a.Email,
		Name:      a.Name,
		Provider:  a.Provider,
		CreatedAt: a.CreatedAt,
	}
	if a.Username != nil {
		u.Username = *a.Username
	}
	return u
}

// Migrate creates or updates the users table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{})
}
