package userstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var _ goIdentity.UserStore = (*Store)(nil)

// Store reads and mutates accounts.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres with duplicate-key translation enabled.
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
}

// Create inserts a new account. Username and email are stored lowercase.
func (s *Store) Create(ctx context.Context, account *Account) error {
	account.Email = strings.ToLower(account.Email)
	if account.Username != nil {
		lowered := strings.ToLower(*account.Username)
		account.Username = &lowered
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*goIdentity.User, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*goIdentity.User, error) {
	return s.findOne(ctx, "username = ?", strings.ToLower(username))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*goIdentity.User, error) {
	return s.findOne(ctx, "email = ?", strings.ToLower(email))
}

func (s *Store) findOne(ctx context.Context, query string, arg string) (*goIdentity.User, error) {
	var account Account
	err := s.db.WithContext(ctx).Where(query, arg).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account.toUser(), nil
}

// ApplyUsernameChange sets the username of userID if no other account holds it.
func (s *Store) ApplyUsernameChange(ctx context.Context, userID, newUsername string) (string, error) {
	newUsername = strings.ToLower(newUsername)
	err := s.applyUnique(ctx, userID, "username", newUsername)
	if err != nil {
		return "", err
	}
	return newUsername, nil
}

// ApplyEmailChange sets the email of userID if no other account holds it.
func (s *Store) ApplyEmailChange(ctx context.Context, userID, newEmail string) (string, error) {
	newEmail = strings.ToLower(newEmail)
	err := s.applyUnique(ctx, userID, "email", newEmail)
	if err != nil {
		return "", err
	}
	return newEmail, nil
}

// applyUnique locks the subject row, checks column is free and writes value.
// column is one of the two identity columns, never caller input.
func (s *Store) applyUnique(ctx context.Context, userID, column, value string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account Account
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", userID).
			Take(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return goIdentity.ErrUserNotFound
		}
		if err != nil {
			return err
		}

		var holders int64
		if err := tx.Model(&Account{}).
			Where(column+" = ? AND id <> ?", value, userID).
			Count(&holders).Error; err != nil {
			return err
		}
		if holders > 0 {
			return fmt.Errorf("%s %q: %w", column, value, goIdentity.ErrIdentityConflict)
		}

		if err := tx.Model(&account).Update(column, value).Error; err != nil {
			return mapWriteError(err)
		}
		return nil
	})
}

func mapWriteError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", goIdentity.ErrIdentityConflict, err)
	}
	return err
}
