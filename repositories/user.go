//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"chat-relay/errors"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IUserRepository interface {
	CreateUser(email, hashedPassword string) (string, error)
	GetUserByEmail(email string) (User, error)
	GetUserByID(id string) (User, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

// User is the domain-friendly representation of a user in the repository layer.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
}

func userKey(email string) []byte {
	return []byte("user:" + strings.ToLower(email))
}

func userIDKey(id string) []byte {
	return []byte("userid:" + id)
}

// CreateUser persists the user in BadgerDB under its email and indexes the
// generated id back to the email.
// It returns the newly generated User ID
func (u UserRepository) CreateUser(email, hashedPassword string) (string, error) {
	newID := uuid.New().String()
	user := User{
		ID:           newID,
		Email:        strings.ToLower(email),
		PasswordHash: hashedPassword,
		Roles:        []string{"user"},
		CreatedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(user)
	if err != nil {
		return "", fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		key := userKey(email)
		if _, err = txn.Get(key); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if err = txn.Set(userIDKey(newID), key); err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return "", err
	}
	return newID, nil
}

// GetUserByEmail retrieves a user from Badger.
func (u UserRepository) GetUserByEmail(email string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = readUser(txn, userKey(email))
		return err
	})
	return user, err
}

func (u UserRepository) GetUserByID(id string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userIDKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		user, err = readUser(txn, key)
		return err
	})
	return user, err
}

func readUser(txn *badger.Txn, key []byte) (User, error) {
	var user User
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &user)
	})
	return user, err
}
