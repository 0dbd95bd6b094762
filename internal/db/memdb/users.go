package memdb

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fleetops/internal/db"
	"github.com/ukydev/fleetops/internal/models"
)

// Users implements db.UserCollection in memory.
type Users struct {
	mu    sync.Mutex
	users map[string]models.User
}

var _ db.UserCollection = (*Users)(nil)

func NewUsers() *Users {
	return &Users{users: map[string]models.User{}}
}

func (u *Users) InsertUser(ctx context.Context, user models.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, existing := range u.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return conflict("insert user")
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true
	u.users[user.ID.Hex()] = user
	return nil
}

func (u *Users) find(match func(models.User) bool) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range u.users {
		if match(user) {
			return &user, nil
		}
	}
	return nil, notFound("find user")
}

func (u *Users) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	return u.find(func(user models.User) bool { return user.ID.Hex() == id })
}

func (u *Users) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return u.find(func(user models.User) bool { return user.Username == username })
}

func (u *Users) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return u.find(func(user models.User) bool { return user.Email == email })
}

func (u *Users) FindUsers(ctx context.Context, role models.Role) ([]models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := []models.User{}
	for _, user := range u.users {
		if role == "" || user.Role == role {
			out = append(out, user)
		}
	}
	return out, nil
}

func (u *Users) UpdateUser(ctx context.Context, id string, user models.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	prev, ok := u.users[id]
	if !ok {
		return notFound("update user")
	}
	user.ID = prev.ID
	user.UpdatedAt = time.Now()
	u.users[id] = user
	return nil
}

func (u *Users) DeleteUser(ctx context.Context, id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.users, id)
	return nil
}

func (u *Users) UpdateLastLogin(ctx context.Context, id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return notFound("update last login")
	}
	now := time.Now()
	user.LastLogin = &now
	user.UpdatedAt = now
	u.users[id] = user
	return nil
}
