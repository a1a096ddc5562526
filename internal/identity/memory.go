package identity

import (
	"context"
	"sync"
	"time"

	"taskstream.org/internal/ids"
)

// MemoryDirectory is an in-process Directory for tests.
type MemoryDirectory struct {
	mu      sync.Mutex
	byEmail map[string]*memoryUser
	byID    map[string]*memoryUser
}

type memoryUser struct {
	user User
	hash string
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory constructs an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byEmail: make(map[string]*memoryUser),
		byID:    make(map[string]*memoryUser),
	}
}

func (d *MemoryDirectory) CreateUser(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byEmail[email]; ok {
		return nil, ErrDuplicateEmail
	}
	u := &memoryUser{
		user: User{ID: ids.New(), Email: email, CreatedAt: time.Now().UTC()},
		hash: hash,
	}
	d.byEmail[email] = u
	d.byID[u.user.ID] = u
	out := u.user
	return &out, nil
}

func (d *MemoryDirectory) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	d.mu.Lock()
	u, ok := d.byEmail[email]
	d.mu.Unlock()
	if !ok {
		return nil, ErrBadCredentials
	}
	if err := VerifyPassword(u.hash, password); err != nil {
		return nil, ErrBadCredentials
	}
	out := u.user
	return &out, nil
}

func (d *MemoryDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := u.user
	return &out, nil
}

// DeleteByID removes an account. Tests use it to simulate a user deleted
// after token issuance.
func (d *MemoryDirectory) DeleteByID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.byID[id]; ok {
		delete(d.byEmail, u.user.Email)
		delete(d.byID, id)
	}
}
