package db

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/resume-builder/internal/types"
)

// ErrDuplicateEmail is returned when creating a user whose email is taken
var ErrDuplicateEmail = errors.New("email already registered")

// ErrRevisionMismatch is returned when a document changed since it was read
var ErrRevisionMismatch = errors.New("document revision mismatch")

// User represents a stored account together with its knowledge graph
type User struct {
	ID             uuid.UUID             `json:"id"`
	Email          string                `json:"email"`
	Name           string                `json:"name"`
	Phone          string                `json:"phone,omitempty"`
	Address        string                `json:"address,omitempty"`
	Socials        map[string]string     `json:"socials,omitempty"`
	PasswordHash   string                `json:"-"` // Never serialize to JSON
	KnowledgeGraph *types.KnowledgeGraph `json:"knowledge_graph"`
	KGRevision     int64                 `json:"kg_revision"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Profile returns the API view of the user
func (u *User) Profile() *types.User {
	return &types.User{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Phone:     u.Phone,
		Address:   u.Address,
		Socials:   u.Socials,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
