// Package roster resolves responder ids to contact records.
// Roster management lives outside this service; everything here is read-only.
package roster

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/resqnet/resqnet/internal/database"
)

// ErrResponderNotFound is returned when an id does not resolve to an active responder
var ErrResponderNotFound = errors.New("responder not found")

// Contact is the delivery identity of one responder
type Contact struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	PushToken   string `json:"push_token,omitempty"`
	SlackUserID string `json:"slack_user_id,omitempty"`
}

// Name returns the display name, falling back to the id
func (c *Contact) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ID
}

// Roster looks up responder contacts by id
type Roster interface {
	Lookup(ctx context.Context, id string) (*Contact, error)
}

// DBRoster reads contacts from the responders table
type DBRoster struct {
	db *gorm.DB
}

// NewDBRoster creates a roster backed by the database
func NewDBRoster(db *gorm.DB) *DBRoster {
	return &DBRoster{db: db}
}

// Lookup returns the contact for id or ErrResponderNotFound
func (r *DBRoster) Lookup(ctx context.Context, id string) (*Contact, error) {
	if id == "" {
		return nil, ErrResponderNotFound
	}
	var responder database.Responder
	err := r.db.WithContext(ctx).Where("id = ? AND active = ?", id, true).First(&responder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrResponderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load responder %s: %w", id, err)
	}
	return FromResponder(&responder), nil
}

// FromResponder converts a database row into a contact
func FromResponder(r *database.Responder) *Contact {
	return &Contact{
		ID:          r.ID,
		DisplayName: r.DisplayName,
		Email:       r.Email,
		Phone:       r.Phone,
		PushToken:   r.PushToken,
		SlackUserID: r.SlackUserID,
	}
}

// CachedRoster memoizes lookups of another roster for a fixed TTL.
// Misses are not cached so a responder added to the roster becomes
// reachable on the next lookup.
type CachedRoster struct {
	next  Roster
	cache *gocache.Cache
}

// NewCachedRoster wraps next with a go-cache layer
func NewCachedRoster(next Roster, ttl time.Duration) *CachedRoster {
	return &CachedRoster{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Lookup returns a cached contact or delegates to the wrapped roster
func (r *CachedRoster) Lookup(ctx context.Context, id string) (*Contact, error) {
	if v, ok := r.cache.Get(id); ok {
		c := *v.(*Contact)
		return &c, nil
	}
	contact, err := r.next.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	stored := *contact
	r.cache.SetDefault(id, &stored)
	return contact, nil
}

// Static is an in-memory roster, used for the built-in supervisor and in tests
type Static map[string]Contact

// Lookup returns the contact stored under id
func (s Static) Lookup(_ context.Context, id string) (*Contact, error) {
	c, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResponderNotFound, id)
	}
	return &c, nil
}
