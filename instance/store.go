package instance

import (
	"context"
	"errors"
	"time"
)

// ErrNameTaken is returned by Create and Refresh when another active instance holds the name
var ErrNameTaken = errors.New("name is held by another active instance")

// Store is the persistence the registry logic runs against. Every call re-reads the
// current state; nothing is cached between requests.
type Store interface {
	// Transaction runs fn against a Store scoped to one database transaction
	Transaction(ctx context.Context, fn func(tx Store) error) error

	GetByID(ctx context.Context, id string) (*Instance, error)
	FindActiveByName(ctx context.Context, name string) (*Instance, error)
	Create(ctx context.Context, inst *Instance) error
	Refresh(ctx context.Context, opt RefreshOption) (int64, error)
	Deactivate(ctx context.Context, opt DeactivateOption) (int64, error)
	ReplaceInfo(ctx context.Context, id string, info []Info) error

	AppendEvent(ctx context.Context, id string, eventType EventType, at time.Time) error
	AppendHeartbeat(ctx context.Context, hb *Heartbeat) error

	ListActive(ctx context.Context) ([]Summary, error)
	ListSeenSince(ctx context.Context, since time.Time) ([]Summary, error)
	ListInfo(ctx context.Context, id string) ([]Info, error)

	// ListExpired returns the ids of active instances silent since before cutoff
	ListExpired(ctx context.Context, cutoff time.Time) ([]string, error)
	// Expire deactivates the instance only if it is still active and still silent since before cutoff
	Expire(ctx context.Context, id string, cutoff time.Time) (int64, error)
}

// RefreshOption marks an instance active and records where it can be reached
type RefreshOption struct {
	InstanceID    string
	Addresses     Addresses
	LastHeartbeat time.Time
	// Port and Version are only written when a registration refreshes the row
	Port    int
	Version string
}

// DeactivateOption selects the active instances to mark inactive. Exactly one of
// ClientID and InstanceID must be set.
type DeactivateOption struct {
	ClientID   string
	InstanceID string
	// ExceptID is left untouched when deactivating by ClientID
	ExceptID       string
	ClearAddresses bool
	// LastHeartbeat is stamped on the deactivated rows when non-zero
	LastHeartbeat time.Time
}
