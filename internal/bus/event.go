package bus

import "time"

// Event kinds published inside the daemon. Subscribers filter by prefix, so
// "favorites." receives both favorites kinds.
const (
	KindConnectivityChanged = "connectivity.changed"
	KindQueueChanged        = "queue.changed"
	KindSyncProgress        = "queue.sync_progress"
	KindFavoritesSetChanged = "favorites.set_changed"
	KindFavoritesCached     = "favorites.cached"
	KindAccountChanged      = "auth.account_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
