package reqctx

import "context"

// Store holds the identifiers scoped to one inbound request. The boundary
// creates one Store per request and threads it through context.Context, so
// concurrent requests never observe each other's values.
type Store struct {
	CorrelationID string
	TestID        string
	UserID        int64
}

type ctxKey struct{}

// With returns a child context carrying the store.
func With(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, ctxKey{}, store)
}

// From returns the request store, or nil when ctx is not request-scoped.
func From(ctx context.Context) *Store {
	store, _ := ctx.Value(ctxKey{}).(*Store)
	return store
}

// CorrelationID returns the active correlation id, empty outside a request.
func CorrelationID(ctx context.Context) string {
	if store := From(ctx); store != nil {
		return store.CorrelationID
	}
	return ""
}

// SetUserID attaches the authenticated caller to the active store. No-op
// outside a request.
func SetUserID(ctx context.Context, userID int64) {
	if store := From(ctx); store != nil {
		store.UserID = userID
	}
}
