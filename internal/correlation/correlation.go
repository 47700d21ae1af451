package correlation

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MaxIDLength bounds the number of characters accepted for correlation identifiers.
const MaxIDLength = 128

type contextKey struct{}

type state struct {
	mu sync.RWMutex
	id string
}

// Ensure attaches mutable correlation state to ctx when none is present yet.
// The returned context can later receive an ID via Set without re-deriving.
func Ensure(ctx context.Context) context.Context {
	if ctx == nil {
		return context.WithValue(context.Background(), contextKey{}, &state{})
	}
	if _, ok := ctx.Value(contextKey{}).(*state); ok {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, &state{})
}

// Set records id on ctx after normalization. Invalid identifiers leave the
// context untouched.
func Set(ctx context.Context, id string) context.Context {
	normalized, ok := Normalize(id)
	if !ok {
		return ctx
	}
	ctx = Ensure(ctx)
	st, _ := ctx.Value(contextKey{}).(*state)
	st.mu.Lock()
	st.id = normalized
	st.mu.Unlock()
	return ctx
}

// ID returns the correlation ID carried by ctx, or the empty string.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	st, ok := ctx.Value(contextKey{}).(*state)
	if !ok || st == nil {
		return ""
	}
	st.mu.RLock()
	id := st.id
	st.mu.RUnlock()
	return id
}

// Has reports whether ctx carries a non-empty correlation ID.
func Has(ctx context.Context) bool {
	return ID(ctx) != ""
}

// Normalize trims and validates an externally supplied correlation
// identifier. Identifiers are limited to MaxIDLength printable ASCII
// characters.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// Generate produces a fresh correlation identifier. UUIDv7 keeps the IDs
// roughly time-ordered for log scanning; on the unlikely failure path a
// random UUID is used instead.
func Generate() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
