package partnerctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// PartnerContextKey is the request context key for the active partner ID.
type PartnerContextKey struct{}

// WithPartnerID stores the partner ID in the context.
func WithPartnerID(ctx context.Context, partnerID int64) context.Context {
	return context.WithValue(ctx, PartnerContextKey{}, partnerID)
}

// PartnerIDFromContext returns the partner ID from context, if set.
func PartnerIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	value := ctx.Value(PartnerContextKey{})
	if value == nil {
		return 0, false
	}
	switch typed := value.(type) {
	case int64:
		return snowflake.ID(typed), true
	case snowflake.ID:
		return typed, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}
