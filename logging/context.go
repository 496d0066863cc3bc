package logging

import (
	"context"

	"github.com/google/uuid"
)

type debugKeyType int

const debugKey = debugKeyType(iota)

// EnableDebugMode marks ctx so that CDebug calls log regardless of the logger's level. The key
// tags the traced solve; an empty key is replaced by a short random one.
func EnableDebugMode(ctx context.Context, key string) context.Context {
	if key == "" {
		key = uuid.NewString()[:8]
	}
	return context.WithValue(ctx, debugKey, key)
}

// IsDebugMode reports whether ctx was marked by EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return DebugModeKey(ctx) != ""
}

// DebugModeKey returns the key ctx was marked with, or "".
func DebugModeKey(ctx context.Context) string {
	key, _ := ctx.Value(debugKey).(string)
	return key
}
