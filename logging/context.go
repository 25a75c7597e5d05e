package logging

import (
	"context"
	"math/rand/v2"
)

type debugLogKeyType int

const debugLogKeyID = debugLogKeyType(iota)

const debugKeyAlphabet = "abcdefghijklmnopqrstuvwxyz"

// EnableDebugMode returns a new context with debug logging state attached. An empty `debugLogKey`
// generates a random value.
func EnableDebugMode(ctx context.Context, debugLogKey string) context.Context {
	if debugLogKey == "" {
		key := make([]byte, 6)
		for i := range key {
			key[i] = debugKeyAlphabet[rand.IntN(len(debugKeyAlphabet))]
		}
		debugLogKey = string(key)
	}
	return context.WithValue(ctx, debugLogKeyID, debugLogKey)
}

// IsDebugMode returns whether the input context has debug logging enabled.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the debug log key included when enabling the context for debug logging.
func GetName(ctx context.Context) string {
	valI := ctx.Value(debugLogKeyID)
	if val, ok := valI.(string); ok {
		return val
	}

	return ""
}
