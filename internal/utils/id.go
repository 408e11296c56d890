package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// NewDemoID returns an identifier for in-memory-only demo messages. The prefix
// keeps them distinguishable from backend-issued identifiers.
func NewDemoID() string {
	return DemoIDPrefix + uuid.NewString()
}

// DemoIDPrefix marks identifiers minted for demo messages.
const DemoIDPrefix = "demo-"

// IsDemoID reports whether id was minted by NewDemoID.
func IsDemoID(id string) bool {
	return strings.HasPrefix(id, DemoIDPrefix)
}
