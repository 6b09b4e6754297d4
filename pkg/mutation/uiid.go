package mutation

import (
	"strings"

	"github.com/google/uuid"
)

// NewUIID returns a fresh client-side element identifier: 32 lowercase hex characters.
func NewUIID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
