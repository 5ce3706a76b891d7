package utils

import (
	"strings"

	"github.com/google/uuid"
)

// ApplicationIDPrefix marks identifiers minted for direct submissions.
const ApplicationIDPrefix = "APP_"

// NewApplicationID returns APP_ followed by eight uppercase hex characters.
func NewApplicationID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return ApplicationIDPrefix + strings.ToUpper(hex[:8])
}

// SanitizeIdentifier makes an identifier safe for file names and metric labels.
func SanitizeIdentifier(id string) string {
	return strings.NewReplacer(":", "-", " ", "-", "/", "-", "\\", "-").Replace(id)
}
