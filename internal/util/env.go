package util

import (
	"os"
	"strings"
)

// IsProduction reports whether the process runs with NODE_ENV=production.
// Secure cookies on the management surface key off this.
func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("NODE_ENV")), "production")
}
