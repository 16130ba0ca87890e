// Package idgen provides random identifier generation.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// WithPrefix generates a random ID with a prefix (e.g. "rule_", "txn_").
// Result is prefix + 32 hex chars.
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
