// Package codename derives short, stable names that tie spawned workers back to
// the process that requested them.
package codename

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var namespace = uuid.MustParse("6f1c6a52-3c1e-4d8e-9a57-0f3b7c2d9e41")

const length = 8

// Generate returns the codename for a process label launched at launchTick.
// The same inputs always produce the same codename.
func Generate(label string, launchTick uint64) string {
	id := uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s@%d", label, launchTick)))
	return strings.ReplaceAll(id.String(), "-", "")[:length]
}
