package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalIDPrefix marks identifiers that were generated on this installation
// and have not been confirmed by the remote service yet.
const LocalIDPrefix = "local-"

// GenerateID generates a random hex ID
func GenerateID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewLocalID returns a placeholder id of the form local-<unix-millis>-<random>
func NewLocalID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", LocalIDPrefix, now.UnixMilli(), GenerateID()[:9])
}

// Checksum returns the hex sha256 of s
func Checksum(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
