package random

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GetUUID generates a UUID and returns it as a string without hyphens.
func GetUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

const keyChars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GetRandomString generates a random alphanumeric string of the specified length
// using crypto/rand.
func GetRandomString(length int) string {
	key := make([]byte, length)
	for i := range length {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(keyChars))))
		if err != nil {
			panic(err)
		}
		key[i] = keyChars[n.Int64()]
	}
	return string(key)
}

// RunID names one prober invocation, e.g. rpd-20250701T120000-a1B2c3.
// IDs with the same prefix sort by their UTC start second.
func RunID(prefix string) string {
	return prefix + "-" + time.Now().UTC().Format("20060102T150405") + "-" + GetRandomString(6)
}
