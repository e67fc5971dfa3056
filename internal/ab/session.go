package ab

import (
	"fmt"
	"math/rand"
	"time"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionID generates an id of the form ab_{millisEpoch}_{base36(6)}.
func NewSessionID() string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = base36Alphabet[rand.Intn(len(base36Alphabet))]
	}
	return fmt.Sprintf("ab_%d_%s", time.Now().UnixMilli(), suffix)
}
