package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

var idCounter uint64

// GenerateSessionID generates a session folder name with a timestamp prefix
func GenerateSessionID() string {
	timestamp := time.Now().Format("20060102-150405")
	b := make([]byte, 4)
	_, err := rand.Read(b)
	if err != nil {
		count := atomic.AddUint64(&idCounter, 1)
		return fmt.Sprintf("session-%s-%x", timestamp, count)
	}
	return fmt.Sprintf("session-%s-%s", timestamp, hex.EncodeToString(b))
}
