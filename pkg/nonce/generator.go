package nonce

import (
	"crypto/rand"
	"fmt"
)

// alphabet is the URL-safe character set nonce values are drawn from
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generateValue produces a cryptographically random string of n characters
// drawn from alphabet.
func generateValue(n int) (string, error) {
	// Rejection sampling keeps the draw uniform over the 62-char alphabet.
	// 248 is the largest multiple of 62 below 256.
	const ceiling = 248

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= ceiling {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
