package hub

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/FahadPatwary/seriousserver/domain"
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// NewRoomCode generates a random room code. It does not check for collisions
// and does not create the room; that happens on the first join.
func NewRoomCode() (string, error) {
	var b strings.Builder
	b.Grow(codeLength)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeRoomCode uppercases ASCII letters in a client supplied code and
// checks it against the six character alphanumeric format. Other bytes are
// left alone, so padding and non-ASCII input never match.
func NormalizeRoomCode(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("%w: room code is required", domain.ErrInvalidRoomCode)
	}

	b := []byte(code)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	normalized := string(b)
	if !codePattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidRoomCode, code)
	}
	return normalized, nil
}
