package readout

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/mjasion/balena-home/victron/pkg/crypto"
)

// ParseKey decodes a 32-hex-digit encryption key as shown in the
// VictronConnect app. Whitespace is ignored.
func ParseKey(input string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, input)

	if len(clean) != crypto.KeySize*2 {
		return nil, fmt.Errorf("encryption key must be %d hex digits, got %d", crypto.KeySize*2, len(clean))
	}

	key := make([]byte, crypto.KeySize)
	if _, err := hex.Decode(key, []byte(clean)); err != nil {
		return nil, fmt.Errorf("invalid encryption key hex: %w", err)
	}
	return key, nil
}
