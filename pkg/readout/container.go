package readout

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mjasion/balena-home/victron/pkg/crypto"
)

var (
	// ErrInvalidData means the payload is too short to hold a header and a key-check byte.
	ErrInvalidData = errors.New("instant readout: invalid data")
	// ErrInvalidKey means the key has the wrong length or fails the key-check byte.
	ErrInvalidKey = errors.New("instant readout: invalid key")
	// ErrDecryptFailed means the cipher rejected the key/IV combination.
	ErrDecryptFailed = crypto.ErrDecryptFailed
)

// HeaderLen is the size of the plaintext header preceding the encrypted data.
const HeaderLen = 7

// MinLen is the shortest payload accepted: header plus key-check byte.
const MinLen = HeaderLen + 1

// Container is a framed Instant Readout payload. Layout, little endian:
//
//	0..1  prefix
//	2..3  model ID
//	4     readout type
//	5..6  IV
//	7     key-check byte (first byte of the encryption key)
//	8..   ciphertext
type Container struct {
	Prefix        uint16
	ModelID       uint16
	ReadoutType   uint8
	IV            uint16
	EncryptedData []byte
}

// FromData parses a manufacturer data payload. The returned Container owns a
// copy of the encrypted section.
func FromData(data []byte) (*Container, error) {
	if len(data) < MinLen {
		return nil, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrInvalidData, MinLen, len(data))
	}

	encrypted := make([]byte, len(data)-HeaderLen)
	copy(encrypted, data[HeaderLen:])

	return &Container{
		Prefix:        binary.LittleEndian.Uint16(data[0:2]),
		ModelID:       binary.LittleEndian.Uint16(data[2:4]),
		ReadoutType:   data[4],
		IV:            binary.LittleEndian.Uint16(data[5:7]),
		EncryptedData: encrypted,
	}, nil
}

// KeyCheck returns the key-check byte. EncryptedData must not be empty.
func (c *Container) KeyCheck() byte {
	return c.EncryptedData[0]
}

// PayloadLen returns the number of meaningful plaintext bytes, the ciphertext
// length without the key-check byte. Decrypted bytes past it are padding.
func (c *Container) PayloadLen() int {
	if len(c.EncryptedData) == 0 {
		return 0
	}
	return len(c.EncryptedData) - 1
}

// DecryptData validates key against the key-check byte and returns the
// decrypted payload, padded to the AES block size. The container is not
// modified.
//
// DecryptData panics if EncryptedData is empty; containers built by FromData
// always carry at least the key-check byte.
func (c *Container) DecryptData(key []byte) ([]byte, error) {
	if len(c.EncryptedData) == 0 {
		panic("readout: DecryptData called on container without encrypted data")
	}

	keyCheck := c.EncryptedData[0]
	ciphertext := c.EncryptedData[1:]

	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, crypto.KeySize, len(key))
	}
	if key[0] != keyCheck {
		return nil, fmt.Errorf("%w: key check byte mismatch (0x%02X != 0x%02X)", ErrInvalidKey, key[0], keyCheck)
	}

	plaintext, err := crypto.Decrypt(ciphertext, key, c.IV)
	if err != nil {
		return nil, fmt.Errorf("instant readout: %w", err)
	}
	return plaintext, nil
}
