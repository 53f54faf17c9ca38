package crypto

import (
	"crypto/aes"
	"encoding/binary"
	"errors"
	"fmt"
)

// KeySize is the AES-128 key length in bytes.
const KeySize = 16

// ErrDecryptFailed is returned when the block cipher rejects the key.
var ErrDecryptFailed = errors.New("decrypt failed")

// Decrypt reverses the Instant Readout encryption: data is padded to the AES
// block size and XORed with an AES-128 little-endian counter keystream seeded
// from iv. The result has the padded length; padding is left in place.
func Decrypt(data, key []byte, iv uint16) ([]byte, error) {
	// aes.NewCipher would also take AES-192/256 keys
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: invalid key length %d", ErrDecryptFailed, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecryptFailed, err.Error())
	}

	buf := Pad(data, aes.BlockSize)
	NewLECTR(block, counterBlock(iv)).XORKeyStream(buf, buf)
	return buf, nil
}

// Encrypt is the forward direction of Decrypt. Counter mode is its own
// inverse, so the transform is identical.
func Encrypt(data, key []byte, iv uint16) ([]byte, error) {
	return Decrypt(data, key, iv)
}

// counterBlock zero-extends iv into a 16-byte little-endian counter.
func counterBlock(iv uint16) []byte {
	ctr := make([]byte, aes.BlockSize)
	binary.LittleEndian.PutUint16(ctr, iv)
	return ctr
}

// Pad appends n bytes of value n so the length becomes a multiple of
// blockSize. Input that is already aligned gains a whole block.
func Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize

	res := make([]byte, len(data), len(data)+n)
	copy(res, data)
	for i := 0; i < n; i++ {
		res = append(res, byte(n))
	}
	return res
}
