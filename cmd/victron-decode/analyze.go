package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/mjasion/balena-home/victron/decoder"
	"github.com/mjasion/balena-home/victron/pkg/crypto"
	"github.com/mjasion/balena-home/victron/pkg/devices"
	"github.com/mjasion/balena-home/victron/pkg/readout"
)

// analysis is the decoded view of one advertisement
type analysis struct {
	container *readout.Container
	keyCheck  byte
	plaintext []byte
	record    devices.Record
}

// parseHex accepts hex with optional spaces, colons and a 0x prefix
func parseHex(input string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	clean = strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(clean)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse hex input")
	}
	return data, nil
}

// stripCompanyID drops a leading little-endian Victron company ID
func stripCompanyID(data []byte) []byte {
	if len(data) >= 2 && binary.LittleEndian.Uint16(data) == decoder.ManufacturerID {
		return data[2:]
	}
	return data
}

// analyze frames data and, when a key is given, decrypts and decodes it
func analyze(data, key []byte) (*analysis, error) {
	container, err := readout.FromData(data)
	if err != nil {
		return nil, errors.Wrap(err, "could not frame the advertisement")
	}

	a := &analysis{container: container, keyCheck: container.KeyCheck()}
	if key == nil {
		return a, nil
	}

	a.plaintext, err = container.DecryptData(key)
	if err != nil {
		return a, errors.Wrap(err, "could not decrypt the advertisement")
	}

	a.record, err = devices.Decode(container.ReadoutType, a.plaintext[:container.PayloadLen()])
	if err != nil {
		return a, errors.Wrapf(err, "could not decode readout type 0x%02X", container.ReadoutType)
	}

	return a, nil
}

func (a *analysis) String() string {
	var sb strings.Builder
	c := a.container
	fmt.Fprintf(&sb, "prefix:        0x%04X\n", c.Prefix)
	fmt.Fprintf(&sb, "model id:      0x%04X\n", c.ModelID)
	fmt.Fprintf(&sb, "readout type:  0x%02X\n", c.ReadoutType)
	fmt.Fprintf(&sb, "iv:            %d (0x%04X)\n", c.IV, c.IV)
	fmt.Fprintf(&sb, "key check:     0x%02X\n", a.keyCheck)
	fmt.Fprintf(&sb, "encrypted:     %s\n", hex.EncodeToString(c.EncryptedData))

	if a.plaintext != nil {
		fmt.Fprintf(&sb, "plaintext:     %s\n", hex.EncodeToString(a.plaintext))
	}
	if a.record != nil {
		fields := a.record.Fields()
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("record:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %-13s %v\n", k+":", fields[k])
		}
	}

	return sb.String()
}

// buildAdvertisement encrypts plaintext into a complete advertisement,
// the inverse of analyze.
func buildAdvertisement(plaintext, key []byte, prefix, modelID uint16, readoutType uint8, iv uint16) ([]byte, error) {
	if len(key) != crypto.KeySize {
		return nil, errors.Errorf("key must be %d bytes, got %d", crypto.KeySize, len(key))
	}

	ciphertext, err := crypto.Encrypt(plaintext, key, iv)
	if err != nil {
		return nil, errors.Wrap(err, "could not encrypt the payload")
	}

	data := make([]byte, readout.HeaderLen, readout.MinLen+len(plaintext))
	binary.LittleEndian.PutUint16(data[0:2], prefix)
	binary.LittleEndian.PutUint16(data[2:4], modelID)
	data[4] = readoutType
	binary.LittleEndian.PutUint16(data[5:7], iv)
	data = append(data, key[0])
	return append(data, ciphertext[:len(plaintext)]...), nil
}
