package decoder

import (
	"fmt"
	"time"

	"github.com/mjasion/balena-home/victron/pkg/devices"
	"github.com/mjasion/balena-home/victron/pkg/readout"
)

// ManufacturerID is the Bluetooth SIG company identifier of Victron Energy.
const ManufacturerID uint16 = 0x02E1

// Readout is a decoded Instant Readout advertisement
type Readout struct {
	Timestamp   time.Time
	Prefix      uint16
	ModelID     uint16
	ReadoutType uint8
	IV          uint16
	Record      devices.Record
	RSSI        int16
}

// DecodeAdvertisement decodes the manufacturer data of a Victron advertisement
// (the bytes following the company ID) using the device's encryption key.
//
// Pipeline:
// - frame the payload into header and encrypted data
// - check the key against the key-check byte and decrypt
// - hand the plaintext to the schema decoder selected by the readout type
//
// Only the first PayloadLen bytes of the decrypted buffer carry data; the
// padding is cut off before decoding so a truncated advertisement fails with
// devices.ErrNotEnoughData instead of decoding keystream bytes.
func DecodeAdvertisement(data, key []byte, rssi int16) (*Readout, error) {
	container, err := readout.FromData(data)
	if err != nil {
		return nil, err
	}

	plaintext, err := container.DecryptData(key)
	if err != nil {
		return nil, err
	}

	record, err := devices.Decode(container.ReadoutType, plaintext[:container.PayloadLen()])
	if err != nil {
		return nil, fmt.Errorf("failed to decode readout type 0x%02X: %w", container.ReadoutType, err)
	}

	return &Readout{
		Timestamp:   time.Now(),
		Prefix:      container.Prefix,
		ModelID:     container.ModelID,
		ReadoutType: container.ReadoutType,
		IV:          container.IV,
		Record:      record,
		RSSI:        rssi,
	}, nil
}
