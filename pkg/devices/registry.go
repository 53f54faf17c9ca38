package devices

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotEnoughData means the decrypted payload is shorter than the schema.
	ErrNotEnoughData = errors.New("not enough data")
	// ErrUnsupportedReadoutType means no decoder is registered for the readout type.
	ErrUnsupportedReadoutType = errors.New("unsupported readout type")
)

// Record is a decoded readout of one device family.
type Record interface {
	// ReadoutType returns the container discriminator this record decodes from.
	ReadoutType() uint8
	// Fields flattens the record for logging and display.
	Fields() map[string]any
}

// DecodeFunc turns decrypted bytes into a Record.
type DecodeFunc func(data []byte) (Record, error)

var (
	regMu    sync.RWMutex
	registry = map[uint8]DecodeFunc{}
)

// Register makes a decoder available for a readout type, replacing any
// previous registration.
func Register(readoutType uint8, fn DecodeFunc) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[readoutType] = fn
}

// Decode dispatches data to the decoder registered for readoutType.
func Decode(readoutType uint8, data []byte) (Record, error) {
	regMu.RLock()
	fn, ok := registry[readoutType]
	regMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnsupportedReadoutType, readoutType)
	}
	return fn(data)
}

// Supported lists the registered readout types in ascending order.
func Supported() []uint8 {
	regMu.RLock()
	defer regMu.RUnlock()

	types := make([]uint8, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
