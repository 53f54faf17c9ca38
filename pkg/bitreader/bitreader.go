package bitreader

import "errors"

var (
	// ErrNotEnoughData is returned when a read needs more bits than remain.
	// The cursor position is undefined afterwards and the reader must be discarded.
	ErrNotEnoughData = errors.New("bitreader: not enough data")

	// ErrTooManyBitsForType is returned when more bits are requested than the
	// target integer can hold. The cursor is left untouched.
	ErrTooManyBitsForType = errors.New("bitreader: too many bits for type")
)

// Reader reads integers bit by bit from a byte slice, left to right.
// Bytes are consumed in ascending order and each byte is consumed starting
// at its least significant bit. Bit i of a field lands in bit i of the result.
type Reader struct {
	data  []byte
	index uint
}

// New creates a Reader over data. The slice is borrowed, not copied.
func New(data []byte) *Reader {
	return &Reader{data: data}
}

// Pos returns the current cursor position in bits.
func (r *Reader) Pos() uint {
	return r.index
}

// Remaining returns the number of unread bits.
func (r *Reader) Remaining() uint {
	return uint(len(r.data))*8 - r.index
}

// ReadBit returns the bit under the cursor and advances by one.
func (r *Reader) ReadBit() (uint32, error) {
	if r.index == uint(len(r.data))*8 {
		return 0, ErrNotEnoughData
	}

	val := r.data[r.index/8] & (1 << (r.index % 8))
	r.index++

	if val == 0 {
		return 0, nil
	}
	return 1, nil
}

// ReadU8 reads an unsigned field of up to 8 bits.
func (r *Reader) ReadU8(numBits uint) (uint8, error) {
	if numBits > 8 {
		return 0, ErrTooManyBitsForType
	}
	v, err := r.ReadU32(numBits)
	return uint8(v), err
}

// ReadU16 reads an unsigned field of up to 16 bits.
func (r *Reader) ReadU16(numBits uint) (uint16, error) {
	if numBits > 16 {
		return 0, ErrTooManyBitsForType
	}
	v, err := r.ReadU32(numBits)
	return uint16(v), err
}

// ReadU32 reads an unsigned field of up to 32 bits.
func (r *Reader) ReadU32(numBits uint) (uint32, error) {
	if numBits > 32 {
		return 0, ErrTooManyBitsForType
	}

	var value uint32
	for i := uint(0); i < numBits; i++ {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}
		value |= bit << i
	}
	return value, nil
}

// ReadI16 reads a two's complement field of up to 16 bits.
func (r *Reader) ReadI16(numBits uint) (int16, error) {
	if numBits > 16 {
		return 0, ErrTooManyBitsForType
	}
	v, err := r.ReadI32(numBits)
	return int16(v), err
}

// ReadI32 reads a two's complement field of up to 32 bits. When the top bit
// of the field is set the result is value - 2^numBits.
func (r *Reader) ReadI32(numBits uint) (int32, error) {
	if numBits > 32 {
		return 0, ErrTooManyBitsForType
	}

	value, err := r.ReadU32(numBits)
	if err != nil {
		return 0, err
	}
	if numBits == 0 {
		return 0, nil
	}

	if value&(1<<(numBits-1)) != 0 {
		return int32(int64(value) - int64(1)<<numBits), nil
	}
	return int32(value), nil
}
