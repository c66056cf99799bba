// Package encoding converts embedding vectors to and from the durable blob
// format: a little-endian int32 length prefix followed by little-endian
// float32 values. The format is self-describing and readable from any
// language without this package.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when a vector or its blob is malformed.
var ErrInvalidVector = errors.New("invalid vector")

// EncodeVector encodes a float32 vector to bytes.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	if len(vector) > math.MaxInt32 {
		return nil, fmt.Errorf("vector too large: %d elements", len(vector))
	}

	buf := make([]byte, 4+4*len(vector))
	binary.LittleEndian.PutUint32(buf, uint32(len(vector)))
	for i, val := range vector {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(val))
	}
	return buf, nil
}

// DecodeVector decodes bytes back to a float32 vector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}

	length := int32(binary.LittleEndian.Uint32(data))
	if length < 0 {
		return nil, ErrInvalidVector
	}
	if len(data) < 4+int(length)*4 {
		return nil, ErrInvalidVector
	}

	vector := make([]float32, length)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vector, nil
}

// ValidateVector rejects empty vectors and vectors containing NaN or Inf.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for _, val := range vector {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidVector
		}
	}
	return nil
}

// Normalize returns an L2-normalized copy of the vector. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i, val := range v {
		out[i] = val / norm
	}
	return out
}
