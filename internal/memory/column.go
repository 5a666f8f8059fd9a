package memory

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

const vectorColumnPrefix = "vector_"

// Characters in a model key that are not valid in a column name, with
// their escape tokens. Model keys never contain the tokens themselves,
// so decoding is deterministic.
var columnEscapes = []struct {
	char  string
	token string
}{
	{"/", "_s_"},
	{":", "_c_"},
	{".", "_d_"},
	{"-", "_h_"},
}

// ModelIDToVectorColumn projects a fully-qualified model key into a column
// name, e.g. "openai/text-embedding-3-small" ->
// "vector_openai_s_text_h_embedding_h_3_h_small".
func ModelIDToVectorColumn(modelID string) string {
	encoded := modelID
	for _, e := range columnEscapes {
		encoded = strings.ReplaceAll(encoded, e.char, e.token)
	}
	return vectorColumnPrefix + encoded
}

// VectorColumnToModelID is the inverse projection.
func VectorColumnToModelID(column string) string {
	decoded := strings.TrimPrefix(column, vectorColumnPrefix)
	for _, e := range columnEscapes {
		decoded = strings.ReplaceAll(decoded, e.token, e.char)
	}
	return decoded
}

// IsVectorColumn reports whether a column name belongs to the dynamic
// vector schema.
func IsVectorColumn(name string) bool {
	return strings.HasPrefix(name, vectorColumnPrefix)
}

// EncodeVector packs a vector as little-endian float32 bytes.
func EncodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a little-endian float32 blob.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(data))
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v, nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero norms yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
