package codec

import (
	"fmt"

	"github.com/janelia-flyem/zpipe/zpipe"
)

func init() {
	Register("shuffle", func(config zpipe.Config, dt zpipe.DataType) (Codec, error) {
		size, found, err := config.GetInt("elementsize")
		if err != nil {
			return nil, configError("shuffle", "%v", err)
		}
		if !found {
			size = dt.Size
		}
		if size < 1 {
			return nil, configError("shuffle", "element size %d must be positive", size)
		}
		return &Shuffle{ElementSize: size}, nil
	})
}

// Shuffle groups the i-th byte of every element together, which usually
// improves compression of numeric data.
type Shuffle struct {
	ElementSize int
}

func (s *Shuffle) Name() string { return "shuffle" }
func (s *Shuffle) Kind() Kind   { return BytesToBytes }

func (s *Shuffle) Configuration() map[string]interface{} {
	return map[string]interface{}{"elementsize": s.ElementSize}
}

func (s *Shuffle) RecommendedConcurrency(ChunkRep) Concurrency { return Concurrency{Max: 1} }

func (s *Shuffle) Encode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	if len(data)%s.ElementSize != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of element size %d", len(data), s.ElementSize)
	}
	n := len(data) / s.ElementSize
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for b := 0; b < s.ElementSize; b++ {
			out[b*n+i] = data[i*s.ElementSize+b]
		}
	}
	return out, nil
}

func (s *Shuffle) Decode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	if len(data)%s.ElementSize != 0 {
		return nil, fmt.Errorf("%d bytes is not a multiple of element size %d", len(data), s.ElementSize)
	}
	n := len(data) / s.ElementSize
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for b := 0; b < s.ElementSize; b++ {
			out[i*s.ElementSize+b] = data[b*n+i]
		}
	}
	return out, nil
}
