package codec

import "github.com/janelia-flyem/zpipe/zpipe"

func init() {
	Register("bytes", func(config zpipe.Config, dt zpipe.DataType) (Codec, error) {
		endian, _, err := config.GetString("endian")
		if err != nil {
			return nil, configError("bytes", "%v", err)
		}
		switch endian {
		case "":
			endian = "little"
		case "little", "big":
		default:
			return nil, configError("bytes", "unknown endian %q", endian)
		}
		return &Bytes{Endian: endian}, nil
	})
}

// Bytes serializes elements in C order with the given byte order.
type Bytes struct {
	Endian string
}

func (b *Bytes) Name() string { return "bytes" }
func (b *Bytes) Kind() Kind   { return ArrayToBytes }

func (b *Bytes) Configuration() map[string]interface{} {
	return map[string]interface{}{"endian": b.Endian}
}

func (b *Bytes) RecommendedConcurrency(ChunkRep) Concurrency { return Concurrency{Max: 1} }

func (b *Bytes) Encode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	if err := checkLength(rep, data); err != nil {
		return nil, err
	}
	return b.swap(rep, data), nil
}

func (b *Bytes) Decode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	if err := checkLength(rep, data); err != nil {
		return nil, err
	}
	return b.swap(rep, data), nil
}

func (b *Bytes) swap(rep ChunkRep, data []byte) []byte {
	size := rep.DataType.Size
	if b.Endian == "little" || size == 1 {
		return data
	}
	out := make([]byte, len(data))
	for off := 0; off < len(data); off += size {
		for i := 0; i < size; i++ {
			out[off+i] = data[off+size-1-i]
		}
	}
	return out
}
