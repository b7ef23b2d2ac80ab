package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/janelia-flyem/zpipe/zpipe"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func init() {
	Register("crc32c", func(zpipe.Config, zpipe.DataType) (Codec, error) {
		return CRC32C{}, nil
	})
}

// CRC32C appends a little-endian CRC-32C checksum of the encoded bytes.
// The checksum is verified on decode only when checksum validation is
// enabled.
type CRC32C struct{}

func (CRC32C) Name() string                                { return "crc32c" }
func (CRC32C) Kind() Kind                                  { return BytesToBytes }
func (CRC32C) Configuration() map[string]interface{}       { return nil }
func (CRC32C) RecommendedConcurrency(ChunkRep) Concurrency { return Concurrency{Max: 1} }

func (CRC32C) Encode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	out := make([]byte, len(data)+4)
	copy(out, data)
	binary.LittleEndian.PutUint32(out[len(data):], crc32.Checksum(data, castagnoli))
	return out, nil
}

func (CRC32C) Decode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%d bytes is too short to hold a checksum", len(data))
	}
	payload := data[:len(data)-4]
	if opts.ValidateChecksums {
		stored := binary.LittleEndian.Uint32(data[len(data)-4:])
		if computed := crc32.Checksum(payload, castagnoli); stored != computed {
			return nil, &ChecksumError{Stored: stored, Computed: computed}
		}
	}
	return payload, nil
}
