/*
	Package codec implements the chunk encoding chain: an array-to-bytes
	codec (plain bytes or sharding) followed by any number of bytes-to-bytes
	codecs such as compressors and checksums.
*/
package codec

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/janelia-flyem/zpipe/zpipe"
)

// Kind classifies a codec by the representations it converts between.
type Kind uint8

const (
	ArrayToBytes Kind = iota
	BytesToBytes
)

// ChunkRep describes the decoded form of a chunk.
type ChunkRep struct {
	Shape    zpipe.Point
	DataType zpipe.DataType
	Fill     []byte
}

// NumBytes returns the size of the decoded chunk.
func (rep ChunkRep) NumBytes() int64 {
	return rep.Shape.Prod() * int64(rep.DataType.Size)
}

// Options are per-request settings passed to every codec.
type Options struct {
	// ValidateChecksums enables verification in checksum codecs.
	ValidateChecksums bool

	// Threads is the concurrency a codec may use within one chunk.
	Threads int
}

func (o Options) threads() int {
	if o.Threads < 1 {
		return 1
	}
	return o.Threads
}

// Concurrency is a codec's hint on how much inner parallelism it can use.
type Concurrency struct {
	Max int
}

// Codec transforms a chunk between representations.
type Codec interface {
	Name() string
	Kind() Kind

	// Configuration returns the settings needed to reconstruct the codec.
	Configuration() map[string]interface{}

	Encode(rep ChunkRep, data []byte, opts Options) ([]byte, error)
	Decode(rep ChunkRep, data []byte, opts Options) ([]byte, error)

	// RecommendedConcurrency returns the inner concurrency hint.
	RecommendedConcurrency(rep ChunkRep) Concurrency
}

// RangeReader reads byte ranges of one stored object.  A negative offset
// requests the final length bytes.
type RangeReader interface {
	Key() string
	ReadRange(ctx context.Context, offset, length int64) ([]byte, error)
}

// Spec names a codec and its configuration as it appears in array metadata.
type Spec struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// Factory builds a codec from its configuration.
type Factory func(config zpipe.Config, dt zpipe.DataType) (Codec, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a codec available by name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("codec: Register called twice for " + name)
	}
	registry[name] = f
}

// Registered returns the sorted names of registered codecs.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns the codec for a spec.
func New(spec Spec, dt zpipe.DataType) (Codec, error) {
	registryMu.RLock()
	f, found := registry[spec.Name]
	registryMu.RUnlock()
	if !found {
		return nil, zpipe.NewConfigurationError("codecs", "unknown codec %q", spec.Name)
	}
	return f(zpipe.Config(spec.Configuration), dt)
}

// Error is a failure to encode or decode a chunk.
type Error struct {
	Codec string
	Op    string // "encode" or "decode"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Codec, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ChecksumError is a decode failure due to a checksum mismatch.
type ChecksumError struct {
	Stored, Computed uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("bad checksum: stored %x got %x", e.Stored, e.Computed)
}

func configError(codec, format string, args ...interface{}) error {
	return zpipe.NewConfigurationError(codec, format, args...)
}
