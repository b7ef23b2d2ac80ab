package codec

import (
	"context"
	"fmt"

	"github.com/janelia-flyem/zpipe/indexing"
	"github.com/janelia-flyem/zpipe/zpipe"
)

// Chain is an ordered list of codecs with exactly one array-to-bytes codec
// followed by zero or more bytes-to-bytes codecs.  Encoding runs the chain
// forward and decoding runs it in reverse.
type Chain struct {
	arrayToBytes Codec
	bytesToBytes []Codec
}

// NewChain builds a chain from metadata specs.  An empty spec list yields a
// chain with only the little-endian bytes codec.
func NewChain(specs []Spec, dt zpipe.DataType) (*Chain, error) {
	chain := new(Chain)
	for i, spec := range specs {
		c, err := New(spec, dt)
		if err != nil {
			return nil, err
		}
		switch c.Kind() {
		case ArrayToBytes:
			if chain.arrayToBytes != nil {
				return nil, configError("codecs", "codec %d (%s) is a second array-to-bytes codec", i, c.Name())
			}
			chain.arrayToBytes = c
		case BytesToBytes:
			if chain.arrayToBytes == nil {
				return nil, configError("codecs", "codec %d (%s) precedes the array-to-bytes codec", i, c.Name())
			}
			chain.bytesToBytes = append(chain.bytesToBytes, c)
		}
	}
	if chain.arrayToBytes == nil {
		chain.arrayToBytes = &Bytes{Endian: "little"}
	}
	return chain, nil
}

// Codecs returns the codecs in encode order.
func (c *Chain) Codecs() []Codec {
	return append([]Codec{c.arrayToBytes}, c.bytesToBytes...)
}

// Specs returns the metadata form of the chain.
func (c *Chain) Specs() []Spec {
	var specs []Spec
	for _, cd := range c.Codecs() {
		specs = append(specs, Spec{Name: cd.Name(), Configuration: cd.Configuration()})
	}
	return specs
}

func (c *Chain) String() string {
	s := ""
	for i, cd := range c.Codecs() {
		if i > 0 {
			s += " -> "
		}
		s += cd.Name()
	}
	return s
}

// Encode converts a decoded chunk into its stored bytes.
func (c *Chain) Encode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	out, err := c.arrayToBytes.Encode(rep, data, opts)
	if err != nil {
		return nil, wrap(c.arrayToBytes, "encode", err)
	}
	for _, cd := range c.bytesToBytes {
		if out, err = cd.Encode(rep, out, opts); err != nil {
			return nil, wrap(cd, "encode", err)
		}
	}
	return out, nil
}

// Decode converts stored bytes into a decoded chunk of rep.Shape.
func (c *Chain) Decode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	var err error
	for i := len(c.bytesToBytes) - 1; i >= 0; i-- {
		cd := c.bytesToBytes[i]
		if data, err = cd.Decode(rep, data, opts); err != nil {
			return nil, wrap(cd, "decode", err)
		}
	}
	out, err := c.arrayToBytes.Decode(rep, data, opts)
	if err != nil {
		return nil, wrap(c.arrayToBytes, "decode", err)
	}
	return out, nil
}

func wrap(cd Codec, op string, err error) error {
	if _, isCodecErr := err.(*Error); isCodecErr {
		return err
	}
	return &Error{Codec: cd.Name(), Op: op, Err: err}
}

// RecommendedConcurrency returns the largest inner concurrency hint of the
// chain's codecs.
func (c *Chain) RecommendedConcurrency(rep ChunkRep) Concurrency {
	hint := Concurrency{Max: 1}
	for _, cd := range c.Codecs() {
		if h := cd.RecommendedConcurrency(rep); h.Max > hint.Max {
			hint = h
		}
	}
	return hint
}

// PartialDecoder is implemented by codecs that can decode a region of a
// chunk by reading only parts of the stored object.
type PartialDecoder interface {
	DecodePartial(ctx context.Context, r RangeReader, rep ChunkRep, region indexing.Region, opts Options) ([]byte, error)
}

// PartialDecoder returns the chain's partial decoder if the stored bytes
// are addressable, i.e., the array-to-bytes codec supports partial decoding
// and no bytes-to-bytes codec follows it.
func (c *Chain) PartialDecoder() (PartialDecoder, bool) {
	if len(c.bytesToBytes) > 0 {
		return nil, false
	}
	pd, ok := c.arrayToBytes.(PartialDecoder)
	return pd, ok
}

// Invalidator is implemented by codecs that cache per-object state.
type Invalidator interface {
	Invalidate(key string)
}

// Invalidate drops cached state about a stored object after it changes.
func (c *Chain) Invalidate(key string) {
	if inv, ok := c.arrayToBytes.(Invalidator); ok {
		inv.Invalidate(key)
	}
}

func checkLength(rep ChunkRep, data []byte) error {
	if int64(len(data)) != rep.NumBytes() {
		return fmt.Errorf("expected %d bytes for chunk of shape %s and type %s, got %d",
			rep.NumBytes(), rep.Shape, rep.DataType, len(data))
	}
	return nil
}
