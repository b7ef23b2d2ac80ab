package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/janelia-flyem/zpipe/zpipe"
)

func init() {
	Register("gzip", func(config zpipe.Config, dt zpipe.DataType) (Codec, error) {
		level, found, err := config.GetInt("level")
		if err != nil {
			return nil, configError("gzip", "%v", err)
		}
		if !found {
			level = gzip.DefaultCompression
		}
		if level < gzip.HuffmanOnly || level > gzip.BestCompression {
			return nil, configError("gzip", "level %d out of range", level)
		}
		return &Gzip{Level: level}, nil
	})
	Register("zstd", func(config zpipe.Config, dt zpipe.DataType) (Codec, error) {
		level, found, err := config.GetInt("level")
		if err != nil {
			return nil, configError("zstd", "%v", err)
		}
		if !found {
			level = 3
		}
		checksum, _, err := config.GetBool("checksum")
		if err != nil {
			return nil, configError("zstd", "%v", err)
		}
		return &Zstd{Level: level, Checksum: checksum}, nil
	})
	Register("snappy", func(zpipe.Config, zpipe.DataType) (Codec, error) {
		return Snappy{}, nil
	})
	Register("lz4", func(zpipe.Config, zpipe.DataType) (Codec, error) {
		return LZ4{}, nil
	})
}

// Gzip compresses with gzip at the given level.
type Gzip struct {
	Level int
}

func (g *Gzip) Name() string { return "gzip" }
func (g *Gzip) Kind() Kind   { return BytesToBytes }

func (g *Gzip) Configuration() map[string]interface{} {
	return map[string]interface{}{"level": g.Level}
}

func (g *Gzip) RecommendedConcurrency(ChunkRep) Concurrency { return Concurrency{Max: 1} }

func (g *Gzip) Encode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, g.Level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Gzip) Decode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Zstd compresses with Zstandard.  It uses the codec thread allotment for
// its encoder and decoder concurrency.
type Zstd struct {
	Level    int
	Checksum bool
}

func (z *Zstd) Name() string { return "zstd" }
func (z *Zstd) Kind() Kind   { return BytesToBytes }

func (z *Zstd) Configuration() map[string]interface{} {
	return map[string]interface{}{"level": z.Level, "checksum": z.Checksum}
}

// Zstd can use a few threads on large chunks.
func (z *Zstd) RecommendedConcurrency(rep ChunkRep) Concurrency {
	if rep.NumBytes() >= 4<<20 {
		return Concurrency{Max: 4}
	}
	return Concurrency{Max: 1}
}

func (z *Zstd) Encode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(z.Level)),
		zstd.WithEncoderConcurrency(opts.threads()),
		zstd.WithEncoderCRC(z.Checksum))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (z *Zstd) Decode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(opts.threads()))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, make([]byte, 0, rep.NumBytes()))
}

// Snappy compresses with the snappy block format.
type Snappy struct{}

func (Snappy) Name() string                                { return "snappy" }
func (Snappy) Kind() Kind                                  { return BytesToBytes }
func (Snappy) Configuration() map[string]interface{}       { return nil }
func (Snappy) RecommendedConcurrency(ChunkRep) Concurrency { return Concurrency{Max: 1} }

func (Snappy) Encode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (Snappy) Decode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// LZ4 compresses with the LZ4 frame format.
type LZ4 struct{}

func (LZ4) Name() string                                { return "lz4" }
func (LZ4) Kind() Kind                                  { return BytesToBytes }
func (LZ4) Configuration() map[string]interface{}       { return nil }
func (LZ4) RecommendedConcurrency(ChunkRep) Concurrency { return Concurrency{Max: 1} }

func (LZ4) Encode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func (LZ4) Decode(rep ChunkRep, data []byte, opts Options) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
