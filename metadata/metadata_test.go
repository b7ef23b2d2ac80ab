package metadata

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	. "github.com/janelia-flyem/go/gocheck"

	"github.com/janelia-flyem/zpipe/codec"
	"github.com/janelia-flyem/zpipe/storage"
	"github.com/janelia-flyem/zpipe/zpipe"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type MetaSuite struct{}

var _ = Suite(&MetaSuite{})

const shardedDoc = `{
    "zarr_format": 3,
    "node_type": "array",
    "shape": [100, 60],
    "data_type": "float32",
    "chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [32, 32]}},
    "chunk_key_encoding": {"name": "default", "configuration": {"separator": "/"}},
    "fill_value": "NaN",
    "codecs": [{
        "name": "sharding_indexed",
        "configuration": {
            "chunk_shape": [8, 16],
            "codecs": [{"name": "bytes", "configuration": {"endian": "little"}}, {"name": "zstd"}],
            "index_codecs": [{"name": "bytes"}, {"name": "crc32c"}],
            "index_location": "end"
        }
    }],
    "attributes": {"units": "nm"}
}`

func (s *MetaSuite) TestParseSharded(c *C) {
	a, err := Parse([]byte(shardedDoc))
	c.Assert(err, IsNil)
	grid := a.Grid()
	c.Assert(grid.IsSharded(), Equals, true)
	c.Assert(grid.ChunkShape(), DeepEquals, zpipe.Point{8, 16})
	c.Assert(grid.ShardShape(), DeepEquals, zpipe.Point{32, 32})
	c.Assert(grid.StorageGrid().GridShape(), DeepEquals, zpipe.Point{4, 2})
	c.Assert(a.DType().Name, Equals, "float32")
	c.Assert(a.Rep().Shape, DeepEquals, zpipe.Point{32, 32})
	c.Assert(math.IsNaN(a.DType().DecodeFloat(a.Fill())), Equals, true)
	c.Assert(a.Attributes["units"], Equals, "nm")
	c.Assert(a.ChunkKey(zpipe.ChunkPoint{3, 1}), Equals, "c/3/1")
}

func (s *MetaSuite) TestSchemaRejects(c *C) {
	bad := []string{
		`{"zarr_format": 2, "node_type": "array", "shape": [4], "data_type": "uint8", "chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [2]}}, "fill_value": 0}`,
		`{"zarr_format": 3, "node_type": "array", "shape": [0], "data_type": "uint8", "chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [2]}}, "fill_value": 0}`,
		`{"zarr_format": 3, "node_type": "array", "shape": [4], "data_type": "complex64", "chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [2]}}, "fill_value": 0}`,
		`{"zarr_format": 3, "node_type": "array", "shape": [4], "data_type": "uint8", "fill_value": 0}`,
		`{"zarr_format": 3`,
	}
	for _, doc := range bad {
		_, err := Parse([]byte(doc))
		c.Assert(err, FitsTypeOf, &zpipe.ConfigurationError{})
	}

	// Valid against the schema but inconsistent.
	_, err := Parse([]byte(`{"zarr_format": 3, "node_type": "array", "shape": [4, 4], "data_type": "uint8", "chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [2]}}, "fill_value": 0}`))
	c.Assert(err, NotNil)
	_, err = Parse([]byte(`{"zarr_format": 3, "node_type": "array", "shape": [4], "data_type": "uint8", "chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [2]}}, "fill_value": 0, "codecs": [{"name": "blosc"}]}`))
	c.Assert(err, NotNil)
}

func (s *MetaSuite) TestChunkKeys(c *C) {
	a, err := New(Options{Shape: zpipe.Point{10, 10, 10}, ChunkShape: zpipe.Point{5, 5, 5}})
	c.Assert(err, IsNil)
	c.Assert(a.ChunkKey(zpipe.ChunkPoint{1, 0, 1}), Equals, "c/1/0/1")

	a.ChunkKeyEncoding.Configuration.Separator = "."
	c.Assert(a.ChunkKey(zpipe.ChunkPoint{1, 0, 1}), Equals, "c.1.0.1")

	a.ChunkKeyEncoding.Name = "v2"
	c.Assert(a.ChunkKey(zpipe.ChunkPoint{1, 0, 1}), Equals, "1.0.1")
	c.Assert(a.ChunkKey(zpipe.ChunkPoint{}), Equals, "0")

	c.Assert(Key("", "c/0"), Equals, "c/0")
	c.Assert(Key("vol/raw", "c/0"), Equals, "vol/raw/c/0")
}

func (s *MetaSuite) TestNewAndSave(c *C) {
	a, err := New(Options{
		Shape:      zpipe.Point{64, 64},
		ChunkShape: zpipe.Point{8, 8},
		ShardShape: zpipe.Point{32, 32},
		DataType:   "uint16",
		FillValue:  json.RawMessage("7"),
		Codecs:     []codec.Spec{{Name: "gzip"}},
	})
	c.Assert(err, IsNil)
	c.Assert(a.Grid().IsSharded(), Equals, true)
	c.Assert(a.Fill(), DeepEquals, []byte{7, 0})
	c.Assert(a.Chain().String(), Matches, "sharding_indexed.*")

	ctx := context.Background()
	store := storage.NewMemoryStore("meta")
	c.Assert(a.Save(ctx, store, "vol/raw"), IsNil)
	b, err := Load(ctx, store, "vol/raw")
	c.Assert(err, IsNil)
	c.Assert(b.Shape, DeepEquals, a.Shape)
	c.Assert(b.Grid().String(), Equals, a.Grid().String())

	_, err = Load(ctx, store, "vol/missing")
	c.Assert(storage.IsNotFound(err), Equals, true)
}
