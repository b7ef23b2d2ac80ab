/*
	Package metadata reads and writes zarr v3 array metadata documents and
	derives from them the chunk grid, element type, fill value and codec
	chain used by the pipeline.
*/
package metadata

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/janelia-flyem/zpipe/codec"
	"github.com/janelia-flyem/zpipe/storage"
	"github.com/janelia-flyem/zpipe/zpipe"
)

// DocumentName is the key suffix of an array's metadata document.
const DocumentName = "zarr.json"

//go:embed schema.json
var schemaText string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("zarr.json", schemaText)
	})
	return schema, schemaErr
}

// ChunkGrid is the metadata form of a regular chunk grid.
type ChunkGrid struct {
	Name          string `json:"name"`
	Configuration struct {
		ChunkShape []int64 `json:"chunk_shape"`
	} `json:"configuration"`
}

// ChunkKeyEncoding determines how chunk coordinates map to store keys.
type ChunkKeyEncoding struct {
	Name          string `json:"name"`
	Configuration struct {
		Separator string `json:"separator,omitempty"`
	} `json:"configuration"`
}

// Array is a zarr v3 array metadata document.
type Array struct {
	ZarrFormat       int                    `json:"zarr_format"`
	NodeType         string                 `json:"node_type"`
	Shape            []int64                `json:"shape"`
	DataType         string                 `json:"data_type"`
	ChunkGrid        ChunkGrid              `json:"chunk_grid"`
	ChunkKeyEncoding ChunkKeyEncoding       `json:"chunk_key_encoding"`
	FillValue        json.RawMessage        `json:"fill_value"`
	Codecs           []codec.Spec           `json:"codecs"`
	Attributes       map[string]interface{} `json:"attributes,omitempty"`
	DimensionNames   []*string              `json:"dimension_names,omitempty"`

	grid  *zpipe.ChunkGrid
	dtype zpipe.DataType
	fill  []byte
	chain *codec.Chain
}

// Parse validates and decodes a metadata document.
func Parse(data []byte) (*Array, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling metadata schema: %v", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, zpipe.NewConfigurationError("metadata", "bad JSON: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, zpipe.NewConfigurationError("metadata", "%v", err)
	}
	a := new(Array)
	if err := json.Unmarshal(data, a); err != nil {
		return nil, zpipe.NewConfigurationError("metadata", "%v", err)
	}
	if err := a.init(); err != nil {
		return nil, err
	}
	return a, nil
}

// Options describe a new array.
type Options struct {
	Shape      zpipe.Point
	ChunkShape zpipe.Point
	ShardShape zpipe.Point // nil for unsharded arrays
	DataType   string
	FillValue  json.RawMessage // nil for zero

	// Codecs are the bytes-to-bytes codecs applied to each chunk (inner
	// chunks when sharded), e.g., a compressor.
	Codecs []codec.Spec

	// Separator of chunk key elements; "/" if empty.
	Separator  string
	Attributes map[string]interface{}
}

// New returns metadata for a new array.  When sharded, the chunk grid holds
// the shard shape and a sharding_indexed codec holds the chunk shape and
// the given codecs.
func New(opts Options) (*Array, error) {
	a := &Array{
		ZarrFormat: 3,
		NodeType:   "array",
		Shape:      []int64(opts.Shape),
		DataType:   opts.DataType,
		FillValue:  opts.FillValue,
		Attributes: opts.Attributes,
	}
	if a.DataType == "" {
		a.DataType = "uint8"
	}
	if a.FillValue == nil {
		a.FillValue = json.RawMessage("0")
		if a.DataType == "bool" {
			a.FillValue = json.RawMessage("false")
		}
	}
	a.ChunkGrid.Name = "regular"
	a.ChunkKeyEncoding.Name = "default"
	a.ChunkKeyEncoding.Configuration.Separator = opts.Separator
	if a.ChunkKeyEncoding.Configuration.Separator == "" {
		a.ChunkKeyEncoding.Configuration.Separator = "/"
	}

	chunkCodecs := append([]codec.Spec{{Name: "bytes", Configuration: map[string]interface{}{"endian": "little"}}}, opts.Codecs...)
	if opts.ShardShape != nil {
		a.ChunkGrid.Configuration.ChunkShape = []int64(opts.ShardShape)
		a.Codecs = []codec.Spec{{
			Name: "sharding_indexed",
			Configuration: map[string]interface{}{
				"chunk_shape":    []int64(opts.ChunkShape),
				"codecs":         chunkCodecs,
				"index_codecs":   []codec.Spec{{Name: "bytes", Configuration: map[string]interface{}{"endian": "little"}}, {Name: "crc32c"}},
				"index_location": "end",
			},
		}}
	} else {
		a.ChunkGrid.Configuration.ChunkShape = []int64(opts.ChunkShape)
		a.Codecs = chunkCodecs
	}

	// Round trip through JSON so new and parsed metadata are identical.
	data, err := a.Marshal()
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (a *Array) init() error {
	var err error
	if a.dtype, err = zpipe.ParseDataType(a.DataType); err != nil {
		return err
	}
	if a.fill, err = a.dtype.ParseFillValue(a.FillValue); err != nil {
		return err
	}
	if a.chain, err = codec.NewChain(a.Codecs, a.dtype); err != nil {
		return err
	}
	gridShape := zpipe.Point(a.ChunkGrid.Configuration.ChunkShape)
	var chunkShape, shardShape zpipe.Point
	if sh, ok := a.chain.Codecs()[0].(*codec.Sharding); ok {
		chunkShape, shardShape = sh.ChunkShape, gridShape
	} else {
		chunkShape = gridShape
	}
	if a.grid, err = zpipe.NewChunkGrid(zpipe.Point(a.Shape), chunkShape, shardShape); err != nil {
		return err
	}
	switch a.ChunkKeyEncoding.Name {
	case "":
		a.ChunkKeyEncoding.Name = "default"
	case "default", "v2":
	default:
		return zpipe.NewConfigurationError("chunk_key_encoding", "unknown encoding %q", a.ChunkKeyEncoding.Name)
	}
	return nil
}

// Marshal returns the JSON document.
func (a *Array) Marshal() ([]byte, error) {
	return json.MarshalIndent(a, "", "    ")
}

// Grid returns the chunk grid of the array.
func (a *Array) Grid() *zpipe.ChunkGrid { return a.grid }

// DType returns the element type.
func (a *Array) DType() zpipe.DataType { return a.dtype }

// Fill returns the fill value as the bytes of one element.
func (a *Array) Fill() []byte { return a.fill }

// Chain returns the codec chain applied to each stored unit.
func (a *Array) Chain() *codec.Chain { return a.chain }

// Rep returns the decoded representation of a stored unit (a shard when
// sharded).  Stored units always have the nominal shape, with positions
// past the array edge holding the fill value.
func (a *Array) Rep() codec.ChunkRep {
	return codec.ChunkRep{Shape: a.grid.StorageGrid().ChunkShape(), DataType: a.dtype, Fill: a.fill}
}

func (a *Array) separator() string {
	sep := a.ChunkKeyEncoding.Configuration.Separator
	if sep != "" {
		return sep
	}
	if a.ChunkKeyEncoding.Name == "v2" {
		return "."
	}
	return "/"
}

// ChunkKey returns the key of a stored unit relative to the array.
func (a *Array) ChunkKey(coord zpipe.ChunkPoint) string {
	sep := a.separator()
	elems := make([]string, len(coord))
	for i, c := range coord {
		elems[i] = strconv.FormatInt(c, 10)
	}
	if a.ChunkKeyEncoding.Name == "v2" {
		if len(coord) == 0 {
			return "0"
		}
		return strings.Join(elems, sep)
	}
	return strings.Join(append([]string{"c"}, elems...), sep)
}

// Key joins an array path and a relative key.
func Key(arrayPath, key string) string {
	if arrayPath == "" {
		return key
	}
	return path.Join(arrayPath, key)
}

// Load reads the metadata of the array at arrayPath.
func Load(ctx context.Context, store storage.Store, arrayPath string) (*Array, error) {
	data, err := storage.Get(ctx, store, Key(arrayPath, DocumentName))
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("no array at %q in %s: %w", arrayPath, store, err)
		}
		return nil, err
	}
	return Parse(data)
}

// Save writes the metadata of the array at arrayPath.
func (a *Array) Save(ctx context.Context, store storage.Store, arrayPath string) error {
	data, err := a.Marshal()
	if err != nil {
		return err
	}
	return store.Put(ctx, Key(arrayPath, DocumentName), data)
}
