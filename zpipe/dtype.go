package zpipe

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DataType is the element type of an array.  In-memory buffers hold elements
// in little-endian byte order.
type DataType struct {
	Name string
	Size int // bytes per element
	kind byte
}

const (
	kindBool byte = iota
	kindInt
	kindUint
	kindFloat
)

var dataTypes = map[string]DataType{
	"bool":    {"bool", 1, kindBool},
	"int8":    {"int8", 1, kindInt},
	"int16":   {"int16", 2, kindInt},
	"int32":   {"int32", 4, kindInt},
	"int64":   {"int64", 8, kindInt},
	"uint8":   {"uint8", 1, kindUint},
	"uint16":  {"uint16", 2, kindUint},
	"uint32":  {"uint32", 4, kindUint},
	"uint64":  {"uint64", 8, kindUint},
	"float32": {"float32", 4, kindFloat},
	"float64": {"float64", 8, kindFloat},
}

// ParseDataType returns the DataType with the given name.
func ParseDataType(name string) (DataType, error) {
	dt, found := dataTypes[name]
	if !found {
		return DataType{}, NewConfigurationError("data_type", "unsupported data type %q", name)
	}
	return dt, nil
}

func (dt DataType) String() string { return dt.Name }

// IsFloat returns true for floating-point types.
func (dt DataType) IsFloat() bool { return dt.kind == kindFloat }

// ParseFillValue decodes a JSON fill value into the little-endian bytes of a
// single element.  A null fill value is treated as zero.  Floats accept
// "NaN", "Infinity" and "-Infinity", and any type accepts a hex string
// "0x..." giving the raw bit pattern.
func (dt DataType) ParseFillValue(raw json.RawMessage) ([]byte, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return make([]byte, dt.Size), nil
	}
	if strings.HasPrefix(s, "\"") {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil, NewConfigurationError("fill_value", "%v", err)
		}
		if strings.HasPrefix(str, "0x") {
			return dt.rawBits(str[2:])
		}
		if dt.kind != kindFloat {
			return nil, NewConfigurationError("fill_value", "string %q not allowed for %s", str, dt)
		}
		switch str {
		case "NaN":
			return dt.EncodeFloat(math.NaN()), nil
		case "Infinity":
			return dt.EncodeFloat(math.Inf(1)), nil
		case "-Infinity":
			return dt.EncodeFloat(math.Inf(-1)), nil
		}
		return nil, NewConfigurationError("fill_value", "unknown float constant %q", str)
	}
	b, err := dt.ParseValue(s)
	if err != nil {
		return nil, NewConfigurationError("fill_value", "%v", err)
	}
	return b, nil
}

// FormatFillValue returns the JSON encoding of an element's bytes.
func (dt DataType) FormatFillValue(b []byte) json.RawMessage {
	if dt.kind == kindFloat {
		f := dt.DecodeFloat(b)
		switch {
		case math.IsNaN(f):
			return json.RawMessage(`"NaN"`)
		case math.IsInf(f, 1):
			return json.RawMessage(`"Infinity"`)
		case math.IsInf(f, -1):
			return json.RawMessage(`"-Infinity"`)
		}
	}
	return json.RawMessage(dt.FormatValue(b))
}

func (dt DataType) rawBits(h string) ([]byte, error) {
	bits, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return nil, NewConfigurationError("fill_value", "bad hex bit pattern %q", h)
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, bits)
	b = b[8-dt.Size:]
	out := make([]byte, dt.Size)
	for i := range b {
		out[dt.Size-1-i] = b[i]
	}
	return out, nil
}

// ParseValue parses a textual scalar into the little-endian bytes of one element.
func (dt DataType) ParseValue(s string) ([]byte, error) {
	b := make([]byte, dt.Size)
	switch dt.kind {
	case kindBool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		if v {
			b[0] = 1
		}
	case kindInt:
		v, err := strconv.ParseInt(s, 10, dt.Size*8)
		if err != nil {
			return nil, err
		}
		putUint(b, uint64(v))
	case kindUint:
		v, err := strconv.ParseUint(s, 10, dt.Size*8)
		if err != nil {
			return nil, err
		}
		putUint(b, v)
	case kindFloat:
		v, err := strconv.ParseFloat(s, dt.Size*8)
		if err != nil {
			return nil, err
		}
		return dt.EncodeFloat(v), nil
	default:
		return nil, fmt.Errorf("unknown data type %s", dt)
	}
	return b, nil
}

// FormatValue renders one little-endian element as text.
func (dt DataType) FormatValue(b []byte) string {
	switch dt.kind {
	case kindBool:
		return strconv.FormatBool(b[0] != 0)
	case kindInt:
		v := getUint(b[:dt.Size])
		shift := uint(64 - dt.Size*8)
		return strconv.FormatInt(int64(v<<shift)>>shift, 10)
	case kindUint:
		return strconv.FormatUint(getUint(b[:dt.Size]), 10)
	case kindFloat:
		return strconv.FormatFloat(dt.DecodeFloat(b), 'g', -1, dt.Size*8)
	}
	return hex.EncodeToString(b[:dt.Size])
}

// EncodeFloat returns the little-endian bytes of a float element.
func (dt DataType) EncodeFloat(f float64) []byte {
	b := make([]byte, dt.Size)
	if dt.Size == 4 {
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(f)))
	} else {
		binary.LittleEndian.PutUint64(b, math.Float64bits(f))
	}
	return b
}

// DecodeFloat interprets little-endian bytes as a float element.
func (dt DataType) DecodeFloat(b []byte) float64 {
	if dt.Size == 4 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func putUint(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v >> (8 * uint(i)))
	}
}

func getUint(b []byte) uint64 {
	var v uint64
	for i := range b {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}
