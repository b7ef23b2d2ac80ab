/*
	Package storage defines key/byte-range stores for encoded chunks and a
	registry of the engines that provide them.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped) when a key does not exist.
var ErrNotFound = errors.New("key not found")

// IsNotFound returns true if the error means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// NotFound returns an ErrNotFound wrapping the key.
func NotFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// ByteRange selects part of a stored value.  A negative Length reads to the
// end.  A negative Offset reads the final Length bytes.
type ByteRange struct {
	Offset int64
	Length int64
}

// FullRange selects a whole value.
var FullRange = ByteRange{Offset: 0, Length: -1}

// Suffix selects the final n bytes of a value.
func Suffix(n int64) ByteRange {
	return ByteRange{Offset: -1, Length: n}
}

// IsFull returns true if the range selects a whole value.
func (r ByteRange) IsFull() bool {
	return r.Offset == 0 && r.Length < 0
}

func (r ByteRange) String() string {
	switch {
	case r.IsFull():
		return "all"
	case r.Offset < 0:
		return fmt.Sprintf("last %d", r.Length)
	case r.Length < 0:
		return fmt.Sprintf("%d-", r.Offset)
	}
	return fmt.Sprintf("%d+%d", r.Offset, r.Length)
}

// Bounds resolves the range against a value of the given size.
func (r ByteRange) Bounds(size int64) (begin, end int64, err error) {
	if r.Offset < 0 {
		begin = size - r.Length
		if begin < 0 {
			begin = 0
		}
		return begin, size, nil
	}
	if r.Offset > size {
		return 0, 0, fmt.Errorf("range %s starts past end of %d byte value", r, size)
	}
	begin, end = r.Offset, size
	if r.Length >= 0 && begin+r.Length < size {
		end = begin + r.Length
	}
	return begin, end, nil
}

// Slice applies the range to a whole value.
func (r ByteRange) Slice(value []byte) ([]byte, error) {
	begin, end, err := r.Bounds(int64(len(value)))
	if err != nil {
		return nil, err
	}
	return value[begin:end], nil
}

// Store is a key-value store addressed by string keys with byte-range reads.
// Implementations must be safe for concurrent use.
type Store interface {
	fmt.Stringer

	// GetRange returns part of a value, or an error satisfying IsNotFound if
	// the key does not exist.
	GetRange(ctx context.Context, key string, r ByteRange) ([]byte, error)

	// Put stores a whole value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes a key.  Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// Lister is implemented by stores that can enumerate keys.
type Lister interface {
	// List returns the sorted keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Get returns a whole value.
func Get(ctx context.Context, s Store, key string) ([]byte, error) {
	return s.GetRange(ctx, key, FullRange)
}
