package storage

import (
	"bytes"
	"context"
	"fmt"
)

// ExerciseStore runs a store through puts, full and ranged gets, listing
// and deletes, returning the first deviation from expected behavior.
// Engine packages use it in their tests.
func ExerciseStore(ctx context.Context, s Store) error {
	value := []byte("0123456789abcdef")
	if _, err := s.GetRange(ctx, "arr/c/0/0", FullRange); !IsNotFound(err) {
		return fmt.Errorf("get of missing key returned %v, expected not found", err)
	}
	if err := s.Put(ctx, "arr/c/0/0", value); err != nil {
		return fmt.Errorf("put: %v", err)
	}
	if err := s.Put(ctx, "arr/c/0/1", value[:4]); err != nil {
		return fmt.Errorf("put: %v", err)
	}
	checks := []struct {
		r    ByteRange
		want []byte
	}{
		{FullRange, value},
		{ByteRange{Offset: 3, Length: 4}, value[3:7]},
		{ByteRange{Offset: 10, Length: -1}, value[10:]},
		{ByteRange{Offset: 12, Length: 100}, value[12:]},
		{Suffix(5), value[11:]},
		{Suffix(100), value},
	}
	for _, check := range checks {
		got, err := s.GetRange(ctx, "arr/c/0/0", check.r)
		if err != nil {
			return fmt.Errorf("get range %s: %v", check.r, err)
		}
		if !bytes.Equal(got, check.want) {
			return fmt.Errorf("get range %s returned %q, expected %q", check.r, got, check.want)
		}
	}
	if l, ok := s.(Lister); ok {
		keys, err := l.List(ctx, "arr/")
		if err != nil {
			return fmt.Errorf("list: %v", err)
		}
		if len(keys) != 2 || keys[0] != "arr/c/0/0" || keys[1] != "arr/c/0/1" {
			return fmt.Errorf("list returned %v", keys)
		}
	}
	if err := s.Put(ctx, "arr/c/0/1", value[4:6]); err != nil {
		return fmt.Errorf("overwrite: %v", err)
	}
	if got, err := Get(ctx, s, "arr/c/0/1"); err != nil || !bytes.Equal(got, value[4:6]) {
		return fmt.Errorf("get after overwrite returned %q, %v", got, err)
	}
	if err := s.Delete(ctx, "arr/c/0/0"); err != nil {
		return fmt.Errorf("delete: %v", err)
	}
	if err := s.Delete(ctx, "arr/c/0/0"); err != nil {
		return fmt.Errorf("delete of missing key: %v", err)
	}
	if _, err := Get(ctx, s, "arr/c/0/0"); !IsNotFound(err) {
		return fmt.Errorf("get after delete returned %v, expected not found", err)
	}
	return nil
}
