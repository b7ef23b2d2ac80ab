/*
	Package blob implements a store over Go Cloud blob buckets, so chunks can
	live in memory ("mem://"), on local disk ("file:///path"), in Google Cloud
	Storage ("gs://bucket") or in S3 ("s3://bucket?region=...").  Range reads
	use bucket range readers so a shard index or inner chunk can be fetched
	without downloading the whole object.
*/
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/blang/semver"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/janelia-flyem/zpipe/storage"
	"github.com/janelia-flyem/zpipe/zpipe"
)

func init() {
	ver, err := semver.Make("0.1.0")
	if err != nil {
		zpipe.Errorf("Unable to make semver in blob engine: %v\n", err)
	}
	storage.RegisterEngine(Engine{"blob", "Go Cloud blob bucket (mem, file, gs, s3)", ver})
}

// --- Engine Implementation ------

type Engine struct {
	name   string
	desc   string
	semver semver.Version
}

func (e Engine) GetName() string {
	return e.name
}

func (e Engine) GetDescription() string {
	return e.desc
}

func (e Engine) GetSemVer() semver.Version {
	return e.semver
}

func (e Engine) String() string {
	return fmt.Sprintf("%s [%s]", e.name, e.semver)
}

// GetTestConfig returns an in-memory bucket configuration.
func (e Engine) GetTestConfig() (zpipe.StoreConfig, error) {
	return zpipe.StoreConfig{Config: zpipe.Config{"url": "mem://"}, Engine: e.name}, nil
}

// NewStore opens the bucket at the configured "url", optionally restricted
// to keys under "prefix".
func (e Engine) NewStore(config zpipe.StoreConfig) (storage.Store, bool, error) {
	url, found, err := config.GetString("url")
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, fmt.Errorf("%q must be specified for blob configuration", "url")
	}
	prefix, _, err := config.GetString("prefix")
	if err != nil {
		return nil, false, err
	}
	return Open(context.Background(), url, prefix)
}

// Open returns a store on the bucket at url.
func Open(ctx context.Context, url, prefix string) (*Store, bool, error) {
	zpipe.Infof("Trying to open blob store @ %q ...\n", url)
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, false, fmt.Errorf("can't open bucket %q: %v", url, err)
	}
	if prefix != "" {
		bucket = blob.PrefixedBucket(bucket, prefix)
	}
	return &Store{url: url, prefix: prefix, bucket: bucket}, false, nil
}

// Store is a store on a Go Cloud bucket.
type Store struct {
	url    string
	prefix string
	bucket *blob.Bucket
}

func (s *Store) String() string {
	if s.prefix != "" {
		return fmt.Sprintf("blob store @ %s (prefix %s)", s.url, s.prefix)
	}
	return fmt.Sprintf("blob store @ %s", s.url)
}

func (s *Store) Close() error {
	return s.bucket.Close()
}

func notFound(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

func (s *Store) GetRange(ctx context.Context, key string, br storage.ByteRange) ([]byte, error) {
	offset, length := br.Offset, br.Length
	if offset < 0 {
		attrs, err := s.bucket.Attributes(ctx, key)
		if err != nil {
			if notFound(err) {
				return nil, storage.NotFound(key)
			}
			return nil, err
		}
		offset = attrs.Size - length
		if offset < 0 {
			offset, length = 0, attrs.Size
		}
	}
	r, err := s.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		if notFound(err) {
			return nil, storage.NotFound(key)
		}
		return nil, err
	}
	defer r.Close()
	size := length
	if size < 0 {
		size = r.Size()
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.bucket.WriteAll(ctx, key, value, nil)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && notFound(err) {
		return nil
	}
	return err
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if !obj.IsDir {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
