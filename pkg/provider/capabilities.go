package provider

import (
	"context"
	"io"
)

// Optional provider capability interfaces.
//
// s3glob is read-only (ls/dl), so only the capabilities a listing-and-fetching
// pipeline needs are declared here. Detected via type assertion so the core
// Provider interface stays small.

// ObjectGetter can download objects as a stream.
//
// Used by the downloader to fetch matched objects.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// RegionDiscoverer can determine a bucket's region without a full List.
//
// Implemented by the S3 and in-memory providers; s3.New and the CLI do not
// call it, so no region is discovered automatically.
type RegionDiscoverer interface {
	HeadBucket(ctx context.Context, bucket string) (region string, err error)
}
