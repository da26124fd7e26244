// Package storageurl extracts bucket and object path from public storage URLs.
package storageurl

import (
	"net/url"
	"strings"
)

// Marker precedes "<bucket>/<objectPath>" in public object URLs, e.g.
// https://cdn.example.com/storage/v1/object/public/tcpublic/tribe-covers/abc.jpg
const Marker = "/storage/v1/object/public/"

// Ref identifies one object in one bucket.
type Ref struct {
	Bucket string
	Path   string
}

// Parse extracts a Ref from a public object URL. It reports ok=false for
// anything it cannot parse: empty input, missing marker, malformed URL,
// empty bucket or empty object path. Callers must treat ok=false as
// "nothing to delete for this URL", not as an error.
func Parse(raw string) (Ref, bool) {
	if raw == "" {
		return Ref{}, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, false
	}
	idx := strings.Index(u.Path, Marker)
	if idx < 0 {
		return Ref{}, false
	}
	rest := u.Path[idx+len(Marker):]
	bucket, path, found := strings.Cut(rest, "/")
	if !found || bucket == "" || path == "" {
		return Ref{}, false
	}
	return Ref{Bucket: bucket, Path: path}, true
}
