package pak

import (
	"path"
	"strings"
)

// Str is a string branded with a phantom tag so that, for example, an input
// path cannot be passed where a disk path or a route is expected. Values
// compare, hash and order exactly like their underlying string.
type Str[Tag any] string

type (
	inputPathTag   struct{}
	diskPathTag    struct{}
	routeTag       struct{}
	contentHashTag struct{}
	revisionIDTag  struct{}
)

type (
	// InputPath names a source file in the tenant's logical tree, e.g. /content/a/b.md.
	InputPath = Str[inputPathTag]
	// DiskPath is where an input lives on the local filesystem.
	DiskPath = Str[diskPathTag]
	// Route is an externally visible URL path.
	Route = Str[routeTag]
	// ContentHash is the hex murmur3 hash of a file's bytes.
	ContentHash = Str[contentHashTag]
	// RevisionID identifies one built revision.
	RevisionID = Str[revisionIDTag]
)

// String returns the underlying string.
func (s Str[Tag]) String() string { return string(s) }

// IsEmpty reports whether s is the empty string.
func (s Str[Tag]) IsEmpty() bool { return s == "" }

// HasPrefix reports whether s lies under prefix on a path boundary: "/a" is a
// prefix of "/a" and "/a/b" but not of "/ab".
func (s Str[Tag]) HasPrefix(prefix Str[Tag]) bool {
	p := string(prefix)
	if p == "" {
		return true
	}
	if !strings.HasPrefix(string(s), p) {
		return false
	}
	if len(s) == len(p) || strings.HasSuffix(p, "/") {
		return true
	}

	return s[len(p)] == '/'
}

// Ext returns the lower-cased extension without the leading dot.
func (s Str[Tag]) Ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(string(s)), "."))
}

// Join appends slash-separated elements.
func (s Str[Tag]) Join(elem ...string) Str[Tag] {
	return Str[Tag](path.Join(append([]string{string(s)}, elem...)...))
}
