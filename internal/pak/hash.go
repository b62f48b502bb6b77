package pak

import (
	"encoding/hex"
	"hash"
	"io"

	"github.com/spaolacci/murmur3"
)

// HashBytes returns the content hash of b.
func HashBytes(b []byte) ContentHash {
	h := murmur3.New128()
	_, _ = h.Write(b)

	return ContentHash(hexSum(h))
}

// HashReader returns the content hash of everything read from r and the
// number of bytes read.
func HashReader(r io.Reader) (ContentHash, int64, error) {
	h := murmur3.New128()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}

	return ContentHash(hexSum(h)), n, nil
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
