package derivation

import (
	"strings"

	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// PipelineVersion is part of every derivation key. Bump it whenever the
// transcoding pipeline changes output for the same input and kind.
const PipelineVersion = "3"

// ShortKeyLen is the number of key characters embedded in routes.
const ShortKeyLen = 12

// Key identifies the output of applying kind to bytes hashing to hash.
func Key(hash pak.ContentHash, kind Kind) string {
	var b strings.Builder
	b.WriteString(hash.String())
	b.WriteByte(0)
	b.WriteString(kind.Params())
	b.WriteByte(0)
	b.WriteString(PipelineVersion)

	return pak.HashBytes([]byte(b.String())).String()
}

// ShortKey is the prefix of key used in routes.
func ShortKey(key string) string {
	if len(key) <= ShortKeyLen {
		return key
	}

	return key[:ShortKeyLen]
}

// ObjectKey is where a derivation's output is cached:
// {env}/derivations/{key[0:2]}/{key}.{ext}.
func ObjectKey(env, key, ext string) string {
	return pak.ShardedKey(env+"/derivations", key, ext)
}

// CacheKey is the environment-scoped object key of d's output for input.
func CacheKey(env string, input pak.Input, kind Kind) string {
	return ObjectKey(env, Key(input.Hash, kind), kind.OutputExt(input.Path))
}

// BustedRoute is {base}~{short key}.{ext}, where base is the input path
// without its extension.
func BustedRoute(input pak.InputPath, key, ext string) pak.Route {
	base := strings.TrimSuffix(input.String(), pathExt(input.String()))

	return pak.Route(base + "~" + ShortKey(key) + "." + ext)
}

func pathExt(p string) string {
	slash := strings.LastIndexByte(p, '/')
	dot := strings.LastIndexByte(p, '.')
	if dot <= slash+1 {
		return ""
	}

	return p[dot:]
}
