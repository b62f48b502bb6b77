package pak

import (
	"bytes"
	"fmt"
	"path"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/fahadfarid28/home-sub000/internal/errors"
)

// FormatVersion is bumped whenever the serialized layout of a Pak changes.
const FormatVersion = 1

type document struct {
	Format  string `msgpack:"format"`
	Version int    `msgpack:"version"`
	Pak     *Pak   `msgpack:"pak"`
}

// Marshal serializes p as a single msgpack document, fonts included.
func Marshal(p *Pak) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(&buf)

	if err := enc.Encode(document{Format: "pak", Version: FormatVersion, Pak: p}); err != nil {
		return nil, errors.WrapInternal(err, errors.ErrCodeSerialization, "encoding pak")
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes a document produced by Marshal.
func Unmarshal(b []byte) (*Pak, error) {
	var doc document
	if err := msgpack.Unmarshal(b, &doc); err != nil {
		return nil, errors.WrapValidation(err, errors.ErrCodeSerialization, "decoding pak")
	}
	if doc.Format != "pak" || doc.Pak == nil {
		return nil, errors.NewValidationError(errors.ErrCodeSerialization, "not a pak document")
	}
	if doc.Version != FormatVersion {
		return nil, errors.NewValidationError(errors.ErrCodeSerialization,
			fmt.Sprintf("unsupported pak format version %d", doc.Version))
	}

	p := doc.Pak
	if p.Inputs == nil {
		p.Inputs = make(map[InputPath]Input)
	}
	if p.Pages == nil {
		p.Pages = make(map[InputPath]Page)
	}
	if p.Templates == nil {
		p.Templates = make(map[InputPath]Template)
	}
	if p.MediaProps == nil {
		p.MediaProps = make(map[InputPath]MediaProps)
	}

	return p, nil
}

// InputObjectKey is where the raw bytes of an input live in the object store:
// inputs/{hash[0:2]}/{hash}.{ext}.
func InputObjectKey(in Input) string {
	return ShardedKey("inputs", in.Hash.String(), in.Path.Ext())
}

// ShardedKey builds {prefix}/{id[0:2]}/{id}[.ext].
func ShardedKey(prefix, id, ext string) string {
	shard := id
	if len(shard) > 2 {
		shard = shard[:2]
	}
	name := id
	if ext != "" {
		name += "." + ext
	}

	return path.Join(prefix, shard, name)
}
