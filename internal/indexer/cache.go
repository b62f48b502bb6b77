package indexer

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/objectstore"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// PageCache keeps rendered pages by RenderKey.
type PageCache interface {
	Get(ctx context.Context, key string) (*LoadedPage, bool, error)
	Put(ctx context.Context, key string, lp *LoadedPage) error
}

// cachedPage is the stored form of a LoadedPage. Links between pages are
// recomputed on every Index and are not kept.
type cachedPage struct {
	Hash      pak.ContentHash                   `msgpack:"hash"`
	Route     pak.Route                         `msgpack:"route"`
	DepHashes map[pak.InputPath]pak.ContentHash `msgpack:"dep_hashes"`
	Meta      FrontMatter                       `msgpack:"meta"`
	HTML      string                            `msgpack:"html"`
	PlainText string                            `msgpack:"plain_text"`
	TOC       []Heading                         `msgpack:"toc"`
	Links     []string                          `msgpack:"links"`
	Body      []byte                            `msgpack:"body"`
}

// StoreCache is a PageCache over an object store tier.
type StoreCache struct {
	tier objectstore.Tier
}

var _ PageCache = (*StoreCache)(nil)

// NewStoreCache keeps rendered pages under pages/ in tier.
func NewStoreCache(tier objectstore.Tier) *StoreCache {
	return &StoreCache{tier: tier}
}

func (c *StoreCache) objectKey(key string) string {
	return pak.ShardedKey("pages", key, "msgpack")
}

// Get returns the page stored under key, if any.
func (c *StoreCache) Get(ctx context.Context, key string) (*LoadedPage, bool, error) {
	data, err := c.tier.Get(ctx, c.objectKey(key))
	if objectstore.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var cp cachedPage
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return nil, false, errors.WrapValidation(err, errors.ErrCodeSerialization, "decoding cached page").WithPath(key)
	}

	return &LoadedPage{
		Hash:        cp.Hash,
		Route:       cp.Route,
		DepHashes:   cp.DepHashes,
		Meta:        cp.Meta,
		HTML:        cp.HTML,
		PlainText:   cp.PlainText,
		TOC:         cp.TOC,
		Links:       cp.Links,
		Body:        cp.Body,
		SeriesIndex: -1,
	}, true, nil
}

// Put stores lp under key.
func (c *StoreCache) Put(ctx context.Context, key string, lp *LoadedPage) error {
	data, err := msgpack.Marshal(&cachedPage{
		Hash:      lp.Hash,
		Route:     lp.Route,
		DepHashes: lp.DepHashes,
		Meta:      lp.Meta,
		HTML:      lp.HTML,
		PlainText: lp.PlainText,
		TOC:       lp.TOC,
		Links:     lp.Links,
		Body:      lp.Body,
	})
	if err != nil {
		return errors.WrapInternal(err, errors.ErrCodeSerialization, "encoding cached page").WithPath(lp.Path.String())
	}

	return c.tier.Put(ctx, c.objectKey(key), data)
}
