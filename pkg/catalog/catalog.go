// Package catalog implements the schema catalog: entities, fields,
// relations, and constraints held as an immutable, versioned sequence of
// SchemaBundle snapshots, with one bbolt tree for the history and a
// cached pointer to the current bundle.
package catalog

import (
	"encoding/binary"
	"sync/atomic"

	msgpack "github.com/hashicorp/go-msgpack/v2/codec"
	bolt "go.etcd.io/bbolt"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

var (
	bucketBundles     = []byte("catalog_bundles")
	keyCurrentVersion = []byte("current_version")
	bucketCatalogMeta = []byte("catalog_meta")
)

var mpHandle = &msgpack.MsgpackHandle{}

// Catalog owns one ordered tree of schema bundles. Readers snapshot
// the current bundle pointer via Current() and may keep using their
// snapshot even after a newer bundle is published; new reads see the new
// bundle immediately.
type Catalog struct {
	db *bolt.DB

	// current is an atomic pointer to the latest published bundle, so
	// Current() never takes a lock on the common read path.
	current atomic.Pointer[types.SchemaBundle]
}

func bundleKey(version uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, version)
	return b
}

// Open attaches to (or initializes) the catalog's buckets on db and loads
// the current bundle into memory. If no bundle exists yet, an empty v0
// bundle is published so the catalog is never in a "no current bundle"
// state.
func Open(db *bolt.DB) (*Catalog, error) {
	c := &Catalog{db: db}

	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketBundles, bucketCatalogMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "init catalog buckets")
	}

	bundle, ok, err := c.loadCurrent()
	if err != nil {
		return nil, err
	}
	if !ok {
		bundle = types.SchemaBundle{Version: 0}
		if err := c.publish(bundle); err != nil {
			return nil, err
		}
	} else {
		c.current.Store(&bundle)
	}
	return c, nil
}

func (c *Catalog) loadCurrent() (types.SchemaBundle, bool, error) {
	var (
		bundle types.SchemaBundle
		found  bool
	)
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCatalogMeta).Get(keyCurrentVersion)
		if raw == nil {
			return nil
		}
		version := binary.BigEndian.Uint64(raw)
		data := tx.Bucket(bucketBundles).Get(bundleKey(version))
		if data == nil {
			return latticeerr.New(latticeerr.CodeInternal, "current_version %d missing its bundle", version)
		}
		dec := msgpack.NewDecoderBytes(data, mpHandle)
		if err := dec.Decode(&bundle); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return types.SchemaBundle{}, false, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "load current bundle")
	}
	return bundle, found, nil
}

// Current returns the catalog's current schema bundle snapshot.
func (c *Catalog) Current() types.SchemaBundle {
	return *c.current.Load()
}

// History returns every published bundle version in ascending order.
func (c *Catalog) History() ([]types.SchemaBundle, error) {
	var out []types.SchemaBundle
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBundles).ForEach(func(_, v []byte) error {
			var b types.SchemaBundle
			dec := msgpack.NewDecoderBytes(v, mpHandle)
			if err := dec.Decode(&b); err != nil {
				return err
			}
			out = append(out, b)
			return nil
		})
	})
	if err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "load catalog history")
	}
	return out, nil
}

// Evolve publishes a new bundle at Current().Version+1, built from mutate.
// A published bundle is never rewritten: this always appends a new version and
// flips the current pointer, never touches an existing bundle key.
func (c *Catalog) Evolve(mutate func(next *types.SchemaBundle)) (types.SchemaBundle, error) {
	cur := c.Current()
	next := types.SchemaBundle{
		Version:     cur.Version + 1,
		CreatedAt:   cur.CreatedAt,
		Entities:    append([]types.EntityDef(nil), cur.Entities...),
		Relations:   append([]types.RelationDef(nil), cur.Relations...),
		Constraints: append([]types.ConstraintDef(nil), cur.Constraints...),
	}
	mutate(&next)
	if err := c.publish(next); err != nil {
		return types.SchemaBundle{}, err
	}
	return next, nil
}

func (c *Catalog) publish(bundle types.SchemaBundle) error {
	var buf []byte
	enc := msgpack.NewEncoderBytes(&buf, mpHandle)
	if err := enc.Encode(bundle); err != nil {
		return latticeerr.Wrap(latticeerr.CodeInvalidData, err, "encode schema bundle")
	}

	err := c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBundles).Put(bundleKey(bundle.Version), buf); err != nil {
			return err
		}
		return tx.Bucket(bucketCatalogMeta).Put(keyCurrentVersion, bundleKey(bundle.Version))
	})
	if err != nil {
		return latticeerr.Wrap(latticeerr.CodeStorageIO, err, "publish schema bundle v%d", bundle.Version)
	}

	c.current.Store(&bundle)
	return nil
}

// LookupEntity resolves an entity type name against the current bundle,
// returning UnknownEntity if it is not defined.
func (c *Catalog) LookupEntity(name string) (types.EntityDef, error) {
	def, ok := c.Current().Entity(name)
	if !ok {
		return types.EntityDef{}, latticeerr.New(latticeerr.CodeUnknownEntity, "unknown entity %q", name)
	}
	return def, nil
}

// LookupRelation resolves a relation name against the current bundle,
// returning UnknownRelation if it is not defined.
func (c *Catalog) LookupRelation(name string) (types.RelationDef, error) {
	rel, ok := c.Current().Relation(name)
	if !ok {
		return types.RelationDef{}, latticeerr.New(latticeerr.CodeUnknownRelation, "unknown relation %q", name)
	}
	return rel, nil
}

// LookupField resolves a field name within an already-resolved entity,
// returning UnknownField if it is not defined.
func LookupField(entity types.EntityDef, field string) (types.FieldDef, error) {
	f, ok := entity.Field(field)
	if !ok {
		return types.FieldDef{}, latticeerr.New(latticeerr.CodeUnknownField, "entity %q has no field %q", entity.Name, field)
	}
	return f, nil
}
