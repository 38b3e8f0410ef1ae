// Package cache manages the local package cache: the folder layout for exported sources, package folders and
// archives plus a bbolt index of everything that was exported or built.
package cache

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	bolt "go.etcd.io/bbolt"

	"github.com/thinkbox/cmlibrary/pkg/archive"
	"github.com/thinkbox/cmlibrary/pkg/recipe"
)

var (
	recipesBucket  = []byte("recipes")
	packagesBucket = []byte("packages")
)

// ErrNotFound is returned when a record is missing from the index
var ErrNotFound = eris.New("not found in the local cache")

// RecipeRecord describes an exported recipe
type RecipeRecord struct {
	Reference  string    `json:"reference"`
	RecipePath string    `json:"recipe_path"`
	Files      []string  `json:"files"`
	Exported   time.Time `json:"exported"`
}

// PackageRecord describes a package built from an exported recipe
type PackageRecord struct {
	Reference string              `json:"reference"`
	PackageID string              `json:"package_id"`
	Settings  map[string]string   `json:"settings"`
	Options   map[string]string   `json:"options"`
	Files     []archive.FileEntry `json:"files"`
	Archive   string              `json:"archive"`
	Created   time.Time           `json:"created"`
}

// Cache is an open package cache
type Cache struct {
	root string
	db   *bolt.DB
}

// Open creates the cache folder if necessary and opens its index
func Open(root string) (*Cache, error) {
	err := os.MkdirAll(root, 0o755)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create cache folder %s", root)
	}

	dbPath := filepath.Join(root, "index.db")
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open cache index %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{recipesBucket, packagesBucket} {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to initialize cache index")
	}

	return &Cache{root: root, db: db}, nil
}

// Close closes the index
func (c *Cache) Close() error {
	return c.db.Close()
}

// Root returns the cache folder
func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) refDir(ref recipe.Reference) string {
	return filepath.Join(append([]string{c.root}, ref.PathParts()...)...)
}

// ExportSourceDir is where the export_sources hook places the recipe's sources
func (c *Cache) ExportSourceDir(ref recipe.Reference) string {
	return filepath.Join(c.refDir(ref), "export_source")
}

// BuildDir is the scratch folder a package is assembled from when the recipe copies its sources
func (c *Cache) BuildDir(ref recipe.Reference, packageID string) string {
	return filepath.Join(c.refDir(ref), "build", packageID)
}

// PackageDir is the folder the package hook writes to
func (c *Cache) PackageDir(ref recipe.Reference, packageID string) string {
	return filepath.Join(c.refDir(ref), "package", packageID)
}

// ExportDir holds the copy of the recipe script itself
func (c *Cache) ExportDir(ref recipe.Reference) string {
	return filepath.Join(c.refDir(ref), "export")
}

// ArchivePath is the location of a compressed package (name is the package id) or of the exported sources
func (c *Cache) ArchivePath(ref recipe.Reference, name, ext string) string {
	return filepath.Join(c.refDir(ref), "archives", name+ext)
}

// StagingDir returns a fresh folder name below the reference's tmp folder. Folders are assembled there and moved
// into place once complete.
func (c *Cache) StagingDir(ref recipe.Reference) string {
	return filepath.Join(c.refDir(ref), "tmp", nanoid.New())
}

func packageKey(ref recipe.Reference, packageID string) []byte {
	return []byte(ref.String() + ":" + packageID)
}

// PutRecipe stores the record of an export
func (c *Cache) PutRecipe(record RecipeRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "failed to encode recipe record")
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(recipesBucket).Put([]byte(record.Reference), data)
	})
}

// GetRecipe looks up the export record for ref
func (c *Cache) GetRecipe(ref recipe.Reference) (*RecipeRecord, error) {
	var record RecipeRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(recipesBucket).Get([]byte(ref.String()))
		if data == nil {
			return eris.Wrapf(ErrNotFound, "recipe %s", ref)
		}

		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// PutPackage stores the record of a built package
func (c *Cache) PutPackage(ref recipe.Reference, record PackageRecord) error {
	record.Reference = ref.String()
	data, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "failed to encode package record")
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(packagesBucket).Put(packageKey(ref, record.PackageID), data)
	})
}

// GetPackage looks up a single package
func (c *Cache) GetPackage(ref recipe.Reference, packageID string) (*PackageRecord, error) {
	var record PackageRecord
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(packagesBucket).Get(packageKey(ref, packageID))
		if data == nil {
			return eris.Wrapf(ErrNotFound, "package %s:%s", ref, packageID)
		}

		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// Packages returns all packages built for ref, newest first
func (c *Cache) Packages(ref recipe.Reference) ([]PackageRecord, error) {
	prefix := []byte(ref.String() + ":")
	result := []PackageRecord{}

	err := c.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(packagesBucket).Cursor()
		for key, data := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, data = cursor.Next() {
			var record PackageRecord
			err := json.Unmarshal(data, &record)
			if err != nil {
				return eris.Wrapf(err, "failed to decode package record %s", key)
			}
			result = append(result, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Created.After(result[j].Created)
	})
	return result, nil
}
