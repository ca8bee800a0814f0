package recipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// DefaultStoragePath is where a node looks for its recipes when nothing
// else is configured.
const DefaultStoragePath = "./recipes.json"

var (
	ErrStorageIO     = errors.New("recipe: could not read storage")
	ErrStorageDecode = errors.New("recipe: storage content is not a recipe list")
)

// Recipe is a single entry of the local recipe book.
type Recipe struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Ingredients  string `json:"ingredients"`
	Instructions string `json:"instructions"`
	Public       bool   `json:"public"`
}

// Store is the read side of the local recipe book.
type Store interface {
	ReadAll() ([]Recipe, error)
}

// FileStore reads recipes from a JSON array on disk.
// The file is re-read on every call so edits are picked up without restart.
type FileStore struct {
	Path string
}

var _ Store = FileStore{}

func NewFileStore(path string) FileStore {
	if path == "" {
		path = DefaultStoragePath
	}
	return FileStore{Path: path}
}

func (fs FileStore) ReadAll() ([]Recipe, error) {
	content, err := os.ReadFile(fs.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageIO, err)
	}

	var recipes []Recipe
	if err := json.Unmarshal(content, &recipes); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageDecode, err)
	}
	return recipes, nil
}

// Public returns the recipes which may be shared with other peers, in their
// original order. It never returns nil so the result encodes as `[]`.
func Public(recipes []Recipe) []Recipe {
	shared := make([]Recipe, 0, len(recipes))
	for _, r := range recipes {
		if r.Public {
			shared = append(shared, r)
		}
	}
	return shared
}
