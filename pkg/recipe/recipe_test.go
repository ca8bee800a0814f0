package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeStorage(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipes.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileStore_ReadAll(t *testing.T) {
	path := writeStorage(t, `[
		{"id": 0, "name": "Coffee", "ingredients": "Coffee", "instructions": "Make Coffee", "public": true},
		{"id": 1, "name": "Tea", "ingredients": "Tea, Water", "instructions": "Boil Water, add tea", "public": false}
	]`)

	recipes, err := NewFileStore(path).ReadAll()
	require.NoError(t, err)
	require.Len(t, recipes, 2)
	require.Equal(t, Recipe{
		ID:           0,
		Name:         "Coffee",
		Ingredients:  "Coffee",
		Instructions: "Make Coffee",
		Public:       true,
	}, recipes[0])
	require.False(t, recipes[1].Public)
}

func TestFileStore_Errors(t *testing.T) {
	t.Run("missing file is an io error", func(t *testing.T) {
		_, err := NewFileStore(filepath.Join(t.TempDir(), "nope.json")).ReadAll()
		require.ErrorIs(t, err, ErrStorageIO)
	})

	t.Run("garbage is a decode error", func(t *testing.T) {
		_, err := NewFileStore(writeStorage(t, "{not json")).ReadAll()
		require.ErrorIs(t, err, ErrStorageDecode)
	})
}

func TestNewFileStore_DefaultPath(t *testing.T) {
	require.Equal(t, DefaultStoragePath, NewFileStore("").Path)
}

func TestPublic(t *testing.T) {
	recipes := []Recipe{
		{ID: 1, Name: "a", Public: true},
		{ID: 2, Name: "b"},
		{ID: 3, Name: "c", Public: true},
	}

	shared := Public(recipes)
	require.Equal(t, []Recipe{recipes[0], recipes[2]}, shared)

	require.NotNil(t, Public(nil), "an empty selection must still encode as a list")
	require.Empty(t, Public([]Recipe{{ID: 4}}))
}
