package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteConfigStore {
	t.Helper()
	store, err := NewSQLiteConfigStoreAt(filepath.Join(t.TempDir(), "prtrelay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreMappings(t *testing.T) {
	store := newTestSQLiteStore(t)

	require.NoError(t, store.Put(Mapping{LocalPort: 9100, RemoteHost: "db", RemotePort: 5432}))
	require.NoError(t, store.Put(Mapping{LocalPort: 9000, RemoteHost: "localhost", RemotePort: 9001}))
	require.NoError(t, store.Put(Mapping{LocalPort: 9000, RemoteHost: "localhost", RemotePort: 9002}))

	all := store.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, 9000, all[0].LocalPort)
	assert.Equal(t, 9002, all[0].RemotePort, "put replaces by local port")
	assert.Equal(t, 2, store.Len())

	err := store.Put(Mapping{LocalPort: 70000, RemoteHost: "x", RemotePort: 1})
	assert.True(t, errors.Is(err, ErrMalformedEntry))

	require.NoError(t, store.Delete(9100))
	_, ok := store.Get(9100)
	assert.False(t, ok)
	assert.True(t, errors.Is(store.Delete(9100), ErrConfigNotFound))
}

func TestSQLiteStoreProjects(t *testing.T) {
	store := newTestSQLiteStore(t)
	require.NoError(t, store.Put(Mapping{LocalPort: 9000, RemoteHost: "a", RemotePort: 1}))
	require.NoError(t, store.Put(Mapping{LocalPort: 9100, RemoteHost: "b", RemotePort: 2}))

	require.NoError(t, store.SaveProject("web", []int{9000}))
	require.NoError(t, store.SaveProject("web", []int{9000, 9100}))
	assert.Error(t, store.SaveProject("bad", []int{1234}))

	projects := store.GetProjects()
	require.Len(t, projects, 1)
	assert.Equal(t, Project{Name: "web", Forwards: []int{9000, 9100}}, projects[0])

	require.NoError(t, store.SetActiveProject("web"))
	assert.Len(t, store.GetActiveProjectForwards(), 2)

	require.NoError(t, store.Delete(9100))
	assert.Equal(t, []int{9000}, store.GetProjects()[0].Forwards)

	require.NoError(t, store.DeleteProject("web"))
	assert.Nil(t, store.GetActiveProject())
	assert.Error(t, store.DeleteProject("web"))
}

func TestSQLiteStoreReload(t *testing.T) {
	store := newTestSQLiteStore(t)
	require.NoError(t, store.Put(Mapping{LocalPort: 9000, RemoteHost: "a", RemotePort: 1}))
	require.NoError(t, store.Reload())
	assert.Empty(t, store.GetPrevious())

	require.NoError(t, store.Put(Mapping{LocalPort: 9100, RemoteHost: "b", RemotePort: 2}))
	require.NoError(t, store.Reload())
	assert.Len(t, store.GetPrevious(), 1)
	assert.Len(t, store.GetAll(), 2)
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prtrelay.db")
	store, err := NewSQLiteConfigStoreAt(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(Mapping{LocalPort: 9000, RemoteHost: "a", RemotePort: 1}))
	require.NoError(t, store.Close())

	reopened, err := NewConfigStore("", path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Len())
}
