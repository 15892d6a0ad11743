package state_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/depools/mms/client/modules/state"
)

func TestLevelDBState_SaveOffset(t *testing.T) {
	var (
		req    = require.New(t)
		dbPath = filepath.Join(t.TempDir(), "state")
		topic  = "test_topic"
	)

	stg, err := state.NewLevelDBState(dbPath, topic)
	req.NoError(err)
	defer stg.Close()

	offset, err := stg.LoadOffset()
	req.NoError(err)
	req.Equal(uint64(0), offset)

	err = stg.SaveOffset(42)
	req.NoError(err)

	offset, err = stg.LoadOffset()
	req.NoError(err)
	req.Equal(uint64(42), offset)
}

func TestLevelDBState_GetSetDelete(t *testing.T) {
	var (
		req    = require.New(t)
		dbPath = filepath.Join(t.TempDir(), "state")
		key    = state.MakeCompositeKeyString("test_topic", "some_key")
	)

	stg, err := state.NewLevelDBState(dbPath, "test_topic")
	req.NoError(err)
	defer stg.Close()

	value, err := stg.Get(key)
	req.NoError(err)
	req.Nil(value)

	err = stg.Set(key, []byte("some_value"))
	req.NoError(err)

	value, err = stg.Get(key)
	req.NoError(err)
	req.Equal([]byte("some_value"), value)

	err = stg.Delete(key)
	req.NoError(err)

	value, err = stg.Get(key)
	req.NoError(err)
	req.Nil(value)

	// Deleting a missing key is not an error.
	err = stg.Delete(key)
	req.NoError(err)
}

func TestLevelDBState_TopicsAreIsolated(t *testing.T) {
	var (
		req    = require.New(t)
		dbPath = filepath.Join(t.TempDir(), "state")
	)

	stg, err := state.NewLevelDBState(dbPath, "topic_a")
	req.NoError(err)
	defer stg.Close()

	keyA := state.MakeCompositeKeyString("topic_a", "value")
	keyB := state.MakeCompositeKeyString("topic_b", "value")

	req.NoError(stg.Set(keyA, []byte("a")))
	req.NoError(stg.Set(keyB, []byte("b")))

	value, err := stg.Get(keyA)
	req.NoError(err)
	req.Equal([]byte("a"), value)

	value, err = stg.Get(keyB)
	req.NoError(err)
	req.Equal([]byte("b"), value)
}
