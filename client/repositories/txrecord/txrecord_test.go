package txrecord_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/depools/mms/client/modules/state"
	"github.com/depools/mms/client/repositories/txrecord"
)

func newTestRepo(t *testing.T) txrecord.TxRecordRepo {
	t.Helper()

	stg, err := state.NewLevelDBState(filepath.Join(t.TempDir(), "state"), "test_topic")
	require.NoError(t, err)
	t.Cleanup(func() { _ = stg.Close() })

	return txrecord.NewTxRecordRepo(stg, "test_topic")
}

func TestTxRecordRepo_RecordTxIDs(t *testing.T) {
	req := require.New(t)
	repo := newTestRepo(t)

	submitted, err := repo.Submitted("tx-1")
	req.NoError(err)
	req.False(submitted)

	req.NoError(repo.RecordTxIDs([]string{"tx-1", "tx-2", ""}, 1, 10))

	submitted, err = repo.Submitted("tx-1")
	req.NoError(err)
	req.True(submitted)

	records, err := repo.GetAllRecords()
	req.NoError(err)
	req.Len(records, 2)
	for _, record := range records {
		req.Equal(uint32(1), record.SubmittedBy)
		req.Equal(uint32(10), record.MessageID)
		req.False(record.RecordedAt.IsZero())
	}
}

func TestTxRecordRepo_DuplicateKeepsEarlierRecord(t *testing.T) {
	req := require.New(t)
	repo := newTestRepo(t)

	req.NoError(repo.RecordTxIDs([]string{"tx-1"}, 1, 10))
	req.NoError(repo.RecordTxIDs([]string{"tx-1", "tx-2"}, 2, 20))

	records, err := repo.GetAllRecords()
	req.NoError(err)
	req.Len(records, 2)

	byID := make(map[string]txrecord.TxRecord, len(records))
	for _, record := range records {
		byID[record.TxID] = record
	}
	req.Equal(uint32(1), byID["tx-1"].SubmittedBy)
	req.Equal(uint32(10), byID["tx-1"].MessageID)
	req.Equal(uint32(2), byID["tx-2"].SubmittedBy)
}

func TestTxRecordRepo_SubmittedTxIDs(t *testing.T) {
	req := require.New(t)
	repo := newTestRepo(t)

	ids, err := repo.SubmittedTxIDs()
	req.NoError(err)
	req.Empty(ids)

	req.NoError(repo.RecordTxIDs([]string{"tx-1", "tx-2"}, 0, 1))

	ids, err = repo.SubmittedTxIDs()
	req.NoError(err)
	req.Equal(map[string]struct{}{
		"tx-1": {},
		"tx-2": {},
	}, ids)
}
