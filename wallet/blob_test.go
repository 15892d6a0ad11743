package wallet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlob_SealOpen(t *testing.T) {
	req := require.New(t)

	payload := []byte("engine payload bytes")
	blob := SealBlob(BlobKeySet, payload)

	kind, err := ProbeBlob(blob)
	req.NoError(err)
	req.Equal(BlobKeySet, kind)

	opened, err := OpenBlob(BlobKeySet, blob)
	req.NoError(err)
	req.Equal(payload, opened)

	_, err = OpenBlob(BlobTx, blob)
	req.Error(err)
	req.Contains(err.Error(), "blob kind")
}

func TestBlob_EmptyPayload(t *testing.T) {
	req := require.New(t)

	blob := SealBlob(BlobSyncData, nil)
	opened, err := OpenBlob(BlobSyncData, blob)
	req.NoError(err)
	req.Len(opened, 0)
}

func TestBlob_Malformed(t *testing.T) {
	req := require.New(t)

	_, err := ProbeBlob([]byte("short"))
	req.Error(err)

	blob := SealBlob(BlobTx, []byte("payload"))

	badMagic := append([]byte{}, blob...)
	badMagic[0] = 'X'
	_, err = ProbeBlob(badMagic)
	req.Error(err)
	req.Contains(err.Error(), "magic")

	badVersion := append([]byte{}, blob...)
	badVersion[4] = BlobVersion + 1
	_, err = ProbeBlob(badVersion)
	req.Error(err)
	req.Contains(err.Error(), "version")

	truncated := blob[:len(blob)-2]
	_, err = ProbeBlob(truncated)
	req.Error(err)
	req.Contains(err.Error(), "length mismatch")
}
