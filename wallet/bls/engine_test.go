package bls

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/depools/mms/client/types"
	"github.com/depools/mms/wallet"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestEngine(t *testing.T, mnemonic string, opts ...Option) *Engine {
	t.Helper()

	e, err := NewEngine(filepath.Join(t.TempDir(), "wallet"), mnemonic, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return e
}

// finalizeEngines runs the full key exchange for engines without extra
// rounds: every engine prepares its key set and aggregates the others'.
func finalizeEngines(t *testing.T, threshold uint32, engines ...*Engine) {
	t.Helper()
	req := require.New(t)

	keySets := make([][]byte, len(engines))
	for i, e := range engines {
		blob, err := e.PrepareMultisig()
		req.NoError(err)
		keySets[i] = blob
	}

	for i, e := range engines {
		others := make([][]byte, 0, len(engines)-1)
		for j, blob := range keySets {
			if j != i {
				others = append(others, blob)
			}
		}
		result, err := e.MakeMultisig(threshold, others)
		req.NoError(err)
		req.True(result.Finalized)
		req.NotEmpty(result.Address)
	}
}

func TestEngine_DeterministicKey(t *testing.T) {
	req := require.New(t)

	a := newTestEngine(t, testMnemonic)
	b := newTestEngine(t, testMnemonic)

	blobA, err := a.PrepareMultisig()
	req.NoError(err)
	blobB, err := b.PrepareMultisig()
	req.NoError(err)

	// The same mnemonic always derives the same signer key.
	req.Equal(blobA, blobB)

	c := newTestEngine(t, "")
	blobC, err := c.PrepareMultisig()
	req.NoError(err)
	req.NotEqual(blobA, blobC)
}

func TestEngine_PrepareMultisigIdempotent(t *testing.T) {
	req := require.New(t)

	e := newTestEngine(t, "")

	first, err := e.PrepareMultisig()
	req.NoError(err)

	status, err := e.Status()
	req.NoError(err)
	req.Equal(wallet.PhaseKeysPrepared, status.Phase)

	second, err := e.PrepareMultisig()
	req.NoError(err)
	req.Equal(first, second)
}

func TestEngine_MakeMultisig(t *testing.T) {
	req := require.New(t)

	engines := []*Engine{newTestEngine(t, ""), newTestEngine(t, ""), newTestEngine(t, "")}
	finalizeEngines(t, 2, engines...)

	var address string
	for _, e := range engines {
		status, err := e.Status()
		req.NoError(err)
		req.Equal(wallet.PhaseFinalized, status.Phase)
		req.Equal(uint32(2), status.Threshold)
		req.Equal(uint32(3), status.Signers)
		req.NotEmpty(status.Address)
		if address == "" {
			address = status.Address
		}
		req.Equal(address, status.Address)
	}
}

func TestEngine_MakeMultisigReplay(t *testing.T) {
	req := require.New(t)

	a := newTestEngine(t, "")
	b := newTestEngine(t, "")
	finalizeEngines(t, 2, a, b)

	blobB, err := b.PrepareMultisig()
	req.NoError(err)

	// Same inputs: same result, no state change.
	result, err := a.MakeMultisig(2, [][]byte{blobB})
	req.NoError(err)
	req.True(result.Finalized)

	// Conflicting inputs after the fact are rejected.
	c := newTestEngine(t, "")
	blobC, err := c.PrepareMultisig()
	req.NoError(err)
	_, err = a.MakeMultisig(2, [][]byte{blobC})
	req.Error(err)
	req.True(errors.Is(err, types.ErrInvalidTransition))
}

func TestEngine_MakeMultisigBelowThreshold(t *testing.T) {
	req := require.New(t)

	a := newTestEngine(t, "")
	b := newTestEngine(t, "")

	_, err := a.PrepareMultisig()
	req.NoError(err)
	blobB, err := b.PrepareMultisig()
	req.NoError(err)

	_, err = a.MakeMultisig(3, [][]byte{blobB})
	req.Error(err)
	req.True(errors.Is(err, types.ErrInsufficientSignatures))
}

func TestEngine_ExtraRounds(t *testing.T) {
	req := require.New(t)

	a := newTestEngine(t, "", WithExtraRounds(1))
	b := newTestEngine(t, "", WithExtraRounds(1))

	blobA, err := a.PrepareMultisig()
	req.NoError(err)
	blobB, err := b.PrepareMultisig()
	req.NoError(err)

	resultA, err := a.MakeMultisig(2, [][]byte{blobB})
	req.NoError(err)
	req.False(resultA.Finalized)
	req.NotEmpty(resultA.NextKeySet)

	resultB, err := b.MakeMultisig(2, [][]byte{blobA})
	req.NoError(err)
	req.False(resultB.Finalized)

	status, err := a.Status()
	req.NoError(err)
	req.Equal(wallet.PhaseExchangingKeys, status.Phase)
	req.Equal(uint32(1), status.Round)

	// Round-0 key sets are not valid confirmation material.
	_, err = a.ExchangeMultisigKeys([][]byte{blobB})
	req.Error(err)
	req.True(errors.Is(err, types.ErrInvalidTransition))

	finalA, err := a.ExchangeMultisigKeys([][]byte{resultB.NextKeySet})
	req.NoError(err)
	req.True(finalA.Finalized)
	req.NotEmpty(finalA.Address)

	finalB, err := b.ExchangeMultisigKeys([][]byte{resultA.NextKeySet})
	req.NoError(err)
	req.True(finalB.Finalized)
	req.Equal(finalA.Address, finalB.Address)
}

func TestEngine_ExchangeRejectsForeignJointKey(t *testing.T) {
	req := require.New(t)

	a := newTestEngine(t, "", WithExtraRounds(1))
	b := newTestEngine(t, "", WithExtraRounds(1))

	blobA, err := a.PrepareMultisig()
	req.NoError(err)
	blobB, err := b.PrepareMultisig()
	req.NoError(err)

	_, err = a.MakeMultisig(2, [][]byte{blobB})
	req.NoError(err)
	resultB, err := b.MakeMultisig(2, [][]byte{blobA})
	req.NoError(err)

	// Tamper with the co-signer's joint digest: the confirmation round
	// must notice the disagreement.
	payloadBz, err := wallet.OpenBlob(wallet.BlobKeySet, resultB.NextKeySet)
	req.NoError(err)
	var payload keySetPayload
	req.NoError(json.Unmarshal(payloadBz, &payload))
	payload.JointDigest[0] ^= 0xff
	forgedBz, err := json.Marshal(&payload)
	req.NoError(err)

	_, err = a.ExchangeMultisigKeys([][]byte{wallet.SealBlob(wallet.BlobKeySet, forgedBz)})
	req.Error(err)
	req.Contains(err.Error(), "different joint key")
}

func TestEngine_TransferFlow(t *testing.T) {
	req := require.New(t)

	a := newTestEngine(t, "")
	b := newTestEngine(t, "")
	c := newTestEngine(t, "")
	finalizeEngines(t, 2, a, b, c)

	tx, err := a.CreateTransfer("destination_address", 1000)
	req.NoError(err)

	state, err := a.DescribeTx(tx)
	req.NoError(err)
	req.Len(state.TxIDs, 1)
	req.Empty(state.SignedBy)
	req.False(state.Complete)

	signedA, err := a.SignTx(tx)
	req.NoError(err)
	req.False(signedA.Complete)
	req.Equal(state.TxIDs, signedA.TxIDs)

	state, err = a.DescribeTx(signedA.SignedTx)
	req.NoError(err)
	req.Equal([]uint32{0}, state.SignedBy)
	req.True(state.Signed(0))
	req.False(state.Signed(1))

	signedB, err := b.SignTx(signedA.SignedTx)
	req.NoError(err)
	req.True(signedB.Complete)

	state, err = b.DescribeTx(signedB.SignedTx)
	req.NoError(err)
	req.Len(state.SignedBy, 2)
	req.True(state.Complete)

	// The aggregate check passes only with threshold signatures present.
	_, err = b.SubmitTx(tx)
	req.Error(err)
	req.True(errors.Is(err, types.ErrInsufficientSignatures))

	txID, err := b.SubmitTx(signedB.SignedTx)
	req.NoError(err)
	req.Equal(state.TxIDs[0], txID)

	status, err := b.Status()
	req.NoError(err)
	req.Equal(uint64(1), status.Height)
	req.Equal(uint32(1), status.SyncRound)

	// Submitting the same tx again is a no-op.
	again, err := b.SubmitTx(signedB.SignedTx)
	req.NoError(err)
	req.Equal(txID, again)

	status, err = b.Status()
	req.NoError(err)
	req.Equal(uint64(1), status.Height)
}

func TestEngine_SignTxRejectsTampering(t *testing.T) {
	req := require.New(t)

	a := newTestEngine(t, "")
	b := newTestEngine(t, "")
	finalizeEngines(t, 2, a, b)

	tx, err := a.CreateTransfer("destination_address", 1000)
	req.NoError(err)
	signedA, err := a.SignTx(tx)
	req.NoError(err)

	payloadBz, err := wallet.OpenBlob(wallet.BlobTx, signedA.SignedTx)
	req.NoError(err)
	var payload txPayload
	req.NoError(json.Unmarshal(payloadBz, &payload))
	payload.Amount = 1000000
	forgedBz, err := json.Marshal(&payload)
	req.NoError(err)

	_, err = b.SignTx(wallet.SealBlob(wallet.BlobTx, forgedBz))
	req.Error(err)
	req.Contains(err.Error(), "bad signature")
}

func TestEngine_CreateTransferGates(t *testing.T) {
	req := require.New(t)

	e := newTestEngine(t, "")

	_, err := e.CreateTransfer("destination_address", 1)
	req.Error(err)
	req.True(errors.Is(err, types.ErrInvalidTransition))

	other := newTestEngine(t, "")
	finalizeEngines(t, 2, e, other)

	_, err = e.CreateTransfer("", 1)
	req.Error(err)
	_, err = e.CreateTransfer("destination_address", 0)
	req.Error(err)
}

func TestEngine_SyncData(t *testing.T) {
	req := require.New(t)

	a := newTestEngine(t, "")
	b := newTestEngine(t, "")
	finalizeEngines(t, 2, a, b)

	tx, err := a.CreateTransfer("destination_address", 5)
	req.NoError(err)
	signedA, err := a.SignTx(tx)
	req.NoError(err)
	signedB, err := b.SignTx(signedA.SignedTx)
	req.NoError(err)
	req.True(signedB.Complete)
	_, err = b.SubmitTx(signedB.SignedTx)
	req.NoError(err)

	blob, err := b.ExportSyncData()
	req.NoError(err)

	imported, err := a.ImportSyncData([][]byte{blob})
	req.NoError(err)
	req.Equal(uint32(1), imported)

	status, err := a.Status()
	req.NoError(err)
	req.Equal(uint64(1), status.Height)

	// Importing the same data again brings nothing new.
	imported, err = a.ImportSyncData([][]byte{blob})
	req.NoError(err)
	req.Equal(uint32(0), imported)

	// A's export still carries sync round 0, which B is already past.
	staleBlob, err := a.ExportSyncData()
	req.NoError(err)
	_, err = b.ImportSyncData([][]byte{staleBlob})
	req.Error(err)
	req.True(errors.Is(err, types.ErrStaleSyncData))
}

func TestEngine_SyncDataGates(t *testing.T) {
	req := require.New(t)

	e := newTestEngine(t, "")

	_, err := e.ExportSyncData()
	req.Error(err)
	req.True(errors.Is(err, types.ErrInvalidTransition))

	_, err = e.ImportSyncData(nil)
	req.Error(err)
	req.True(errors.Is(err, types.ErrInvalidTransition))
}

func TestEngine_Persistence(t *testing.T) {
	req := require.New(t)

	dbPath := filepath.Join(t.TempDir(), "wallet")

	e, err := NewEngine(dbPath, testMnemonic)
	req.NoError(err)
	first, err := e.PrepareMultisig()
	req.NoError(err)
	req.NoError(e.Close())

	reopened, err := NewEngine(dbPath, testMnemonic)
	req.NoError(err)
	defer reopened.Close()

	status, err := reopened.Status()
	req.NoError(err)
	req.Equal(wallet.PhaseKeysPrepared, status.Phase)

	second, err := reopened.PrepareMultisig()
	req.NoError(err)
	req.Equal(first, second)
}
