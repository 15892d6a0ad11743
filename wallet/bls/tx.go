package bls

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/corestario/kyber"
	"github.com/corestario/kyber/sign/bls"
	"lukechampine.com/frand"

	"github.com/depools/mms/client/types"
	"github.com/depools/mms/wallet"
)

// txPayload travels inside a BlobTx. Signatures are keyed by the hex
// signer public key so the blob stays valid no matter which co-signer
// added theirs last.
type txPayload struct {
	TxID        string            `json:"tx_id"`
	Destination string            `json:"destination"`
	Amount      uint64            `json:"amount"`
	Height      uint64            `json:"height"`
	Signatures  map[string][]byte `json:"signatures,omitempty"`
}

func (p *txPayload) digest() []byte {
	h := sha256.New()
	h.Write([]byte(p.TxID))
	h.Write([]byte(p.Destination))
	var nums [16]byte
	binary.LittleEndian.PutUint64(nums[:8], p.Amount)
	binary.LittleEndian.PutUint64(nums[8:], p.Height)
	h.Write(nums[:])

	return h.Sum(nil)
}

// syncPayload travels inside a BlobSyncData. The round fences off data
// exported before the last submit.
type syncPayload struct {
	Round     uint32   `json:"round"`
	Height    uint64   `json:"height"`
	KeyImages []string `json:"key_images"`
}

// CreateTransfer drafts an unsigned transfer blob.
func (e *Engine) CreateTransfer(destination string, amount uint64) ([]byte, error) {
	e.Lock()
	defer e.Unlock()

	if e.state.Phase != wallet.PhaseFinalized {
		return nil, fmt.Errorf("wallet is %s: %w", e.state.Phase, types.ErrInvalidTransition)
	}
	if destination == "" {
		return nil, fmt.Errorf("transfer destination is empty")
	}
	if amount == 0 {
		return nil, fmt.Errorf("transfer amount is zero")
	}

	payloadBz, err := json.Marshal(&txPayload{
		TxID:        hex.EncodeToString(frand.Bytes(16)),
		Destination: destination,
		Amount:      amount,
		Height:      e.state.Height,
		Signatures:  map[string][]byte{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer: %w", err)
	}

	return wallet.SealBlob(wallet.BlobTx, payloadBz), nil
}

// SignTx verifies the signatures already on the blob, adds the local one
// and reports whether the threshold is reached.
func (e *Engine) SignTx(tx []byte) (*wallet.SignResult, error) {
	e.Lock()
	defer e.Unlock()

	payload, err := e.parseTxLocked(tx)
	if err != nil {
		return nil, err
	}

	digest := payload.digest()
	for pubHex, sig := range payload.Signatures {
		point, err := e.signerPointLocked(pubHex)
		if err != nil {
			return nil, err
		}
		if err := bls.Verify(e.suite, point, digest, sig); err != nil {
			return nil, fmt.Errorf("tx %s carries a bad signature: %w", payload.TxID, err)
		}
	}

	ownPub, err := e.ownPubBytes()
	if err != nil {
		return nil, err
	}
	sig, err := bls.Sign(e.suite, e.secKey, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tx %s: %w", payload.TxID, err)
	}
	if payload.Signatures == nil {
		payload.Signatures = map[string][]byte{}
	}
	payload.Signatures[hex.EncodeToString(ownPub)] = sig

	payloadBz, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed tx: %w", err)
	}

	return &wallet.SignResult{
		SignedTx: wallet.SealBlob(wallet.BlobTx, payloadBz),
		TxIDs:    []string{payload.TxID},
		Complete: uint32(len(payload.Signatures)) >= e.state.Threshold,
	}, nil
}

// SubmitTx checks the aggregate signature and records the tx. The height
// and the sync round move forward; submitting the same tx twice is a
// no-op that returns the same id.
func (e *Engine) SubmitTx(signedTx []byte) (string, error) {
	e.Lock()
	defer e.Unlock()

	payload, err := e.parseTxLocked(signedTx)
	if err != nil {
		return "", err
	}

	if _, ok := e.state.SubmittedTxs[payload.TxID]; ok {
		return payload.TxID, nil
	}

	signedBy, points, sigs, err := e.signersOfLocked(payload)
	if err != nil {
		return "", err
	}
	if uint32(len(signedBy)) < e.state.Threshold {
		return "", fmt.Errorf("tx %s has %d of %d signatures: %w",
			payload.TxID, len(signedBy), e.state.Threshold, types.ErrInsufficientSignatures)
	}

	aggSig, err := bls.AggregateSignatures(e.suite, sigs...)
	if err != nil {
		return "", fmt.Errorf("failed to aggregate signatures for tx %s: %w", payload.TxID, err)
	}
	aggPub := bls.AggregatePublicKeys(e.suite, points...)
	if err := bls.Verify(e.suite, aggPub, payload.digest(), aggSig); err != nil {
		return "", fmt.Errorf("aggregate signature of tx %s does not verify: %w", payload.TxID, err)
	}

	e.state.Height++
	e.state.SyncRound++
	e.state.SubmittedTxs[payload.TxID] = e.state.Height
	e.state.KeyImages[keyImageOf(payload.TxID)] = e.state.SyncRound
	if err := e.saveState(); err != nil {
		return "", err
	}

	return payload.TxID, nil
}

// DescribeTx reports who signed a blob without touching it.
func (e *Engine) DescribeTx(tx []byte) (*wallet.TxState, error) {
	e.Lock()
	defer e.Unlock()

	payload, err := e.parseTxLocked(tx)
	if err != nil {
		return nil, err
	}

	signedBy, _, _, err := e.signersOfLocked(payload)
	if err != nil {
		return nil, err
	}

	return &wallet.TxState{
		TxIDs:    []string{payload.TxID},
		SignedBy: signedBy,
		Complete: uint32(len(signedBy)) >= e.state.Threshold,
	}, nil
}

// ExportSyncData renders the current key images for the co-signers.
func (e *Engine) ExportSyncData() ([]byte, error) {
	e.Lock()
	defer e.Unlock()

	if e.state.Phase != wallet.PhaseFinalized {
		return nil, fmt.Errorf("wallet is %s: %w", e.state.Phase, types.ErrInvalidTransition)
	}

	keyImages := make([]string, 0, len(e.state.KeyImages))
	for ki := range e.state.KeyImages {
		keyImages = append(keyImages, ki)
	}
	sort.Strings(keyImages)

	payloadBz, err := json.Marshal(&syncPayload{
		Round:     e.state.SyncRound,
		Height:    e.state.Height,
		KeyImages: keyImages,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync data: %w", err)
	}

	return wallet.SealBlob(wallet.BlobSyncData, payloadBz), nil
}

// ImportSyncData merges co-signer key images and returns how many were
// new. Data from before the current sync round is rejected as stale.
func (e *Engine) ImportSyncData(blobs [][]byte) (uint32, error) {
	e.Lock()
	defer e.Unlock()

	if e.state.Phase != wallet.PhaseFinalized {
		return 0, fmt.Errorf("wallet is %s: %w", e.state.Phase, types.ErrInvalidTransition)
	}

	imported := uint32(0)
	stale := 0
	for _, blob := range blobs {
		payloadBz, err := wallet.OpenBlob(wallet.BlobSyncData, blob)
		if err != nil {
			return imported, err
		}
		var payload syncPayload
		if err := json.Unmarshal(payloadBz, &payload); err != nil {
			return imported, fmt.Errorf("failed to unmarshal sync data: %w", err)
		}

		if payload.Round < e.state.SyncRound {
			stale++
			continue
		}
		for _, ki := range payload.KeyImages {
			if _, ok := e.state.KeyImages[ki]; !ok {
				e.state.KeyImages[ki] = payload.Round
				imported++
			}
		}
		if payload.Height > e.state.Height {
			e.state.Height = payload.Height
		}
	}

	if imported > 0 {
		if err := e.saveState(); err != nil {
			return imported, err
		}
	}
	if stale == len(blobs) && stale > 0 {
		return 0, fmt.Errorf("sync data predates round %d: %w", e.state.SyncRound, types.ErrStaleSyncData)
	}

	return imported, nil
}

func (e *Engine) parseTxLocked(tx []byte) (*txPayload, error) {
	if e.state.Phase != wallet.PhaseFinalized {
		return nil, fmt.Errorf("wallet is %s: %w", e.state.Phase, types.ErrInvalidTransition)
	}

	payloadBz, err := wallet.OpenBlob(wallet.BlobTx, tx)
	if err != nil {
		return nil, err
	}

	var payload txPayload
	if err := json.Unmarshal(payloadBz, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tx: %w", err)
	}
	if payload.TxID == "" {
		return nil, fmt.Errorf("tx carries no id")
	}

	return &payload, nil
}

// signersOfLocked resolves the signatures on a tx to signer positions,
// in attribution order: position 0 is this signer, later positions
// follow the MakeMultisig key-set order.
func (e *Engine) signersOfLocked(payload *txPayload) ([]uint32, []kyber.Point, [][]byte, error) {
	signedBy := make([]uint32, 0, len(payload.Signatures))
	points := make([]kyber.Point, 0, len(payload.Signatures))
	sigs := make([][]byte, 0, len(payload.Signatures))

	for i, pub := range e.state.SignerPubKeys {
		sig, ok := payload.Signatures[hex.EncodeToString(pub)]
		if !ok {
			continue
		}
		point := e.suite.G2().Point()
		if err := point.UnmarshalBinary(pub); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to unmarshal signer key %d: %w", i, err)
		}
		signedBy = append(signedBy, uint32(i))
		points = append(points, point)
		sigs = append(sigs, sig)
	}

	return signedBy, points, sigs, nil
}

func (e *Engine) signerPointLocked(pubHex string) (kyber.Point, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("signature key %q is not hex: %w", pubHex, err)
	}

	point := e.suite.G2().Point()
	if err := point.UnmarshalBinary(pub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signature key: %w", err)
	}

	return point, nil
}
