package bls

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/corestario/kyber"
	"github.com/corestario/kyber/sign/bls"

	"github.com/depools/mms/client/types"
	"github.com/depools/mms/wallet"
)

// keySetPayload travels inside a BlobKeySet. Round 0 announces the
// signer key, later rounds confirm the joint key everybody computed.
type keySetPayload struct {
	Round       uint32 `json:"round"`
	PubKey      []byte `json:"pub_key"`
	Address     string `json:"address"`
	JointDigest []byte `json:"joint_digest,omitempty"`
}

// PrepareMultisig emits this signer's round-0 key set. Idempotent: the
// first call moves the wallet to KeysPrepared, repeat calls return the
// cached blob.
func (e *Engine) PrepareMultisig() ([]byte, error) {
	e.Lock()
	defer e.Unlock()

	if len(e.state.LocalKeySet) > 0 {
		blob := make([]byte, len(e.state.LocalKeySet))
		copy(blob, e.state.LocalKeySet)
		return blob, nil
	}

	next, err := e.state.Phase.Advance(wallet.PhaseKeysPrepared)
	if err != nil {
		return nil, err
	}

	pubBytes, err := e.ownPubBytes()
	if err != nil {
		return nil, err
	}
	address, err := addressOf(e.pubKey)
	if err != nil {
		return nil, err
	}

	payloadBz, err := json.Marshal(&keySetPayload{
		PubKey:  pubBytes,
		Address: address,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key set: %w", err)
	}

	blob := wallet.SealBlob(wallet.BlobKeySet, payloadBz)
	e.state.LocalKeySet = blob
	e.state.Phase = next
	if err := e.saveState(); err != nil {
		return nil, err
	}

	return blob, nil
}

// MakeMultisig aggregates the co-signer keys into the joint wallet key.
// Replaying it with the same inputs returns the same result; different
// inputs after the fact are rejected.
func (e *Engine) MakeMultisig(threshold uint32, keySets [][]byte) (*wallet.ExchangeResult, error) {
	e.Lock()
	defer e.Unlock()

	digest := makeDigest(threshold, keySets)

	if e.state.Phase != wallet.PhaseKeysPrepared {
		if len(e.state.MakeDigest) > 0 && bytes.Equal(e.state.MakeDigest, digest) {
			return e.exchangeResultLocked()
		}
		return nil, fmt.Errorf("wallet is %s: %w", e.state.Phase, types.ErrInvalidTransition)
	}

	ownPub, err := e.ownPubBytes()
	if err != nil {
		return nil, err
	}

	points := []kyber.Point{e.pubKey}
	pubKeys := [][]byte{ownPub}
	seen := map[string]struct{}{string(ownPub): {}}
	for _, blob := range keySets {
		payload, err := e.parseKeySet(blob, 0)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[string(payload.PubKey)]; ok {
			continue
		}
		seen[string(payload.PubKey)] = struct{}{}

		point := e.suite.G2().Point()
		if err := point.UnmarshalBinary(payload.PubKey); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signer key: %w", err)
		}
		points = append(points, point)
		pubKeys = append(pubKeys, payload.PubKey)
	}
	if uint32(len(points)) < threshold {
		return nil, fmt.Errorf("got %d signer keys for threshold %d: %w",
			len(points), threshold, types.ErrInsufficientSignatures)
	}

	joint := bls.AggregatePublicKeys(e.suite, points...)
	jointBytes, err := joint.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal joint key: %w", err)
	}
	jointDigest := sha256.Sum256(jointBytes)
	address, err := addressOf(joint)
	if err != nil {
		return nil, err
	}

	e.state.Threshold = threshold
	e.state.Signers = uint32(len(points))
	e.state.SignerPubKeys = pubKeys
	e.state.JointDigest = jointDigest[:]
	e.state.Address = address
	e.state.MakeDigest = digest

	if e.extraRounds == 0 {
		next, err := e.state.Phase.Advance(wallet.PhaseFinalized)
		if err != nil {
			return nil, err
		}
		e.state.Phase = next
		e.state.Round = 0
	} else {
		next, err := e.state.Phase.Advance(wallet.PhaseExchangingKeys)
		if err != nil {
			return nil, err
		}
		e.state.Phase = next
		e.state.Round = 1
	}

	if err := e.saveState(); err != nil {
		return nil, err
	}

	return e.exchangeResultLocked()
}

// ExchangeMultisigKeys runs one confirmation round: every co-signer has
// to present the same joint key digest before the wallet finalizes.
func (e *Engine) ExchangeMultisigKeys(keySets [][]byte) (*wallet.ExchangeResult, error) {
	e.Lock()
	defer e.Unlock()

	if e.state.Phase == wallet.PhaseFinalized {
		return e.exchangeResultLocked()
	}
	if e.state.Phase != wallet.PhaseExchangingKeys {
		return nil, fmt.Errorf("wallet is %s: %w", e.state.Phase, types.ErrInvalidTransition)
	}
	if len(keySets) == 0 {
		return nil, fmt.Errorf("no key sets given: %w", types.ErrInsufficientSignatures)
	}

	for _, blob := range keySets {
		payload, err := e.parseKeySet(blob, e.state.Round)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(payload.JointDigest, e.state.JointDigest) {
			return nil, fmt.Errorf("co-signer computed a different joint key (round %d)", e.state.Round)
		}
	}

	if e.state.Round >= e.extraRounds {
		next, err := e.state.Phase.Advance(wallet.PhaseFinalized)
		if err != nil {
			return nil, err
		}
		e.state.Phase = next
	} else {
		e.state.Round++
	}

	if err := e.saveState(); err != nil {
		return nil, err
	}

	return e.exchangeResultLocked()
}

// exchangeResultLocked renders the current key-exchange position as a
// result. Callers hold the lock.
func (e *Engine) exchangeResultLocked() (*wallet.ExchangeResult, error) {
	result := &wallet.ExchangeResult{
		Finalized: e.state.Phase == wallet.PhaseFinalized,
		Address:   e.state.Address,
	}
	if result.Finalized {
		return result, nil
	}

	pubBytes, err := e.ownPubBytes()
	if err != nil {
		return nil, err
	}
	payloadBz, err := json.Marshal(&keySetPayload{
		Round:       e.state.Round,
		PubKey:      pubBytes,
		Address:     e.state.Address,
		JointDigest: e.state.JointDigest,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key set: %w", err)
	}
	result.NextKeySet = wallet.SealBlob(wallet.BlobKeySet, payloadBz)

	return result, nil
}

func (e *Engine) parseKeySet(blob []byte, wantRound uint32) (*keySetPayload, error) {
	payloadBz, err := wallet.OpenBlob(wallet.BlobKeySet, blob)
	if err != nil {
		return nil, err
	}

	var payload keySetPayload
	if err := json.Unmarshal(payloadBz, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key set: %w", err)
	}
	if payload.Round != wantRound {
		return nil, fmt.Errorf("key set is for round %d, want %d: %w",
			payload.Round, wantRound, types.ErrInvalidTransition)
	}
	if len(payload.PubKey) == 0 {
		return nil, fmt.Errorf("key set carries no public key")
	}

	return &payload, nil
}

// makeDigest fingerprints a MakeMultisig invocation so replays can be
// told apart from conflicting calls. Input order does not matter.
func makeDigest(threshold uint32, keySets [][]byte) []byte {
	hashes := make([]string, 0, len(keySets))
	for _, blob := range keySets {
		sum := sha256.Sum256(blob)
		hashes = append(hashes, string(sum[:]))
	}
	sort.Strings(hashes)

	h := sha256.New()
	fmt.Fprintf(h, "make-multisig %d", threshold)
	for _, sum := range hashes {
		h.Write([]byte(sum))
	}

	return h.Sum(nil)
}
