// Package bls is the built-in wallet engine: a BLS12-381 M-of-N scheme
// that is honest about being a reference. It gives the coordinator, the
// tests and the demo a real engine to talk to; production deployments
// put their own wallet software behind the same interface.
package bls

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/btcsuite/btcutil/base58"
	"github.com/corestario/kyber"
	"github.com/corestario/kyber/pairing"
	bls12381 "github.com/corestario/kyber/pairing/bls12381"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"

	"github.com/depools/mms/wallet"
)

const (
	baseSeedKey    = "base_seed_key"
	engineStateKey = "wallet_state"
	mnemonicSalt   = "mnemonic"
	seedSize       = 32

	addressVersion = 0x12
)

// engineState is the single persisted document. Signer public keys are
// kept in attribution order: the local key first, then the co-signers
// in the order their key sets were handed to MakeMultisig.
type engineState struct {
	Phase         wallet.Phase      `json:"phase"`
	Round         uint32            `json:"round"`
	Threshold     uint32            `json:"threshold"`
	Signers       uint32            `json:"signers"`
	Address       string            `json:"address,omitempty"`
	Height        uint64            `json:"height"`
	SyncRound     uint32            `json:"sync_round"`
	LocalKeySet   []byte            `json:"local_key_set,omitempty"`
	MakeDigest    []byte            `json:"make_digest,omitempty"`
	SignerPubKeys [][]byte          `json:"signer_pub_keys,omitempty"`
	JointDigest   []byte            `json:"joint_digest,omitempty"`
	KeyImages     map[string]uint32 `json:"key_images,omitempty"`
	SubmittedTxs  map[string]uint64 `json:"submitted_txs,omitempty"`
}

type Engine struct {
	sync.Mutex

	db          *leveldb.DB
	suite       pairing.Suite
	secKey      kyber.Scalar
	pubKey      kyber.Point
	extraRounds uint32
	state       *engineState
}

type Option func(*Engine)

// WithExtraRounds adds confirmation rounds after MakeMultisig, so the
// AdditionalKeySet flow gets exercised. Zero finalizes immediately.
func WithExtraRounds(n uint32) Option {
	return func(e *Engine) {
		e.extraRounds = n
	}
}

// NewEngine opens (or creates) the engine database. An empty mnemonic
// generates a fresh one and prints it; the same mnemonic always derives
// the same signer key.
func NewEngine(dbPath, mnemonic string, opts ...Option) (*Engine, error) {
	var err error

	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}

	if e.db, err = leveldb.OpenFile(dbPath, nil); err != nil {
		return nil, fmt.Errorf("failed to open db file %s for engine: %w", dbPath, err)
	}

	seed, err := e.loadBaseSeed(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to loadBaseSeed: %w", err)
	}

	// NewBLS12381Suite returns the suite as vss.Suite; the concrete type
	// also implements pairing.Suite, which the bls sign calls need.
	e.suite = bls12381.NewBLS12381Suite(seed).(pairing.Suite)
	e.secKey = e.suite.G2().Scalar().Pick(e.suite.RandomStream())
	e.pubKey = e.suite.G2().Point().Mul(e.secKey, nil)

	if err := e.loadState(); err != nil {
		return nil, fmt.Errorf("failed to load engine state: %w", err)
	}

	return e, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) loadBaseSeed(mnemonic string) ([]byte, error) {
	seed, err := e.db.Get([]byte(baseSeedKey), nil)
	if err == nil {
		return seed, nil
	}
	if !errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("failed to get baseSeed: %w", err)
	}

	if mnemonic == "" {
		log.Println("Base seed not initialized, making a new one...")
		entropy, err := bip39.NewEntropy(256)
		if err != nil {
			return nil, fmt.Errorf("failed to generate bip39 entropy: %w", err)
		}
		mnemonic, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, fmt.Errorf("failed to generate new mnemonic from entropy: %w", err)
		}
		log.Println("Write down your mnemonic: ", mnemonic)
	} else if _, err := bip39.EntropyFromMnemonic(mnemonic); err != nil {
		return nil, fmt.Errorf("failed to validate mnemonic: %w", err)
	}

	seed = pbkdf2.Key([]byte(mnemonic), []byte(mnemonicSalt), 2048, seedSize, sha512.New)
	if err := e.db.Put([]byte(baseSeedKey), seed, nil); err != nil {
		return nil, fmt.Errorf("failed to put baseSeed: %w", err)
	}

	return seed, nil
}

func (e *Engine) loadState() error {
	bz, err := e.db.Get([]byte(engineStateKey), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		e.state = &engineState{
			Phase:        wallet.PhaseNotMultisig,
			KeyImages:    map[string]uint32{},
			SubmittedTxs: map[string]uint64{},
		}
		return e.saveState()
	}
	if err != nil {
		return err
	}

	var state engineState
	if err := json.Unmarshal(bz, &state); err != nil {
		return err
	}
	if state.KeyImages == nil {
		state.KeyImages = map[string]uint32{}
	}
	if state.SubmittedTxs == nil {
		state.SubmittedTxs = map[string]uint64{}
	}
	e.state = &state

	return nil
}

func (e *Engine) saveState() error {
	bz, err := json.Marshal(e.state)
	if err != nil {
		return fmt.Errorf("failed to marshal engine state: %w", err)
	}
	if err := e.db.Put([]byte(engineStateKey), bz, nil); err != nil {
		return fmt.Errorf("failed to put engine state: %w", err)
	}

	return nil
}

func (e *Engine) Status() (*wallet.Status, error) {
	e.Lock()
	defer e.Unlock()

	return &wallet.Status{
		Phase:     e.state.Phase,
		Round:     e.state.Round,
		Threshold: e.state.Threshold,
		Signers:   e.state.Signers,
		Address:   e.state.Address,
		Height:    e.state.Height,
		SyncRound: e.state.SyncRound,
	}, nil
}

// Refresh is a no-op here: the simulated height only moves when a tx is
// submitted. A real engine would scan the chain.
func (e *Engine) Refresh() error {
	return nil
}

func (e *Engine) ownPubBytes() ([]byte, error) {
	bz, err := e.pubKey.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	return bz, nil
}

// addressOf renders a point as a shareable address: base58check over a
// truncated hash of its serialization.
func addressOf(point kyber.Point) (string, error) {
	bz, err := point.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal point: %w", err)
	}
	sum := sha256.Sum256(bz)

	return base58.CheckEncode(sum[:20], addressVersion), nil
}

func keyImageOf(txID string) string {
	sum := sha256.Sum256([]byte("key-image" + txID))
	return hex.EncodeToString(sum[:])
}
