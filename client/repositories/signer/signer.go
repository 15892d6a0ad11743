package signer

import (
	"encoding/json"
	"fmt"

	"github.com/depools/mms/client/modules/state"
	"github.com/depools/mms/client/types"
)

const (
	RegistryKey = "signer_registry"
)

// AddressLock captures, at call time, the conditions under which a
// signer's public address may no longer change: coordination messages
// already reference it, or the wallet already left the NotMultisig
// phase. The service layer fills it in before every registry mutation.
type AddressLock struct {
	MessagesExist bool
	Multisig      bool
}

func (l AddressLock) Locked() bool {
	return l.MessagesExist || l.Multisig
}

// Patch is a partial signer update; nil fields stay untouched.
type Patch struct {
	Label            *string
	TransportAddress *string
	PublicAddress    *string
}

type SignerRepo interface {
	InitRegistry(threshold, numSigners uint32, me types.Signer) (*types.Registry, error)
	GetRegistry() (*types.Registry, error)
	GetSigner(index uint32) (*types.Signer, error)
	GetAllSigners() ([]types.Signer, error)
	SetSigner(lock AddressLock, index uint32, patch Patch) (*types.Signer, error)
	ReplaceRegistry(lock AddressLock, registry *types.Registry) error
	SignerLabelsComplete() (bool, error)
	SignerConfigComplete() (bool, error)
	SetAutoConfigTokens(tokens map[uint32]string) error
	CompleteAutoConfigSlot(index uint32, transportAddress, publicAddress string) error
	ClearAutoConfig() error
}

type BaseSignerRepo struct {
	state                state.State
	registryCompositeKey string
}

func NewSignerRepo(s state.State, topic string) *BaseSignerRepo {
	return &BaseSignerRepo{
		state:                s,
		registryCompositeKey: state.MakeCompositeKeyString(topic, RegistryKey),
	}
}

// InitRegistry creates a fresh M-of-N registry with the local signer in
// slot 0 and empty peer slots. Re-initializing an existing registry is
// rejected; delete the wallet state to start over.
func (r *BaseSignerRepo) InitRegistry(threshold, numSigners uint32, me types.Signer) (*types.Registry, error) {
	if existing, err := r.GetRegistry(); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("registry already initialized (%d-of-%d): %w",
			existing.Threshold, existing.NumSigners, types.ErrInvalidTransition)
	}

	registry := &types.Registry{
		Threshold:  threshold,
		NumSigners: numSigners,
	}
	if numSigners >= types.MinSigners && numSigners <= types.MaxSigners {
		registry.Signers = make([]types.Signer, numSigners)
		for i := range registry.Signers {
			registry.Signers[i].Index = uint32(i)
		}
		me.Index = 0
		me.AddressKnown = me.PublicAddress != ""
		registry.Signers[0] = me
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}

	if err := r.saveRegistry(registry); err != nil {
		return nil, err
	}

	return registry, nil
}

// GetRegistry returns the stored registry, or nil if the wallet was
// never initialized.
func (r *BaseSignerRepo) GetRegistry() (*types.Registry, error) {
	bz, err := r.state.Get(r.registryCompositeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get registry (key: %s): %w", r.registryCompositeKey, err)
	}
	if bz == nil {
		return nil, nil
	}

	var registry types.Registry
	if err := json.Unmarshal(bz, &registry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry: %w", err)
	}

	return &registry, nil
}

func (r *BaseSignerRepo) GetSigner(index uint32) (*types.Signer, error) {
	registry, err := r.requireRegistry()
	if err != nil {
		return nil, err
	}

	if index >= uint32(len(registry.Signers)) {
		return nil, fmt.Errorf("signer %d: %w", index, types.ErrNotFound)
	}

	s := registry.Signers[index]
	return &s, nil
}

func (r *BaseSignerRepo) GetAllSigners() ([]types.Signer, error) {
	registry, err := r.requireRegistry()
	if err != nil {
		return nil, err
	}

	return registry.Signers, nil
}

// SetSigner applies a partial update to one slot. A public address
// change on a locked registry fails with ErrAddressLocked and leaves
// the registry untouched.
func (r *BaseSignerRepo) SetSigner(lock AddressLock, index uint32, patch Patch) (*types.Signer, error) {
	registry, err := r.requireRegistry()
	if err != nil {
		return nil, err
	}

	if index >= uint32(len(registry.Signers)) {
		return nil, fmt.Errorf("signer %d: %w", index, types.ErrNotFound)
	}

	s := &registry.Signers[index]
	if patch.PublicAddress != nil && *patch.PublicAddress != s.PublicAddress {
		if lock.Locked() {
			return nil, fmt.Errorf("signer %d: %w", index, types.ErrAddressLocked)
		}
		s.PublicAddress = *patch.PublicAddress
		s.AddressKnown = *patch.PublicAddress != ""
	}
	if patch.Label != nil {
		s.Label = *patch.Label
	}
	if patch.TransportAddress != nil {
		s.TransportAddress = *patch.TransportAddress
	}

	if err := r.saveRegistry(registry); err != nil {
		return nil, err
	}

	return s, nil
}

// ReplaceRegistry swaps in a converged registry, e.g. one received via
// a SignerConfig broadcast. Known public addresses must survive the
// swap unchanged when the registry is locked.
func (r *BaseSignerRepo) ReplaceRegistry(lock AddressLock, registry *types.Registry) error {
	if err := registry.Validate(); err != nil {
		return err
	}

	existing, err := r.GetRegistry()
	if err != nil {
		return err
	}
	if existing != nil && lock.Locked() {
		if existing.Threshold != registry.Threshold || existing.NumSigners != registry.NumSigners {
			return fmt.Errorf("cannot change %d-of-%d to %d-of-%d: %w",
				existing.Threshold, existing.NumSigners,
				registry.Threshold, registry.NumSigners, types.ErrInvalidTransition)
		}
		for i, s := range existing.Signers {
			if s.AddressKnown && registry.Signers[i].PublicAddress != s.PublicAddress {
				return fmt.Errorf("signer %d: %w", i, types.ErrAddressLocked)
			}
		}
	}

	return r.saveRegistry(registry)
}

func (r *BaseSignerRepo) SignerLabelsComplete() (bool, error) {
	registry, err := r.GetRegistry()
	if err != nil {
		return false, err
	}
	if registry == nil {
		return false, nil
	}

	return registry.LabelsComplete(), nil
}

func (r *BaseSignerRepo) SignerConfigComplete() (bool, error) {
	registry, err := r.GetRegistry()
	if err != nil {
		return false, err
	}
	if registry == nil {
		return false, nil
	}

	return registry.ConfigComplete(), nil
}

// SetAutoConfigTokens stores freshly issued tokens on their peer slots
// and marks every slot as running auto-config.
func (r *BaseSignerRepo) SetAutoConfigTokens(tokens map[uint32]string) error {
	registry, err := r.requireRegistry()
	if err != nil {
		return err
	}

	for index, token := range tokens {
		if index >= uint32(len(registry.Signers)) {
			return fmt.Errorf("signer %d: %w", index, types.ErrNotFound)
		}
		registry.Signers[index].AutoConfigToken = token
	}
	for i := range registry.Signers {
		registry.Signers[i].AutoConfigRunning = true
	}

	return r.saveRegistry(registry)
}

// CompleteAutoConfigSlot fills in a peer slot from an authenticated
// auto-config payload. Possession of the matching token authorizes the
// fill, so the operator address lock does not apply here; an already
// known address still cannot change. The token stays on the slot until
// ClearAutoConfig so that replaying the same payload is a no-op.
func (r *BaseSignerRepo) CompleteAutoConfigSlot(index uint32, transportAddress, publicAddress string) error {
	registry, err := r.requireRegistry()
	if err != nil {
		return err
	}

	if index == 0 || index >= uint32(len(registry.Signers)) {
		return fmt.Errorf("signer %d: %w", index, types.ErrNotFound)
	}

	s := &registry.Signers[index]
	if s.AddressKnown && s.PublicAddress != publicAddress {
		return fmt.Errorf("signer %d: %w", index, types.ErrAddressLocked)
	}
	s.TransportAddress = transportAddress
	s.PublicAddress = publicAddress
	s.AddressKnown = publicAddress != ""

	return r.saveRegistry(registry)
}

// ClearAutoConfig drops all tokens and running flags. Idempotent; also
// safe to call when the registry does not exist yet.
func (r *BaseSignerRepo) ClearAutoConfig() error {
	registry, err := r.GetRegistry()
	if err != nil {
		return err
	}
	if registry == nil {
		return nil
	}

	for i := range registry.Signers {
		registry.Signers[i].AutoConfigToken = ""
		registry.Signers[i].AutoConfigRunning = false
	}

	return r.saveRegistry(registry)
}

func (r *BaseSignerRepo) requireRegistry() (*types.Registry, error) {
	registry, err := r.GetRegistry()
	if err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is not initialized: %w", types.ErrNotFound)
	}

	return registry, nil
}

func (r *BaseSignerRepo) saveRegistry(registry *types.Registry) error {
	registryJSON, err := json.Marshal(registry)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := r.state.Set(r.registryCompositeKey, registryJSON); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}

	return nil
}
