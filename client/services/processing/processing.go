package processing

import (
	"fmt"
	"sort"

	"github.com/depools/mms/client/types"
	"github.com/depools/mms/wallet"
)

// Input is everything one decision run may look at, captured by the
// node under its lock before calling in. The engine never talks to the
// store, the registry or the wallet itself.
type Input struct {
	Wallet   wallet.Status
	Registry *types.Registry
	Messages []*types.Message

	// TxStates holds the wallet engine's view of every tx-typed waiting
	// message, keyed by message id. Messages the engine failed to
	// describe are simply absent and get skipped.
	TxStates map[uint32]wallet.TxState

	// SubmittedTxIDs are tx ids already broadcast to the network, by
	// anyone.
	SubmittedTxIDs map[string]struct{}

	// LastSyncHeight is the wallet height at the last sync data export.
	LastSyncHeight uint64

	ForceSync bool

	// KeySetQuorum is the number of distinct-signer key sets required
	// to run a key exchange round. Zero selects the default
	// Threshold-1; deployments that want key material from every
	// co-signer set NumSigners-1.
	KeySetQuorum uint32
}

// ProcessingService decides the next legal coordination steps. It is a
// pure function of its input: no mutation, no I/O, and calling it twice
// with the same input yields the same decision.
type ProcessingService interface {
	NextActions(in *Input) (*types.Decision, error)
}

type BaseProcessingService struct{}

func NewProcessingService() *BaseProcessingService {
	return &BaseProcessingService{}
}

// NextActions returns every action that is legal right now, ordered
// bootstrap > keys > sync > tx. An empty list always carries a
// wait reason instead.
func (s *BaseProcessingService) NextActions(in *Input) (*types.Decision, error) {
	if in == nil {
		return nil, fmt.Errorf("nil processing input")
	}
	if in.Registry == nil {
		return &types.Decision{WaitReason: "wallet is not initialized"}, nil
	}
	if err := in.Registry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}

	var (
		decision types.Decision
		waits    []string
	)

	appendWait := func(reason string) {
		waits = append(waits, reason)
	}

	decision.Actions = append(decision.Actions, s.bootstrapActions(in, appendWait)...)
	decision.Actions = append(decision.Actions, s.keyExchangeActions(in, appendWait)...)
	decision.Actions = append(decision.Actions, s.syncActions(in)...)
	decision.Actions = append(decision.Actions, s.txActions(in)...)

	if len(decision.Actions) == 0 {
		decision.WaitReason = s.waitReason(in, waits)
	}

	return &decision, nil
}

// bootstrapActions covers registry convergence before the wallet turns
// multisig: consuming SignerConfig broadcasts and, on the manager side,
// AutoConfigData replies.
func (s *BaseProcessingService) bootstrapActions(in *Input, appendWait func(string)) []types.Action {
	if in.Wallet.Phase != wallet.PhaseNotMultisig {
		return nil
	}

	var actions []types.Action

	configIDs := waitingInboundIDs(in.Messages, types.MessageTypeSignerConfig, nil)
	if len(configIDs) > 0 {
		actions = append(actions, types.Action{
			Type:       types.ActionProcessSignerConfig,
			MessageIDs: configIDs,
		})
	}

	// One action per AutoConfigData reply: each matches its own token.
	for _, id := range waitingInboundIDs(in.Messages, types.MessageTypeAutoConfigData, nil) {
		actions = append(actions, types.Action{
			Type:       types.ActionProcessAutoConfigData,
			MessageIDs: []uint32{id},
		})
	}

	if len(actions) == 0 && !in.Registry.ConfigComplete() {
		appendWait("waiting for signer info (set signer addresses or run auto-config)")
	}

	return actions
}

// keyExchangeActions covers PrepareMultisig plus the round-counting
// core: once enough distinct signers delivered key sets for the current
// round, propose the exchange call referencing all of them.
func (s *BaseProcessingService) keyExchangeActions(in *Input, appendWait func(string)) []types.Action {
	switch in.Wallet.Phase {
	case wallet.PhaseNotMultisig:
		if !in.Registry.ConfigComplete() {
			return nil
		}
		if hasOutboundKeySet(in.Messages) {
			// Key set already drafted but the engine has not moved on:
			// nothing to propose until peers answer.
			return nil
		}
		return []types.Action{{Type: types.ActionPrepareMultisig}}

	case wallet.PhaseKeysPrepared, wallet.PhaseExchangingKeys:
		round := in.Wallet.Round
		keySetType := types.MessageTypeKeySet
		actionType := types.ActionMakeMultisig
		if in.Wallet.Phase == wallet.PhaseExchangingKeys {
			keySetType = types.MessageTypeAdditionalKeySet
			actionType = types.ActionExchangeMultisigKeys
		}

		ids := waitingInboundIDs(in.Messages, keySetType, &round)
		distinct := distinctSigners(in.Messages, ids)

		quorum := in.KeySetQuorum
		if quorum == 0 {
			quorum = in.Registry.Threshold - 1
		}

		if distinct < quorum {
			appendWait(fmt.Sprintf("waiting for %d more key sets (round %d)", quorum-distinct, round))
			return nil
		}

		return []types.Action{{Type: actionType, MessageIDs: ids}}
	}

	return nil
}

// syncActions proposes key-image sync once the wallet is finalized and
// no transaction is being signed (force overrides the tx gate).
func (s *BaseProcessingService) syncActions(in *Input) []types.Action {
	if in.Wallet.Phase != wallet.PhaseFinalized {
		return nil
	}
	if txInFlight(in.Messages) && !in.ForceSync {
		return nil
	}

	var actions []types.Action

	if ids := waitingInboundIDs(in.Messages, types.MessageTypeMultisigSyncData, nil); len(ids) > 0 {
		actions = append(actions, types.Action{
			Type:       types.ActionProcessSyncData,
			MessageIDs: ids,
		})
	}

	if in.ForceSync || in.Wallet.Height > in.LastSyncHeight {
		actions = append(actions, types.Action{Type: types.ActionCreateSyncData})
	}

	return actions
}

// txActions walks the waiting tx-typed messages and proposes, per
// message, the signing chain step that applies: sign, forward, submit
// or consume a peer's fully signed announcement.
func (s *BaseProcessingService) txActions(in *Input) []types.Action {
	if in.Wallet.Phase != wallet.PhaseFinalized {
		return nil
	}

	var actions []types.Action

	for _, m := range sortedByID(in.Messages) {
		if !m.Type.IsTx() || m.Direction != types.DirectionIn || m.State != types.StateWaiting {
			continue
		}

		state, described := in.TxStates[m.ID]
		if !described {
			// Undecodable blob: reported by the caller, skipped here so
			// one bad message never blocks the rest.
			continue
		}

		if submitted(state.TxIDs, in.SubmittedTxIDs) {
			actions = append(actions, types.Action{
				Type:       types.ActionProcessSignedTx,
				MessageIDs: []uint32{m.ID},
			})
			continue
		}

		if m.Type == types.MessageTypeFullySignedTx && m.SignerIndex != 0 {
			// A peer already broadcast this one; just record its ids.
			actions = append(actions, types.Action{
				Type:       types.ActionProcessSignedTx,
				MessageIDs: []uint32{m.ID},
			})
			continue
		}

		switch {
		case state.Complete || uint32(len(state.SignedBy)) >= in.Registry.Threshold:
			actions = append(actions, types.Action{
				Type:       types.ActionSubmitTx,
				MessageIDs: []uint32{m.ID},
			})
		case !state.Signed(0):
			actions = append(actions, types.Action{
				Type:       types.ActionSignTx,
				MessageIDs: []uint32{m.ID},
			})
		default:
			recipient, ok := nextRecipient(in.Registry, state)
			if !ok {
				continue
			}
			actions = append(actions, types.Action{
				Type:       types.ActionSendTx,
				MessageIDs: []uint32{m.ID},
				Recipient:  recipient,
			})
		}
	}

	return actions
}

func (s *BaseProcessingService) waitReason(in *Input, waits []string) string {
	if len(waits) > 0 {
		return waits[0]
	}

	switch in.Wallet.Phase {
	case wallet.PhaseNotMultisig:
		return "waiting for signer info (set signer addresses or run auto-config)"
	case wallet.PhaseFinalized:
		return "nothing to do (wallet is ready)"
	default:
		return "nothing to do"
	}
}

func waitingInboundIDs(messages []*types.Message, t types.MessageType, round *uint32) []uint32 {
	var ids []uint32
	for _, m := range messages {
		if m.Type != t || m.Direction != types.DirectionIn || m.State != types.StateWaiting {
			continue
		}
		if round != nil && m.Round != *round {
			continue
		}
		ids = append(ids, m.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func distinctSigners(messages []*types.Message, ids []uint32) uint32 {
	idSet := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	signers := make(map[uint32]struct{})
	for _, m := range messages {
		if _, ok := idSet[m.ID]; ok {
			signers[m.SignerIndex] = struct{}{}
		}
	}
	return uint32(len(signers))
}

func hasOutboundKeySet(messages []*types.Message) bool {
	for _, m := range messages {
		if m.Type == types.MessageTypeKeySet && m.Direction == types.DirectionOut {
			return true
		}
	}
	return false
}

func txInFlight(messages []*types.Message) bool {
	for _, m := range messages {
		if !m.Type.IsTx() {
			continue
		}
		if m.State == types.StateWaiting || m.State == types.StateReadyToSend {
			return true
		}
	}
	return false
}

func submitted(txIDs []string, submittedIDs map[string]struct{}) bool {
	for _, txID := range txIDs {
		if _, ok := submittedIDs[txID]; ok {
			return true
		}
	}
	return false
}

// nextRecipient picks the lowest-index signer that has not signed yet,
// never self.
func nextRecipient(registry *types.Registry, state wallet.TxState) (uint32, bool) {
	for index := uint32(1); index < registry.NumSigners; index++ {
		if !state.Signed(index) {
			return index, true
		}
	}
	return 0, false
}

func sortedByID(messages []*types.Message) []*types.Message {
	sorted := make([]*types.Message, len(messages))
	copy(sorted, messages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted
}
