package processing_test

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/depools/mms/client/services/processing"
	"github.com/depools/mms/client/types"
	"github.com/depools/mms/wallet"
)

func newRegistry(threshold, numSigners uint32) *types.Registry {
	registry := &types.Registry{
		Threshold:  threshold,
		NumSigners: numSigners,
		Signers:    make([]types.Signer, numSigners),
	}
	for i := range registry.Signers {
		registry.Signers[i] = types.Signer{
			Index:            uint32(i),
			Label:            fmt.Sprintf("signer-%d", i),
			TransportAddress: fmt.Sprintf("aa%02d", i),
			PublicAddress:    fmt.Sprintf("addr-%d", i),
			AddressKnown:     true,
		}
	}
	return registry
}

func inbound(id uint32, t types.MessageType, signerIndex uint32) *types.Message {
	return &types.Message{
		ID:          id,
		Type:        t,
		Direction:   types.DirectionIn,
		State:       types.StateWaiting,
		SignerIndex: signerIndex,
	}
}

func TestProcessing_InputGates(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	_, err := svc.NextActions(nil)
	req.Error(err)

	decision, err := svc.NextActions(&processing.Input{})
	req.NoError(err)
	req.True(decision.Idle())
	req.Equal("wallet is not initialized", decision.WaitReason)

	broken := newRegistry(2, 3)
	broken.Signers = broken.Signers[:2]
	_, err = svc.NextActions(&processing.Input{Registry: broken})
	req.Error(err)
	req.Contains(err.Error(), "invalid registry")
}

func TestProcessing_Idempotent(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	// Messages deliberately out of order: the engine must not rely on,
	// or change, the caller's slice order.
	in := &processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseFinalized, Height: 10},
		Registry: newRegistry(2, 3),
		Messages: []*types.Message{
			inbound(5, types.MessageTypePartiallySignedTx, 1),
			inbound(2, types.MessageTypeMultisigSyncData, 2),
		},
		TxStates: map[uint32]wallet.TxState{
			5: {TxIDs: []string{"tx-1"}, SignedBy: []uint32{1}},
		},
		SubmittedTxIDs: map[string]struct{}{},
		LastSyncHeight: 4,
		ForceSync:      true,
	}

	first, err := svc.NextActions(in)
	req.NoError(err)
	second, err := svc.NextActions(in)
	req.NoError(err)

	req.Empty(cmp.Diff(first, second))
	req.Equal(uint32(5), in.Messages[0].ID)
	req.Equal(uint32(2), in.Messages[1].ID)
}

func TestProcessing_BootstrapActions(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	registry := newRegistry(2, 3)
	registry.Signers[2].AddressKnown = false
	registry.Signers[2].PublicAddress = ""

	decision, err := svc.NextActions(&processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseNotMultisig},
		Registry: registry,
	})
	req.NoError(err)
	req.True(decision.Idle())
	req.Equal("waiting for signer info (set signer addresses or run auto-config)", decision.WaitReason)

	processed := inbound(1, types.MessageTypeSignerConfig, 1)
	processed.State = types.StateProcessed

	decision, err = svc.NextActions(&processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseNotMultisig},
		Registry: registry,
		Messages: []*types.Message{
			processed,
			inbound(3, types.MessageTypeSignerConfig, 1),
			inbound(2, types.MessageTypeSignerConfig, 2),
			inbound(4, types.MessageTypeAutoConfigData, 0),
			inbound(5, types.MessageTypeAutoConfigData, 0),
		},
	})
	req.NoError(err)
	req.Equal([]types.Action{
		{Type: types.ActionProcessSignerConfig, MessageIDs: []uint32{2, 3}},
		{Type: types.ActionProcessAutoConfigData, MessageIDs: []uint32{4}},
		{Type: types.ActionProcessAutoConfigData, MessageIDs: []uint32{5}},
	}, decision.Actions)
}

func TestProcessing_PrepareMultisig(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	decision, err := svc.NextActions(&processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseNotMultisig},
		Registry: newRegistry(2, 3),
	})
	req.NoError(err)
	req.Equal([]types.Action{{Type: types.ActionPrepareMultisig}}, decision.Actions)

	// A drafted key set means the engine call already happened; nothing
	// to propose until the wallet moves on.
	outboundKeySet := &types.Message{
		ID:        1,
		Type:      types.MessageTypeKeySet,
		Direction: types.DirectionOut,
		State:     types.StateSent,
	}
	decision, err = svc.NextActions(&processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseNotMultisig},
		Registry: newRegistry(2, 3),
		Messages: []*types.Message{outboundKeySet},
	})
	req.NoError(err)
	req.True(decision.Idle())
	req.NotEmpty(decision.WaitReason)
}

func TestProcessing_MakeMultisigQuorum(t *testing.T) {
	tests := []struct {
		threshold  uint32
		numSigners uint32
	}{
		{2, 2},
		{2, 3},
		{3, 3},
		{3, 5},
		{5, 5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-of-%d", tt.threshold, tt.numSigners), func(t *testing.T) {
			req := require.New(t)
			svc := processing.NewProcessingService()

			quorum := tt.threshold - 1
			var messages []*types.Message
			for i := uint32(0); i < quorum-1; i++ {
				messages = append(messages, inbound(i+1, types.MessageTypeKeySet, i+1))
			}

			in := &processing.Input{
				Wallet:   wallet.Status{Phase: wallet.PhaseKeysPrepared},
				Registry: newRegistry(tt.threshold, tt.numSigners),
				Messages: messages,
			}

			decision, err := svc.NextActions(in)
			req.NoError(err)
			req.True(decision.Idle())
			req.Equal("waiting for 1 more key sets (round 0)", decision.WaitReason)

			// The last key set completes the quorum.
			in.Messages = append(in.Messages, inbound(quorum, types.MessageTypeKeySet, quorum))

			decision, err = svc.NextActions(in)
			req.NoError(err)
			req.Len(decision.Actions, 1)
			req.Equal(types.ActionMakeMultisig, decision.Actions[0].Type)
			req.Len(decision.Actions[0].MessageIDs, int(quorum))
		})
	}
}

func TestProcessing_DuplicateSignerDoesNotCount(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	decision, err := svc.NextActions(&processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseKeysPrepared},
		Registry: newRegistry(3, 3),
		Messages: []*types.Message{
			inbound(1, types.MessageTypeKeySet, 1),
			inbound(2, types.MessageTypeKeySet, 1),
		},
	})
	req.NoError(err)
	req.True(decision.Idle())
	req.Equal("waiting for 1 more key sets (round 0)", decision.WaitReason)
}

func TestProcessing_KeySetQuorumOverride(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	// Default quorum for 2-of-3 is one key set; the override demands key
	// material from every co-signer.
	in := &processing.Input{
		Wallet:       wallet.Status{Phase: wallet.PhaseKeysPrepared},
		Registry:     newRegistry(2, 3),
		Messages:     []*types.Message{inbound(1, types.MessageTypeKeySet, 1)},
		KeySetQuorum: 2,
	}

	decision, err := svc.NextActions(in)
	req.NoError(err)
	req.True(decision.Idle())

	in.Messages = append(in.Messages, inbound(2, types.MessageTypeKeySet, 2))

	decision, err = svc.NextActions(in)
	req.NoError(err)
	req.Equal([]types.Action{
		{Type: types.ActionMakeMultisig, MessageIDs: []uint32{1, 2}},
	}, decision.Actions)
}

func TestProcessing_ExchangeRoundFilter(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	stale := inbound(1, types.MessageTypeAdditionalKeySet, 1)
	stale.Round = 1
	current := inbound(2, types.MessageTypeAdditionalKeySet, 1)
	current.Round = 2
	wrongType := inbound(3, types.MessageTypeKeySet, 2)
	wrongType.Round = 2

	decision, err := svc.NextActions(&processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseExchangingKeys, Round: 2},
		Registry: newRegistry(2, 2),
		Messages: []*types.Message{stale, current, wrongType},
	})
	req.NoError(err)
	req.Equal([]types.Action{
		{Type: types.ActionExchangeMultisigKeys, MessageIDs: []uint32{2}},
	}, decision.Actions)
}

func TestProcessing_SyncActions(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	// Height advanced since the last export.
	decision, err := svc.NextActions(&processing.Input{
		Wallet:         wallet.Status{Phase: wallet.PhaseFinalized, Height: 10},
		Registry:       newRegistry(2, 2),
		LastSyncHeight: 4,
	})
	req.NoError(err)
	req.Equal([]types.Action{{Type: types.ActionCreateSyncData}}, decision.Actions)

	// Nothing new to export.
	decision, err = svc.NextActions(&processing.Input{
		Wallet:         wallet.Status{Phase: wallet.PhaseFinalized, Height: 10},
		Registry:       newRegistry(2, 2),
		LastSyncHeight: 10,
	})
	req.NoError(err)
	req.True(decision.Idle())
	req.Equal("nothing to do (wallet is ready)", decision.WaitReason)

	// Inbound sync data is consumed before a new export is drafted.
	decision, err = svc.NextActions(&processing.Input{
		Wallet:         wallet.Status{Phase: wallet.PhaseFinalized, Height: 10},
		Registry:       newRegistry(2, 2),
		Messages:       []*types.Message{inbound(1, types.MessageTypeMultisigSyncData, 1)},
		LastSyncHeight: 4,
	})
	req.NoError(err)
	req.Equal([]types.Action{
		{Type: types.ActionProcessSyncData, MessageIDs: []uint32{1}},
		{Type: types.ActionCreateSyncData},
	}, decision.Actions)
}

func TestProcessing_SyncGatedByTxInFlight(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	// An undescribed waiting tx still counts as in flight and holds the
	// key-image sync back.
	in := &processing.Input{
		Wallet:         wallet.Status{Phase: wallet.PhaseFinalized, Height: 10},
		Registry:       newRegistry(2, 2),
		Messages:       []*types.Message{inbound(1, types.MessageTypePartiallySignedTx, 1)},
		LastSyncHeight: 4,
	}

	decision, err := svc.NextActions(in)
	req.NoError(err)
	req.True(decision.Idle())

	// An outbound tx waiting to be sent gates the sync as well.
	outboundTx := &types.Message{
		ID:        2,
		Type:      types.MessageTypePartiallySignedTx,
		Direction: types.DirectionOut,
		State:     types.StateReadyToSend,
	}
	in.Messages = []*types.Message{outboundTx}

	decision, err = svc.NextActions(in)
	req.NoError(err)
	req.True(decision.Idle())

	// Force overrides the gate.
	in.ForceSync = true

	decision, err = svc.NextActions(in)
	req.NoError(err)
	req.Equal([]types.Action{{Type: types.ActionCreateSyncData}}, decision.Actions)
}

func TestProcessing_TxChain(t *testing.T) {
	registry := newRegistry(2, 3)

	tests := []struct {
		name     string
		msgType  types.MessageType
		signer   uint32
		state    wallet.TxState
		expected types.Action
	}{
		{
			name:     "unsigned blob gets our signature",
			msgType:  types.MessageTypePartiallySignedTx,
			signer:   1,
			state:    wallet.TxState{TxIDs: []string{"tx-1"}},
			expected: types.Action{Type: types.ActionSignTx, MessageIDs: []uint32{1}},
		},
		{
			name:     "signed below threshold goes to the lowest unsigned peer",
			msgType:  types.MessageTypePartiallySignedTx,
			signer:   0,
			state:    wallet.TxState{TxIDs: []string{"tx-1"}, SignedBy: []uint32{0}},
			expected: types.Action{Type: types.ActionSendTx, MessageIDs: []uint32{1}, Recipient: 1},
		},
		{
			name:     "threshold reached without complete flag is submitted",
			msgType:  types.MessageTypePartiallySignedTx,
			signer:   1,
			state:    wallet.TxState{TxIDs: []string{"tx-1"}, SignedBy: []uint32{0, 1}, Complete: false},
			expected: types.Action{Type: types.ActionSubmitTx, MessageIDs: []uint32{1}},
		},
		{
			name:     "complete blob is submitted",
			msgType:  types.MessageTypePartiallySignedTx,
			signer:   1,
			state:    wallet.TxState{TxIDs: []string{"tx-1"}, SignedBy: []uint32{0, 2}, Complete: true},
			expected: types.Action{Type: types.ActionSubmitTx, MessageIDs: []uint32{1}},
		},
		{
			name:     "peer announcement is recorded without submitting",
			msgType:  types.MessageTypeFullySignedTx,
			signer:   2,
			state:    wallet.TxState{TxIDs: []string{"tx-1"}, SignedBy: []uint32{0, 2}, Complete: true},
			expected: types.Action{Type: types.ActionProcessSignedTx, MessageIDs: []uint32{1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			svc := processing.NewProcessingService()

			decision, err := svc.NextActions(&processing.Input{
				Wallet:   wallet.Status{Phase: wallet.PhaseFinalized},
				Registry: registry,
				Messages: []*types.Message{inbound(1, tt.msgType, tt.signer)},
				TxStates: map[uint32]wallet.TxState{1: tt.state},
			})
			req.NoError(err)
			req.Equal([]types.Action{tt.expected}, decision.Actions)
		})
	}
}

func TestProcessing_TxSkipsLowestUnsignedCorrectly(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	// 3-of-3: we and signer 2 signed, signer 1 did not. The blob goes to
	// signer 1 even though signer 2 has the higher index.
	decision, err := svc.NextActions(&processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseFinalized},
		Registry: newRegistry(3, 3),
		Messages: []*types.Message{inbound(1, types.MessageTypePartiallySignedTx, 2)},
		TxStates: map[uint32]wallet.TxState{
			1: {TxIDs: []string{"tx-1"}, SignedBy: []uint32{0, 2}},
		},
	})
	req.NoError(err)
	req.Equal([]types.Action{
		{Type: types.ActionSendTx, MessageIDs: []uint32{1}, Recipient: 1},
	}, decision.Actions)
}

func TestProcessing_SubmittedTxIsOnlyRecorded(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	// The blob is complete, but one of its tx ids is already on chain:
	// never submit twice.
	decision, err := svc.NextActions(&processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseFinalized},
		Registry: newRegistry(2, 2),
		Messages: []*types.Message{inbound(1, types.MessageTypePartiallySignedTx, 1)},
		TxStates: map[uint32]wallet.TxState{
			1: {TxIDs: []string{"tx-1", "tx-2"}, SignedBy: []uint32{0, 1}, Complete: true},
		},
		SubmittedTxIDs: map[string]struct{}{"tx-2": {}},
	})
	req.NoError(err)
	req.Equal([]types.Action{
		{Type: types.ActionProcessSignedTx, MessageIDs: []uint32{1}},
	}, decision.Actions)
}

func TestProcessing_UndescribedTxIsSkipped(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	decision, err := svc.NextActions(&processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseFinalized},
		Registry: newRegistry(2, 2),
		Messages: []*types.Message{
			inbound(1, types.MessageTypePartiallySignedTx, 1),
			inbound(2, types.MessageTypePartiallySignedTx, 1),
		},
		TxStates: map[uint32]wallet.TxState{
			2: {TxIDs: []string{"tx-2"}},
		},
	})
	req.NoError(err)
	req.Equal([]types.Action{
		{Type: types.ActionSignTx, MessageIDs: []uint32{2}},
	}, decision.Actions)
}

func TestProcessing_ActionOrder(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	// With the sync gate forced open, sync work comes before tx work and
	// tx actions follow message id order.
	decision, err := svc.NextActions(&processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseFinalized, Height: 10},
		Registry: newRegistry(2, 3),
		Messages: []*types.Message{
			inbound(3, types.MessageTypePartiallySignedTx, 1),
			inbound(1, types.MessageTypeMultisigSyncData, 2),
			inbound(2, types.MessageTypePartiallySignedTx, 2),
		},
		TxStates: map[uint32]wallet.TxState{
			2: {TxIDs: []string{"tx-2"}},
			3: {TxIDs: []string{"tx-3"}},
		},
		LastSyncHeight: 4,
		ForceSync:      true,
	})
	req.NoError(err)
	req.Equal([]types.Action{
		{Type: types.ActionProcessSyncData, MessageIDs: []uint32{1}},
		{Type: types.ActionCreateSyncData},
		{Type: types.ActionSignTx, MessageIDs: []uint32{2}},
		{Type: types.ActionSignTx, MessageIDs: []uint32{3}},
	}, decision.Actions)
}

func TestProcessing_BootstrapBeforePrepare(t *testing.T) {
	req := require.New(t)
	svc := processing.NewProcessingService()

	// A complete registry with a pending SignerConfig broadcast: consume
	// the broadcast first, then kick off key preparation.
	decision, err := svc.NextActions(&processing.Input{
		Wallet:   wallet.Status{Phase: wallet.PhaseNotMultisig},
		Registry: newRegistry(2, 2),
		Messages: []*types.Message{inbound(1, types.MessageTypeSignerConfig, 1)},
	})
	req.NoError(err)
	req.Equal([]types.Action{
		{Type: types.ActionProcessSignerConfig, MessageIDs: []uint32{1}},
		{Type: types.ActionPrepareMultisig},
	}, decision.Actions)
}
