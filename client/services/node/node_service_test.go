package node_test

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/depools/mms/client/config"
	"github.com/depools/mms/client/modules/keystore"
	"github.com/depools/mms/client/modules/state"
	"github.com/depools/mms/client/repositories/signer"
	"github.com/depools/mms/client/services"
	"github.com/depools/mms/client/services/node"
	"github.com/depools/mms/client/types"
	"github.com/depools/mms/mocks/transportMocks"
	"github.com/depools/mms/mocks/walletMocks"
	"github.com/depools/mms/transport"
	"github.com/depools/mms/wallet"
)

type testNode struct {
	svc      node.NodeService
	sp       *services.ServiceProvider
	gateway  *transportMocks.MockGateway
	engine   *walletMocks.MockEngine
	keyPair  *keystore.KeyPair
	addr     string
	username string
}

func newTestNode(t *testing.T, ctrl *gomock.Controller) *testNode {
	t.Helper()

	dir := t.TempDir()
	username := "test_node"
	topic := "test_topic"

	stg, err := state.NewLevelDBState(filepath.Join(dir, "state"), topic)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stg.Close() })

	ks, err := keystore.NewLevelDBKeyStore(filepath.Join(dir, "keystore"))
	require.NoError(t, err)

	keyPair := keystore.NewKeyPair()
	require.NoError(t, ks.PutKeys(username, keyPair))

	gateway := transportMocks.NewMockGateway(ctrl)
	engine := walletMocks.NewMockEngine(ctrl)

	cfg := &config.Config{
		Username:     username,
		Topic:        topic,
		PollInterval: time.Second,
	}

	sp := &services.ServiceProvider{}
	require.NoError(t, sp.Init(cfg, stg, ks, gateway, engine))

	svc, err := node.NewNode(context.Background(), cfg, sp)
	require.NoError(t, err)

	return &testNode{
		svc:      svc,
		sp:       sp,
		gateway:  gateway,
		engine:   engine,
		keyPair:  keyPair,
		addr:     keyPair.GetAddr(),
		username: username,
	}
}

// peerEnvelope builds a signed envelope the way a remote node would.
func peerEnvelope(t *testing.T, sender *keystore.KeyPair, recipientAddr string,
	msgType types.MessageType, content []byte, offset uint64) transport.Envelope {
	t.Helper()

	data, err := json.Marshal(struct {
		Type         types.MessageType `json:"type"`
		Content      []byte            `json:"content"`
		Round        uint32            `json:"round"`
		WalletHeight uint64            `json:"wallet_height"`
	}{Type: msgType, Content: content})
	require.NoError(t, err)

	env := transport.Envelope{
		ID:            uuid.New().String(),
		SenderAddr:    sender.GetAddr(),
		RecipientAddr: recipientAddr,
		Data:          data,
		Offset:        offset,
	}
	env.Signature = ed25519.Sign(sender.Priv, env.Bytes())

	return env
}

func TestNodeService_Receive(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)
	peer := keystore.NewKeyPair()

	_, err := n.svc.InitWallet(2, 2, "me", "addr-me")
	req.NoError(err)
	peerAddr := peer.GetAddr()
	_, err = n.sp.GetSignerRepo().SetSigner(signer.AddressLock{}, 1, signer.Patch{
		TransportAddress: &peerAddr,
	})
	req.NoError(err)

	direct := peerEnvelope(t, peer, n.addr, types.MessageTypeNote, []byte("direct"), 3)
	broadcast := peerEnvelope(t, peer, "", types.MessageTypeNote, []byte("broadcast"), 4)

	selfSent := peerEnvelope(t, n.keyPair, peer.GetAddr(), types.MessageTypeNote, []byte("own"), 0)
	foreign := peerEnvelope(t, peer, "ffff", types.MessageTypeNote, []byte("other"), 1)
	badSignature := peerEnvelope(t, peer, n.addr, types.MessageTypeNote, []byte("forged"), 2)
	badSignature.Signature = []byte("junk")

	n.gateway.EXPECT().GetEnvelopes(uint64(0)).Times(1).
		Return([]transport.Envelope{selfSent, foreign, badSignature, direct, broadcast}, nil)

	ingested, err := n.svc.Receive()
	req.NoError(err)
	req.Equal(2, ingested)

	messages, err := n.svc.GetMessages()
	req.NoError(err)
	req.Len(messages, 2)
	req.Equal([]byte("direct"), messages[0].Content)
	req.Equal(types.DirectionIn, messages[0].Direction)
	req.Equal(types.StateWaiting, messages[0].State)
	req.Equal(uint32(1), messages[0].SignerIndex)
	req.Equal(direct.ID, messages[0].TransportID)

	// The offset moved past every inspected envelope; a redelivered
	// envelope is recognized by its id.
	duplicate := direct
	duplicate.Offset = 5
	n.gateway.EXPECT().GetEnvelopes(uint64(5)).Times(1).
		Return([]transport.Envelope{duplicate}, nil)

	ingested, err = n.svc.Receive()
	req.NoError(err)
	req.Equal(0, ingested)

	offset, err := n.sp.GetState().LoadOffset()
	req.NoError(err)
	req.Equal(uint64(6), offset)
}

func TestNodeService_ReceiveTransportFailure(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)

	n.gateway.EXPECT().GetEnvelopes(uint64(0)).Times(1).
		Return(nil, errors.New("broker unreachable"))

	_, err := n.svc.Receive()
	req.Error(err)
	req.True(errors.Is(err, types.ErrTransport))
}

func TestNodeService_SendReadyMessages(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)
	peer := keystore.NewKeyPair()

	_, err := n.svc.InitWallet(2, 2, "me", "addr-me")
	req.NoError(err)
	peerAddr := peer.GetAddr()
	_, err = n.sp.GetSignerRepo().SetSigner(signer.AddressLock{}, 1, signer.Patch{
		TransportAddress: &peerAddr,
	})
	req.NoError(err)

	note, err := n.svc.AddNote(1, "see you at the ceremony")
	req.NoError(err)
	req.Equal(types.StateReadyToSend, note.State)

	var captured []transport.Envelope
	n.gateway.EXPECT().Send(gomock.Any()).Times(1).
		DoAndReturn(func(envelopes ...transport.Envelope) error {
			captured = envelopes
			return nil
		})

	sent, err := n.svc.SendReadyMessages(nil)
	req.NoError(err)
	req.Equal(1, sent)
	req.Len(captured, 1)

	env := captured[0]
	req.Equal(n.addr, env.SenderAddr)
	req.Equal(peer.GetAddr(), env.RecipientAddr)
	req.True(ed25519.Verify(n.keyPair.Pub, env.Bytes(), env.Signature))

	var payload struct {
		Type    types.MessageType `json:"type"`
		Content []byte            `json:"content"`
	}
	req.NoError(json.Unmarshal(env.Data, &payload))
	req.Equal(types.MessageTypeNote, payload.Type)
	req.Equal([]byte("see you at the ceremony"), payload.Content)

	stored, err := n.svc.GetMessage(note.ID)
	req.NoError(err)
	req.Equal(types.StateSent, stored.State)
	req.False(stored.SentAt.IsZero())

	// Nothing left to send.
	sent, err = n.svc.SendReadyMessages(nil)
	req.NoError(err)
	req.Equal(0, sent)
}

func TestNodeService_SendFailureKeepsMessageReady(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)
	peer := keystore.NewKeyPair()

	_, err := n.svc.InitWallet(2, 2, "me", "addr-me")
	req.NoError(err)
	peerAddr := peer.GetAddr()
	_, err = n.sp.GetSignerRepo().SetSigner(signer.AddressLock{}, 1, signer.Patch{
		TransportAddress: &peerAddr,
	})
	req.NoError(err)

	note, err := n.svc.AddNote(1, "try again later")
	req.NoError(err)

	n.gateway.EXPECT().Send(gomock.Any()).Times(1).Return(errors.New("broker down"))

	_, err = n.svc.SendReadyMessages(nil)
	req.Error(err)
	req.True(errors.Is(err, types.ErrTransport))

	stored, err := n.svc.GetMessage(note.ID)
	req.NoError(err)
	req.Equal(types.StateReadyToSend, stored.State)
}

func TestNodeService_SendByIDRequiresReadyState(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)

	inbound, err := n.sp.GetMessageRepo().AddMessage(&types.Message{
		Type:      types.MessageTypeNote,
		Direction: types.DirectionIn,
		Content:   []byte("inbound"),
	})
	req.NoError(err)

	_, err = n.svc.SendReadyMessages(&inbound.ID)
	req.Error(err)
	req.True(errors.Is(err, types.ErrInvalidTransition))
}

func TestNodeService_AddNoteValidation(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)

	_, err := n.svc.InitWallet(2, 2, "me", "addr-me")
	req.NoError(err)

	_, err = n.svc.AddNote(0, "to myself")
	req.Error(err)
	req.Contains(err.Error(), "self")

	_, err = n.svc.AddNote(5, "to nobody")
	req.Error(err)
	req.True(errors.Is(err, types.ErrNotFound))
}

func TestNodeService_ShowMessageConsumesInboundNotes(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)

	inbound, err := n.sp.GetMessageRepo().AddMessage(&types.Message{
		Type:        types.MessageTypeNote,
		Direction:   types.DirectionIn,
		Content:     []byte("read once"),
		SignerIndex: 1,
	})
	req.NoError(err)

	rendered, err := n.svc.ShowMessage(inbound.ID)
	req.NoError(err)
	req.Contains(rendered, "read once")
	req.Contains(rendered, "note")

	_, err = n.svc.GetMessage(inbound.ID)
	req.Error(err)
	req.True(errors.Is(err, types.ErrNotFound))

	// Outbound notes are kept.
	_, err = n.svc.InitWallet(2, 2, "me", "addr-me")
	req.NoError(err)
	outbound, err := n.svc.AddNote(1, "kept")
	req.NoError(err)

	rendered, err = n.svc.ShowMessage(outbound.ID)
	req.NoError(err)
	req.Contains(rendered, "kept")

	_, err = n.svc.GetMessage(outbound.ID)
	req.NoError(err)
}

func TestNodeService_Options(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)

	value, err := n.svc.GetOption(node.OptionAutoSend)
	req.NoError(err)
	req.Equal("off", value)

	req.NoError(n.svc.SetOption(node.OptionAutoSend, "on"))

	value, err = n.svc.GetOption(node.OptionAutoSend)
	req.NoError(err)
	req.Equal("on", value)

	req.Error(n.svc.SetOption(node.OptionAutoSend, "maybe"))
	req.Error(n.svc.SetOption("color", "red"))
	_, err = n.svc.GetOption("color")
	req.Error(err)
}

func TestNodeService_InitWallet(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)

	registry, err := n.svc.InitWallet(2, 3, "me", "addr-me")
	req.NoError(err)
	req.Equal(uint32(2), registry.Threshold)
	req.Equal(n.addr, registry.Signers[0].TransportAddress)

	_, err = n.svc.InitWallet(2, 3, "me", "addr-me")
	req.Error(err)
	req.True(errors.Is(err, types.ErrInvalidTransition))
}

func TestNodeService_ProposeTransfer(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)

	n.engine.EXPECT().CreateTransfer("dest-addr", uint64(100)).Times(1).
		Return([]byte("unsigned tx"), nil)
	n.engine.EXPECT().Status().Times(1).
		Return(&wallet.Status{Phase: wallet.PhaseFinalized, Height: 7}, nil)

	msg, err := n.svc.ProposeTransfer("dest-addr", 100)
	req.NoError(err)
	req.Equal(types.MessageTypePartiallySignedTx, msg.Type)
	req.Equal(types.DirectionIn, msg.Direction)
	req.Equal(types.StateWaiting, msg.State)
	req.Equal([]byte("unsigned tx"), msg.Content)
	req.Equal(uint64(7), msg.WalletHeight)

	n.engine.EXPECT().CreateTransfer("dest-addr", uint64(100)).Times(1).
		Return(nil, errors.New("wallet busy"))

	_, err = n.svc.ProposeTransfer("dest-addr", 100)
	req.Error(err)
	req.True(errors.Is(err, types.ErrCryptoEngine))
}

func TestNodeService_Status(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)

	_, err := n.svc.InitWallet(2, 2, "me", "addr-me")
	req.NoError(err)

	_, err = n.sp.GetMessageRepo().AddMessage(&types.Message{
		Type:      types.MessageTypeNote,
		Direction: types.DirectionIn,
		Content:   []byte("waiting"),
	})
	req.NoError(err)
	_, err = n.svc.AddNote(1, "ready")
	req.NoError(err)

	n.engine.EXPECT().Status().Times(1).
		Return(&wallet.Status{Phase: wallet.PhaseNotMultisig}, nil)

	info, err := n.svc.Status()
	req.NoError(err)
	req.Equal(n.addr, info.TransportAddr)
	req.Equal(wallet.PhaseNotMultisig, info.Wallet.Phase)
	req.NotNil(info.Registry)
	req.Equal(2, info.Messages)
	req.Equal(1, info.Waiting)
	req.Equal(1, info.ReadyToSend)
	req.False(info.AutoSend)
}

func TestNodeService_NextActionsWithoutWallet(t *testing.T) {
	var (
		req  = require.New(t)
		ctrl = gomock.NewController(t)
	)
	defer ctrl.Finish()

	n := newTestNode(t, ctrl)

	n.engine.EXPECT().Status().Times(1).
		Return(&wallet.Status{Phase: wallet.PhaseNotMultisig}, nil)

	decision, err := n.svc.NextActions(false)
	req.NoError(err)
	req.True(decision.Idle())
	req.Equal("wallet is not initialized", decision.WaitReason)
}
