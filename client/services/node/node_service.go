package node

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/depools/mms/client/config"
	"github.com/depools/mms/client/modules/keystore"
	"github.com/depools/mms/client/modules/logger"
	"github.com/depools/mms/client/modules/state"
	"github.com/depools/mms/client/repositories/message"
	"github.com/depools/mms/client/repositories/signer"
	"github.com/depools/mms/client/repositories/txrecord"
	"github.com/depools/mms/client/services"
	"github.com/depools/mms/client/services/autoconf"
	"github.com/depools/mms/client/services/processing"
	"github.com/depools/mms/client/types"
	"github.com/depools/mms/transport"
	"github.com/depools/mms/wallet"
)

const (
	defaultPollingPeriod = 90 * time.Second

	LastSyncHeightKey = "last_sync_height"
	OptionAutoSend    = "auto-send"

	optionKeyPrefix = "option_"
)

// StatusInfo is the one-call overview of a node: wallet state, registry
// and message counters.
type StatusInfo struct {
	TransportAddr string          `json:"transport_addr"`
	Wallet        wallet.Status   `json:"wallet"`
	Registry      *types.Registry `json:"registry,omitempty"`
	Messages      int             `json:"messages"`
	Waiting       int             `json:"waiting"`
	ReadyToSend   int             `json:"ready_to_send"`
	Offset        uint64          `json:"offset"`
	AutoSend      bool            `json:"auto_send"`
}

type NodeService interface {
	Poll() error
	GetLogger() logger.Logger
	GetPubKey() ed25519.PublicKey
	GetUsername() string
	GetTransportAddr() string

	InitWallet(threshold, numSigners uint32, label, publicAddress string) (*types.Registry, error)
	SetSigner(index uint32, patch signer.Patch) (*types.Signer, error)
	GetSigners() ([]types.Signer, error)

	GetMessages() ([]*types.Message, error)
	GetMessage(id uint32) (*types.Message, error)
	ExportMessage(id uint32) ([]byte, error)
	DeleteMessage(id uint32) error
	DeleteAllMessages() error
	AddNote(recipient uint32, text string) (*types.Message, error)
	ShowMessage(id uint32) (string, error)

	SetOption(name, value string) error
	GetOption(name string) (string, error)

	Receive() (int, error)
	SendReadyMessages(id *uint32) (int, error)
	NextActions(forceSync bool) (*types.Decision, error)
	Next(forceSync bool) (*types.Action, *types.Decision, error)

	StartAutoConfig(labels []string) (map[uint32]string, error)
	StopAutoConfig() error
	AutoConfig(token string) (*types.Message, error)

	ProposeTransfer(destination string, amount uint64) (*types.Message, error)
	Status() (*StatusInfo, error)
}

type BaseNodeService struct {
	sync.Mutex
	ctx           context.Context
	username      string
	topic         string
	pollingPeriod time.Duration
	keySetQuorum  uint32
	pubKey        ed25519.PublicKey
	transportAddr string
	state         state.State
	gateway       transport.Gateway
	keyStore      keystore.KeyStore
	engine        wallet.Engine
	messageRepo   message.MessageRepo
	signerRepo    signer.SignerRepo
	txRecordRepo  txrecord.TxRecordRepo
	procService   processing.ProcessingService
	autoConf      autoconf.AutoConfigService
	Logger        logger.Logger
}

func NewNode(ctx context.Context, cfg *config.Config, sp *services.ServiceProvider) (NodeService, error) {
	keyPair, err := sp.GetKeyStore().LoadKeys(cfg.Username, "")
	if err != nil {
		return nil, fmt.Errorf("failed to LoadKeys: %w", err)
	}

	period := cfg.PollInterval
	if period <= 0 {
		period = defaultPollingPeriod
	}

	return &BaseNodeService{
		ctx:           ctx,
		username:      cfg.Username,
		topic:         cfg.Topic,
		pollingPeriod: period,
		keySetQuorum:  cfg.KeySetQuorum,
		pubKey:        keyPair.Pub,
		transportAddr: keyPair.GetAddr(),
		state:         sp.GetState(),
		gateway:       sp.GetGateway(),
		keyStore:      sp.GetKeyStore(),
		engine:        sp.GetEngine(),
		messageRepo:   sp.GetMessageRepo(),
		signerRepo:    sp.GetSignerRepo(),
		txRecordRepo:  sp.GetTxRecordRepo(),
		procService:   sp.GetProcessingService(),
		autoConf:      sp.GetAutoConfigService(),
		Logger:        sp.GetLogger(),
	}, nil
}

func (s *BaseNodeService) GetLogger() logger.Logger {
	return s.Logger
}

func (s *BaseNodeService) GetPubKey() ed25519.PublicKey {
	return s.pubKey
}

func (s *BaseNodeService) GetUsername() string {
	return s.username
}

func (s *BaseNodeService) GetTransportAddr() string {
	return s.transportAddr
}

// Poll runs the background loop: fetch envelopes, refresh the wallet and,
// when the auto-send option is on, flush ready messages. It returns when
// the context closes.
func (s *BaseNodeService) Poll() error {
	tk := time.NewTicker(s.pollingPeriod)
	defer tk.Stop()
	for {
		select {
		case <-tk.C:
			if n, err := s.Receive(); err != nil {
				s.Logger.Log("Failed to receive envelopes: %v", err)
			} else if n > 0 {
				s.Logger.Log("Received %d new messages", n)
			}

			if err := s.engine.Refresh(); err != nil {
				s.Logger.Log("Failed to refresh wallet: %v", err)
			}

			autoSend, err := s.GetOption(OptionAutoSend)
			if err != nil {
				s.Logger.Log("Failed to read %s option: %v", OptionAutoSend, err)
				continue
			}
			if autoSend == "on" {
				if n, err := s.SendReadyMessages(nil); err != nil {
					s.Logger.Log("Failed to send ready messages: %v", err)
				} else if n > 0 {
					s.Logger.Log("Auto-sent %d messages", n)
				}
			}
		case <-s.ctx.Done():
			log.Println("Context closed, stop polling...")
			return nil
		}
	}
}

// InitWallet creates the M-of-N registry with this node in slot 0.
func (s *BaseNodeService) InitWallet(threshold, numSigners uint32, label, publicAddress string) (*types.Registry, error) {
	s.Lock()
	defer s.Unlock()

	registry, err := s.signerRepo.InitRegistry(threshold, numSigners, types.Signer{
		Label:            label,
		TransportAddress: s.transportAddr,
		PublicAddress:    publicAddress,
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Log("Initialized %d-of-%d wallet, transport address %s",
		threshold, numSigners, s.transportAddr)

	return registry, nil
}

func (s *BaseNodeService) SetSigner(index uint32, patch signer.Patch) (*types.Signer, error) {
	s.Lock()
	defer s.Unlock()

	lock, err := s.addressLock()
	if err != nil {
		return nil, err
	}

	return s.signerRepo.SetSigner(lock, index, patch)
}

func (s *BaseNodeService) GetSigners() ([]types.Signer, error) {
	s.Lock()
	defer s.Unlock()

	return s.signerRepo.GetAllSigners()
}

func (s *BaseNodeService) GetMessages() ([]*types.Message, error) {
	s.Lock()
	defer s.Unlock()

	return s.messageRepo.GetAllMessages()
}

func (s *BaseNodeService) GetMessage(id uint32) (*types.Message, error) {
	s.Lock()
	defer s.Unlock()

	return s.messageRepo.GetMessageByID(id)
}

// ExportMessage hands out a copy of the raw content, e.g. to sneakernet a
// blob to an air-gapped machine.
func (s *BaseNodeService) ExportMessage(id uint32) ([]byte, error) {
	s.Lock()
	defer s.Unlock()

	msg, err := s.messageRepo.GetMessageByID(id)
	if err != nil {
		return nil, err
	}

	content := make([]byte, len(msg.Content))
	copy(content, msg.Content)
	return content, nil
}

func (s *BaseNodeService) DeleteMessage(id uint32) error {
	s.Lock()
	defer s.Unlock()

	msg, err := s.messageRepo.GetMessageByID(id)
	if err != nil {
		return err
	}
	if msg.State == types.StateWaiting || msg.State == types.StateReadyToSend {
		s.Logger.Log("WARNING: deleting unhandled message %d (%s/%s)", id, msg.Direction, msg.State)
	}

	return s.messageRepo.DeleteMessage(id)
}

func (s *BaseNodeService) DeleteAllMessages() error {
	s.Lock()
	defer s.Unlock()

	messages, err := s.messageRepo.GetAllMessages()
	if err != nil {
		return err
	}
	unhandled := 0
	for _, msg := range messages {
		if msg.State == types.StateWaiting || msg.State == types.StateReadyToSend {
			unhandled++
		}
	}
	if unhandled > 0 {
		s.Logger.Log("WARNING: deleting all messages, %d of them unhandled", unhandled)
	}

	return s.messageRepo.DeleteAllMessages()
}

// AddNote queues a free-form text message for one co-signer. Notes never
// touch the wallet engine.
func (s *BaseNodeService) AddNote(recipient uint32, text string) (*types.Message, error) {
	s.Lock()
	defer s.Unlock()

	if recipient == 0 {
		return nil, fmt.Errorf("cannot send a note to self")
	}
	if _, err := s.signerRepo.GetSigner(recipient); err != nil {
		return nil, err
	}

	return s.messageRepo.AddMessage(&types.Message{
		Type:        types.MessageTypeNote,
		Direction:   types.DirectionOut,
		Content:     []byte(text),
		SignerIndex: recipient,
	})
}

// ShowMessage renders a message for the operator. Inbound notes are
// read-once: rendering one removes it from the store.
func (s *BaseNodeService) ShowMessage(id uint32) (string, error) {
	s.Lock()
	defer s.Unlock()

	msg, err := s.messageRepo.GetMessageByID(id)
	if err != nil {
		return "", err
	}

	rendered := s.renderMessage(msg)

	if msg.Type == types.MessageTypeNote && msg.Direction == types.DirectionIn {
		if err := s.messageRepo.DeleteMessage(id); err != nil {
			return "", fmt.Errorf("failed to consume note %d: %w", id, err)
		}
		s.Logger.Log("Note %d consumed", id)
	}

	return rendered, nil
}

func (s *BaseNodeService) SetOption(name, value string) error {
	if name != OptionAutoSend {
		return fmt.Errorf("unknown option %q", name)
	}
	if value != "on" && value != "off" {
		return fmt.Errorf("option %q takes on or off, got %q", name, value)
	}

	s.Lock()
	defer s.Unlock()

	key := state.MakeCompositeKeyString(s.topic, optionKeyPrefix+name)
	if err := s.state.Set(key, []byte(value)); err != nil {
		return fmt.Errorf("failed to save option %q: %w", name, err)
	}

	return nil
}

func (s *BaseNodeService) GetOption(name string) (string, error) {
	if name != OptionAutoSend {
		return "", fmt.Errorf("unknown option %q", name)
	}

	key := state.MakeCompositeKeyString(s.topic, optionKeyPrefix+name)
	value, err := s.state.Get(key)
	if err != nil {
		return "", fmt.Errorf("failed to read option %q: %w", name, err)
	}
	if value == nil {
		return "off", nil
	}

	return string(value), nil
}

// Receive drains the gateway from the saved offset, keeps envelopes meant
// for this node and ingests them as waiting inbound messages. The offset
// advances past every inspected envelope, kept or not.
func (s *BaseNodeService) Receive() (int, error) {
	offset, err := s.state.LoadOffset()
	if err != nil {
		return 0, fmt.Errorf("failed to LoadOffset: %w", err)
	}

	envelopes, err := s.gateway.GetEnvelopes(offset)
	if err != nil {
		return 0, fmt.Errorf("failed to GetEnvelopes: %w", types.WrapTransport(err))
	}
	if len(envelopes) == 0 {
		return 0, nil
	}

	s.Lock()
	defer s.Unlock()

	rendezvous, err := s.autoConf.PendingRendezvousAddresses()
	if err != nil {
		return 0, err
	}

	registry, err := s.signerRepo.GetRegistry()
	if err != nil {
		return 0, err
	}

	ingested := 0
	for _, env := range envelopes {
		stored, err := s.ingestEnvelope(&env, registry, rendezvous)
		if err != nil {
			s.Logger.Log("Skipping envelope %s at offset %d: %v", env.ID, env.Offset, err)
		} else if stored {
			ingested++
		}
		if err := s.state.SaveOffset(env.Offset + 1); err != nil {
			s.Logger.Log("Failed to save offset: %v", err)
		}
	}

	return ingested, nil
}

func (s *BaseNodeService) ingestEnvelope(env *transport.Envelope, registry *types.Registry, rendezvous map[string]struct{}) (bool, error) {
	if env.SenderAddr == s.transportAddr {
		return false, nil
	}

	_, tokenAddressed := rendezvous[env.RecipientAddr]
	if !tokenAddressed && !env.Broadcast() && env.RecipientAddr != s.transportAddr {
		return false, nil
	}

	// Token-addressed envelopes are authenticated later by unsealing;
	// everything else must carry a valid signature under the sender's
	// transport key.
	if !tokenAddressed {
		if err := verifyEnvelope(env); err != nil {
			return false, err
		}
	}

	seen, err := s.messageRepo.SeenTransportID(env.ID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	payload, err := decodePayload(env.Data)
	if err != nil {
		return false, err
	}

	senderIndex := uint32(0)
	if registry != nil {
		for _, sl := range registry.Signers {
			if !sl.Me() && sl.TransportAddress == env.SenderAddr {
				senderIndex = sl.Index
				break
			}
		}
	}

	msg, err := s.messageRepo.AddMessage(&types.Message{
		Type:         payload.Type,
		Direction:    types.DirectionIn,
		Content:      payload.Content,
		SignerIndex:  senderIndex,
		Round:        payload.Round,
		WalletHeight: payload.WalletHeight,
		TransportID:  env.ID,
	})
	if err != nil {
		return false, err
	}

	s.Logger.Log("Stored message %d (%s) from %s at offset %d", msg.ID, msg.Type, env.SenderAddr, env.Offset)

	return true, nil
}

// SendReadyMessages envelopes, signs and sends ready-to-send messages,
// all of them or one picked by id, then marks them sent. A transport
// failure stops the run and leaves the failed message ready.
func (s *BaseNodeService) SendReadyMessages(id *uint32) (int, error) {
	s.Lock()
	defer s.Unlock()

	var outgoing []*types.Message
	if id != nil {
		msg, err := s.messageRepo.GetMessageByID(*id)
		if err != nil {
			return 0, err
		}
		if msg.State != types.StateReadyToSend {
			return 0, fmt.Errorf("message %d is %s: %w", *id, msg.State, types.ErrInvalidTransition)
		}
		outgoing = append(outgoing, msg)
	} else {
		messages, err := s.messageRepo.GetAllMessages()
		if err != nil {
			return 0, err
		}
		for _, msg := range messages {
			if msg.State == types.StateReadyToSend {
				outgoing = append(outgoing, msg)
			}
		}
	}

	sent := 0
	for _, msg := range outgoing {
		recipientAddr, err := s.recipientAddr(msg)
		if err != nil {
			return sent, err
		}

		env, err := s.buildEnvelope(recipientAddr, msg)
		if err != nil {
			return sent, err
		}

		if err := s.gateway.Send(*env); err != nil {
			return sent, fmt.Errorf("failed to send message %d: %w", msg.ID, types.WrapTransport(err))
		}

		if _, err := s.messageRepo.SetMessageProcessedOrSent(msg.ID); err != nil {
			return sent, err
		}
		s.Logger.Log("Sent message %d (%s) to %s", msg.ID, msg.Type, recipientAddr)
		sent++
	}

	return sent, nil
}

// NextActions captures a snapshot and runs the decision engine on it.
// Wallet introspection happens outside the lock; the engine call itself
// is pure.
func (s *BaseNodeService) NextActions(forceSync bool) (*types.Decision, error) {
	in, err := s.snapshotInput(forceSync)
	if err != nil {
		return nil, err
	}

	return s.procService.NextActions(in)
}

// Next computes the decision and executes its first action. It returns
// the executed action (nil when idle) along with the full decision.
func (s *BaseNodeService) Next(forceSync bool) (*types.Action, *types.Decision, error) {
	decision, err := s.NextActions(forceSync)
	if err != nil {
		return nil, nil, err
	}
	if decision.Idle() {
		return nil, decision, nil
	}

	action := decision.Actions[0]

	s.Lock()
	defer s.Unlock()

	if err := s.executeAction(&action); err != nil {
		return &action, decision, err
	}

	return &action, decision, nil
}

func (s *BaseNodeService) StartAutoConfig(labels []string) (map[uint32]string, error) {
	s.Lock()
	defer s.Unlock()

	return s.autoConf.StartAutoConfig(labels)
}

func (s *BaseNodeService) StopAutoConfig() error {
	s.Lock()
	defer s.Unlock()

	return s.autoConf.StopAutoConfig()
}

// AutoConfig joins an auto-config run with a token received out of band.
func (s *BaseNodeService) AutoConfig(token string) (*types.Message, error) {
	s.Lock()
	defer s.Unlock()

	return s.autoConf.AddAutoConfigDataMessage(token)
}

// ProposeTransfer asks the engine for an unsigned transfer and stores it
// as a local waiting message, which the normal signing flow picks up.
func (s *BaseNodeService) ProposeTransfer(destination string, amount uint64) (*types.Message, error) {
	tx, err := s.engine.CreateTransfer(destination, amount)
	if err != nil {
		return nil, types.WrapCryptoEngine(err)
	}

	status, err := s.engine.Status()
	if err != nil {
		return nil, types.WrapCryptoEngine(err)
	}

	s.Lock()
	defer s.Unlock()

	msg, err := s.messageRepo.AddMessage(&types.Message{
		Type:         types.MessageTypePartiallySignedTx,
		Direction:    types.DirectionIn,
		Content:      tx,
		WalletHeight: status.Height,
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Log("Proposed transfer of %d to %s as message %d", amount, destination, msg.ID)

	return msg, nil
}

func (s *BaseNodeService) Status() (*StatusInfo, error) {
	status, err := s.engine.Status()
	if err != nil {
		return nil, types.WrapCryptoEngine(err)
	}

	autoSend, err := s.GetOption(OptionAutoSend)
	if err != nil {
		return nil, err
	}

	s.Lock()
	defer s.Unlock()

	registry, err := s.signerRepo.GetRegistry()
	if err != nil {
		return nil, err
	}
	messages, err := s.messageRepo.GetAllMessages()
	if err != nil {
		return nil, err
	}
	offset, err := s.state.LoadOffset()
	if err != nil {
		return nil, err
	}

	info := &StatusInfo{
		TransportAddr: s.transportAddr,
		Wallet:        *status,
		Registry:      registry,
		Messages:      len(messages),
		Offset:        offset,
		AutoSend:      autoSend == "on",
	}
	for _, msg := range messages {
		switch msg.State {
		case types.StateWaiting:
			info.Waiting++
		case types.StateReadyToSend:
			info.ReadyToSend++
		}
	}

	return info, nil
}

// snapshotInput collects everything one decision run may look at. Store
// reads happen under the lock, wallet introspection after it.
func (s *BaseNodeService) snapshotInput(forceSync bool) (*processing.Input, error) {
	s.Lock()

	registry, err := s.signerRepo.GetRegistry()
	if err != nil {
		s.Unlock()
		return nil, err
	}
	messages, err := s.messageRepo.GetAllMessages()
	if err != nil {
		s.Unlock()
		return nil, err
	}
	submittedTxIDs, err := s.txRecordRepo.SubmittedTxIDs()
	if err != nil {
		s.Unlock()
		return nil, err
	}
	lastSyncHeight, err := s.loadLastSyncHeight()
	if err != nil {
		s.Unlock()
		return nil, err
	}
	s.Unlock()

	status, err := s.engine.Status()
	if err != nil {
		return nil, types.WrapCryptoEngine(err)
	}

	txStates := make(map[uint32]wallet.TxState)
	for _, msg := range messages {
		if !msg.Type.IsTx() || msg.Direction != types.DirectionIn || msg.State != types.StateWaiting {
			continue
		}
		st, err := s.engine.DescribeTx(msg.Content)
		if err != nil {
			s.Logger.Log("Cannot describe tx message %d, skipping it: %v", msg.ID, err)
			continue
		}
		txStates[msg.ID] = *st
	}

	return &processing.Input{
		Wallet:         *status,
		Registry:       registry,
		Messages:       messages,
		TxStates:       txStates,
		SubmittedTxIDs: submittedTxIDs,
		LastSyncHeight: lastSyncHeight,
		ForceSync:      forceSync,
		KeySetQuorum:   s.keySetQuorum,
	}, nil
}

// executeAction carries out one decision step. Callers hold the lock.
// Engine failures leave the referenced messages waiting, so the step can
// be retried.
func (s *BaseNodeService) executeAction(a *types.Action) error {
	s.Logger.Log("Executing %s", a)

	switch a.Type {
	case types.ActionProcessSignerConfig:
		return s.execProcessSignerConfig(a)
	case types.ActionProcessAutoConfigData:
		return s.execProcessAutoConfigData(a)
	case types.ActionPrepareMultisig:
		return s.execPrepareMultisig()
	case types.ActionMakeMultisig, types.ActionExchangeMultisigKeys:
		return s.execKeyExchange(a)
	case types.ActionCreateSyncData:
		return s.execCreateSyncData()
	case types.ActionProcessSyncData:
		return s.execProcessSyncData(a)
	case types.ActionSignTx:
		return s.execSignTx(a)
	case types.ActionSendTx:
		return s.execSendTx(a)
	case types.ActionSubmitTx:
		return s.execSubmitTx(a)
	case types.ActionProcessSignedTx:
		return s.execProcessSignedTx(a)
	default:
		return fmt.Errorf("unknown action type %s", a.Type)
	}
}

func (s *BaseNodeService) execProcessSignerConfig(a *types.Action) error {
	lock, err := s.addressLock()
	if err != nil {
		return err
	}

	for _, id := range a.MessageIDs {
		msg, err := s.messageRepo.GetMessageByID(id)
		if err != nil {
			return err
		}
		if err := s.autoConf.ApplySignerConfig(lock, msg.Content); err != nil {
			return err
		}
		if _, err := s.messageRepo.SetMessageProcessedOrSent(id); err != nil {
			return err
		}
	}

	return s.autoConf.StopAutoConfig()
}

func (s *BaseNodeService) execProcessAutoConfigData(a *types.Action) error {
	for _, id := range a.MessageIDs {
		done, err := s.autoConf.ProcessAutoConfigDataMessage(id)
		switch {
		case errors.Is(err, types.ErrInvalidToken):
			s.Logger.Log("WARNING: message %d matches no pending token, dropping it: %v", id, err)
		case err != nil:
			return err
		}
		if _, err := s.messageRepo.SetMessageProcessedOrSent(id); err != nil {
			return err
		}

		if done {
			if err := s.finishAutoConfig(); err != nil {
				return err
			}
		}
	}

	return nil
}

// finishAutoConfig runs on the issuing side once the last peer slot is
// filled: queue the converged registry for every peer and clear the
// auto-config state.
func (s *BaseNodeService) finishAutoConfig() error {
	content, err := s.autoConf.BuildSignerConfigContent()
	if err != nil {
		return err
	}

	if _, err := s.addPeerMessages(types.MessageTypeSignerConfig, content, 0, 0); err != nil {
		return err
	}
	if err := s.autoConf.StopAutoConfig(); err != nil {
		return err
	}

	s.Logger.Log("Auto-config complete, signer config queued for all peers")

	return nil
}

func (s *BaseNodeService) execPrepareMultisig() error {
	keySet, err := s.engine.PrepareMultisig()
	if err != nil {
		return types.WrapCryptoEngine(err)
	}

	ids, err := s.addPeerMessages(types.MessageTypeKeySet, keySet, 0, 0)
	if err != nil {
		return err
	}

	s.Logger.Log("Prepared multisig, key set queued as messages %v", ids)

	return nil
}

func (s *BaseNodeService) execKeyExchange(a *types.Action) error {
	messages, err := s.collectWaiting(a.MessageIDs)
	if err != nil {
		return err
	}
	keySets := contentsBySigner(messages)

	registry, err := s.signerRepo.GetRegistry()
	if err != nil {
		return err
	}
	if registry == nil {
		return fmt.Errorf("registry is not initialized: %w", types.ErrNotFound)
	}

	var result *wallet.ExchangeResult
	if a.Type == types.ActionMakeMultisig {
		result, err = s.engine.MakeMultisig(registry.Threshold, keySets)
	} else {
		result, err = s.engine.ExchangeMultisigKeys(keySets)
	}
	if err != nil {
		return types.WrapCryptoEngine(err)
	}

	for _, id := range a.MessageIDs {
		if _, err := s.messageRepo.SetMessageProcessedOrSent(id); err != nil {
			return err
		}
	}

	if result.Finalized {
		s.Logger.Log("Multisig wallet finalized, address %s", result.Address)
		return nil
	}

	status, err := s.engine.Status()
	if err != nil {
		return types.WrapCryptoEngine(err)
	}
	ids, err := s.addPeerMessages(types.MessageTypeAdditionalKeySet, result.NextKeySet, status.Round, 0)
	if err != nil {
		return err
	}

	s.Logger.Log("Key exchange advanced to round %d, next key set queued as messages %v", status.Round, ids)

	return nil
}

func (s *BaseNodeService) execCreateSyncData() error {
	blob, err := s.engine.ExportSyncData()
	if err != nil {
		return types.WrapCryptoEngine(err)
	}

	status, err := s.engine.Status()
	if err != nil {
		return types.WrapCryptoEngine(err)
	}

	ids, err := s.addPeerMessages(types.MessageTypeMultisigSyncData, blob, status.SyncRound, status.Height)
	if err != nil {
		return err
	}
	if err := s.saveLastSyncHeight(status.Height); err != nil {
		return err
	}

	s.Logger.Log("Sync data for height %d queued as messages %v", status.Height, ids)

	return nil
}

func (s *BaseNodeService) execProcessSyncData(a *types.Action) error {
	for _, id := range a.MessageIDs {
		msg, err := s.messageRepo.GetMessageByID(id)
		if err != nil {
			return err
		}

		n, err := s.engine.ImportSyncData([][]byte{msg.Content})
		switch {
		case errors.Is(err, types.ErrStaleSyncData):
			s.Logger.Log("WARNING: sync data message %d is stale, dropping it", id)
		case err != nil:
			return types.WrapCryptoEngine(err)
		default:
			s.Logger.Log("Imported sync data message %d (%d entries)", id, n)
		}

		if _, err := s.messageRepo.SetMessageProcessedOrSent(id); err != nil {
			return err
		}
	}

	return nil
}

func (s *BaseNodeService) execSignTx(a *types.Action) error {
	msg, err := s.firstMessage(a)
	if err != nil {
		return err
	}

	result, err := s.engine.SignTx(msg.Content)
	if err != nil {
		return types.WrapCryptoEngine(err)
	}

	newType := types.MessageTypePartiallySignedTx
	if result.Complete {
		newType = types.MessageTypeFullySignedTx
	}

	signed, err := s.messageRepo.AddMessage(&types.Message{
		Type:         newType,
		Direction:    types.DirectionIn,
		Content:      result.SignedTx,
		WalletHeight: msg.WalletHeight,
	})
	if err != nil {
		return err
	}
	if _, err := s.messageRepo.SetMessageProcessedOrSent(msg.ID); err != nil {
		return err
	}

	s.Logger.Log("Signed tx message %d into message %d (complete: %v)", msg.ID, signed.ID, result.Complete)

	return nil
}

func (s *BaseNodeService) execSendTx(a *types.Action) error {
	msg, err := s.firstMessage(a)
	if err != nil {
		return err
	}
	if _, err := s.signerRepo.GetSigner(a.Recipient); err != nil {
		return err
	}

	out, err := s.messageRepo.AddMessage(&types.Message{
		Type:         types.MessageTypePartiallySignedTx,
		Direction:    types.DirectionOut,
		Content:      msg.Content,
		SignerIndex:  a.Recipient,
		WalletHeight: msg.WalletHeight,
	})
	if err != nil {
		return err
	}
	if _, err := s.messageRepo.SetMessageProcessedOrSent(msg.ID); err != nil {
		return err
	}

	s.Logger.Log("Partially signed tx %d queued for signer %d as message %d", msg.ID, a.Recipient, out.ID)

	return nil
}

func (s *BaseNodeService) execSubmitTx(a *types.Action) error {
	msg, err := s.firstMessage(a)
	if err != nil {
		return err
	}

	txID, err := s.engine.SubmitTx(msg.Content)
	if err != nil {
		return types.WrapCryptoEngine(err)
	}

	txIDs := []string{txID}
	if st, err := s.engine.DescribeTx(msg.Content); err == nil && len(st.TxIDs) > 0 {
		txIDs = st.TxIDs
	}
	if err := s.txRecordRepo.RecordTxIDs(txIDs, 0, msg.ID); err != nil {
		return err
	}

	if _, err := s.addPeerMessages(types.MessageTypeFullySignedTx, msg.Content, 0, msg.WalletHeight); err != nil {
		return err
	}
	if _, err := s.messageRepo.SetMessageProcessedOrSent(msg.ID); err != nil {
		return err
	}

	s.Logger.Log("Submitted tx %s from message %d", txID, msg.ID)

	return nil
}

func (s *BaseNodeService) execProcessSignedTx(a *types.Action) error {
	msg, err := s.firstMessage(a)
	if err != nil {
		return err
	}

	st, err := s.engine.DescribeTx(msg.Content)
	if err != nil {
		return types.WrapCryptoEngine(err)
	}
	if err := s.txRecordRepo.RecordTxIDs(st.TxIDs, msg.SignerIndex, msg.ID); err != nil {
		return err
	}
	if _, err := s.messageRepo.SetMessageProcessedOrSent(msg.ID); err != nil {
		return err
	}

	s.Logger.Log("Recorded %d submitted tx ids from message %d", len(st.TxIDs), msg.ID)

	return nil
}

// addressLock captures the immutability conditions for public addresses.
// Callers hold the lock.
func (s *BaseNodeService) addressLock() (signer.AddressLock, error) {
	messages, err := s.messageRepo.GetAllMessages()
	if err != nil {
		return signer.AddressLock{}, err
	}

	status, err := s.engine.Status()
	if err != nil {
		return signer.AddressLock{}, types.WrapCryptoEngine(err)
	}

	return signer.AddressLock{
		MessagesExist: len(messages) > 0,
		Multisig:      status.Phase != wallet.PhaseNotMultisig,
	}, nil
}

// addPeerMessages queues one copy of the content for every peer slot and
// returns the new message ids.
func (s *BaseNodeService) addPeerMessages(t types.MessageType, content []byte, round uint32, height uint64) ([]uint32, error) {
	registry, err := s.signerRepo.GetRegistry()
	if err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is not initialized: %w", types.ErrNotFound)
	}

	ids := make([]uint32, 0, registry.NumSigners-1)
	for index := uint32(1); index < registry.NumSigners; index++ {
		msg, err := s.messageRepo.AddMessage(&types.Message{
			Type:         t,
			Direction:    types.DirectionOut,
			Content:      content,
			SignerIndex:  index,
			Round:        round,
			WalletHeight: height,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, msg.ID)
	}

	return ids, nil
}

func (s *BaseNodeService) collectWaiting(ids []uint32) ([]*types.Message, error) {
	messages := make([]*types.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.messageRepo.GetMessageByID(id)
		if err != nil {
			return nil, err
		}
		if msg.Direction != types.DirectionIn || msg.State != types.StateWaiting {
			return nil, fmt.Errorf("message %d is %s/%s: %w", id, msg.Direction, msg.State, types.ErrInvalidTransition)
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

func (s *BaseNodeService) firstMessage(a *types.Action) (*types.Message, error) {
	if len(a.MessageIDs) == 0 {
		return nil, fmt.Errorf("action %s references no messages", a.Type)
	}

	return s.messageRepo.GetMessageByID(a.MessageIDs[0])
}

// contentsBySigner orders message contents by sender slot, which is the
// order the wallet engine attributes signer indices in.
func contentsBySigner(messages []*types.Message) [][]byte {
	sorted := make([]*types.Message, len(messages))
	copy(sorted, messages)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].SignerIndex != sorted[j].SignerIndex {
			return sorted[i].SignerIndex < sorted[j].SignerIndex
		}
		return sorted[i].ID < sorted[j].ID
	})

	contents := make([][]byte, len(sorted))
	for i, msg := range sorted {
		contents[i] = msg.Content
	}

	return contents
}

func (s *BaseNodeService) recipientAddr(msg *types.Message) (string, error) {
	if msg.Type == types.MessageTypeAutoConfigData {
		return s.autoConf.JoinRendezvousAddress()
	}

	peer, err := s.signerRepo.GetSigner(msg.SignerIndex)
	if err != nil {
		return "", err
	}
	if peer.TransportAddress == "" {
		return "", fmt.Errorf("transport address of signer %d is unknown: %w", msg.SignerIndex, types.ErrRegistryIncomplete)
	}

	return peer.TransportAddress, nil
}

func (s *BaseNodeService) buildEnvelope(recipientAddr string, msg *types.Message) (*transport.Envelope, error) {
	data, err := encodePayload(msg)
	if err != nil {
		return nil, err
	}

	env := transport.Envelope{
		ID:            uuid.New().String(),
		SenderAddr:    s.transportAddr,
		RecipientAddr: recipientAddr,
		Data:          data,
	}

	signature, err := s.signEnvelope(env.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign envelope: %w", err)
	}
	env.Signature = signature

	return &env, nil
}

func (s *BaseNodeService) signEnvelope(data []byte) ([]byte, error) {
	keyPair, err := s.keyStore.LoadKeys(s.username, "")
	if err != nil {
		return nil, fmt.Errorf("failed to LoadKeys: %w", err)
	}

	return ed25519.Sign(keyPair.Priv, data), nil
}

func verifyEnvelope(env *transport.Envelope) error {
	senderPubKey, err := hex.DecodeString(env.SenderAddr)
	if err != nil || len(senderPubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("sender address %q is not a transport key", env.SenderAddr)
	}
	if !ed25519.Verify(senderPubKey, env.Bytes(), env.Signature) {
		return errors.New("envelope signature does not match sender address")
	}

	return nil
}

func (s *BaseNodeService) loadLastSyncHeight() (uint64, error) {
	key := state.MakeCompositeKeyString(s.topic, LastSyncHeightKey)
	value, err := s.state.Get(key)
	if err != nil {
		return 0, fmt.Errorf("failed to read last sync height: %w", err)
	}
	if len(value) != 8 {
		return 0, nil
	}

	return binary.LittleEndian.Uint64(value), nil
}

func (s *BaseNodeService) saveLastSyncHeight(height uint64) error {
	key := state.MakeCompositeKeyString(s.topic, LastSyncHeightKey)
	value := make([]byte, 8)
	binary.LittleEndian.PutUint64(value, height)
	if err := s.state.Set(key, value); err != nil {
		return fmt.Errorf("failed to save last sync height: %w", err)
	}

	return nil
}

func (s *BaseNodeService) renderMessage(msg *types.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Message %d\n", msg.ID)
	fmt.Fprintf(&b, "Type:        %s\n", msg.Type)
	fmt.Fprintf(&b, "Direction:   %s\n", msg.Direction)
	fmt.Fprintf(&b, "State:       %s\n", msg.State)
	fmt.Fprintf(&b, "Signer:      %d\n", msg.SignerIndex)
	if msg.Round > 0 {
		fmt.Fprintf(&b, "Round:       %d\n", msg.Round)
	}
	if msg.WalletHeight > 0 {
		fmt.Fprintf(&b, "Height:      %d\n", msg.WalletHeight)
	}
	fmt.Fprintf(&b, "Created:     %s\n", msg.CreatedAt.Format(time.RFC3339))
	if !msg.SentAt.IsZero() {
		fmt.Fprintf(&b, "Sent:        %s\n", msg.SentAt.Format(time.RFC3339))
	}

	switch msg.Type {
	case types.MessageTypeNote:
		fmt.Fprintf(&b, "Note:\n%s\n", string(msg.Content))
	case types.MessageTypeSignerConfig:
		var registry types.Registry
		if err := json.Unmarshal(msg.Content, &registry); err == nil {
			pretty, _ := json.MarshalIndent(&registry, "", "  ")
			fmt.Fprintf(&b, "Signer config:\n%s\n", pretty)
		} else {
			fmt.Fprintf(&b, "Content:     %d bytes (unparseable signer config)\n", len(msg.Content))
		}
	case types.MessageTypeAutoConfigData:
		fmt.Fprintf(&b, "Content:     sealed auto-config payload, %d bytes\n", len(msg.Content))
	default:
		if kind, err := wallet.ProbeBlob(msg.Content); err == nil {
			fmt.Fprintf(&b, "Content:     %s blob, %d bytes\n", kind, len(msg.Content))
		} else {
			fmt.Fprintf(&b, "Content:     %d bytes\n", len(msg.Content))
		}
	}

	return b.String()
}

// envelopePayload is what actually travels inside Envelope.Data. The
// receiver needs the type and round to file the content correctly; the
// content itself stays opaque.
type envelopePayload struct {
	Type         types.MessageType `json:"type"`
	Content      []byte            `json:"content"`
	Round        uint32            `json:"round"`
	WalletHeight uint64            `json:"wallet_height"`
}

func encodePayload(msg *types.Message) ([]byte, error) {
	data, err := json.Marshal(&envelopePayload{
		Type:         msg.Type,
		Content:      msg.Content,
		Round:        msg.Round,
		WalletHeight: msg.WalletHeight,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope payload: %w", err)
	}

	return data, nil
}

func decodePayload(data []byte) (*envelopePayload, error) {
	var payload envelopePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope payload: %w", err)
	}
	if _, err := types.ParseMessageType(string(payload.Type)); err != nil {
		return nil, err
	}

	return &payload, nil
}
