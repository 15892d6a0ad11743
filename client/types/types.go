package types

import (
	"fmt"
	"time"
)

// MessageType tells the processing engine what a message body means.
// The body itself stays opaque to the coordinator for every type
// produced by the wallet engine.
type MessageType string

const (
	MessageTypeKeySet            MessageType = "key_set"
	MessageTypeAdditionalKeySet  MessageType = "additional_key_set"
	MessageTypeSignerConfig      MessageType = "signer_config"
	MessageTypeNote              MessageType = "note"
	MessageTypePartiallySignedTx MessageType = "partially_signed_tx"
	MessageTypeFullySignedTx     MessageType = "fully_signed_tx"
	MessageTypeMultisigSyncData  MessageType = "multisig_sync_data"
	MessageTypeAutoConfigData    MessageType = "auto_config_data"
)

var messageTypes = map[MessageType]struct{}{
	MessageTypeKeySet:            {},
	MessageTypeAdditionalKeySet:  {},
	MessageTypeSignerConfig:      {},
	MessageTypeNote:              {},
	MessageTypePartiallySignedTx: {},
	MessageTypeFullySignedTx:     {},
	MessageTypeMultisigSyncData:  {},
	MessageTypeAutoConfigData:    {},
}

func ParseMessageType(s string) (MessageType, error) {
	t := MessageType(s)
	if _, ok := messageTypes[t]; !ok {
		return "", fmt.Errorf("unknown message type %q", s)
	}
	return t, nil
}

func (t MessageType) String() string {
	return string(t)
}

// IsTx reports whether the message carries transaction material that the
// wallet engine can describe and extend with signatures.
func (t MessageType) IsTx() bool {
	return t == MessageTypePartiallySignedTx || t == MessageTypeFullySignedTx
}

type MessageDirection string

const (
	DirectionIn  MessageDirection = "in"
	DirectionOut MessageDirection = "out"
)

type MessageState string

const (
	StateWaiting     MessageState = "waiting"
	StateReadyToSend MessageState = "ready_to_send"
	StateSent        MessageState = "sent"
	StateProcessed   MessageState = "processed"
)

// Message is a single entry of the message store. Content is immutable
// after creation; only State and ModifiedAt/SentAt change afterwards.
type Message struct {
	ID           uint32           `json:"id"`
	Type         MessageType      `json:"type"`
	Direction    MessageDirection `json:"direction"`
	State        MessageState     `json:"state"`
	Content      []byte           `json:"content"`
	SignerIndex  uint32           `json:"signer_index"`
	Round        uint32           `json:"round"`
	WalletHeight uint64           `json:"wallet_height"`
	TransportID  string           `json:"transport_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	ModifiedAt   time.Time        `json:"modified_at"`
	SentAt       time.Time        `json:"sent_at,omitempty"`
}

// CompletedState returns the state a message enters once it has been
// handled: inbound waiting messages become processed, outbound ready
// messages become sent. Any other combination is an illegal transition.
func (m *Message) CompletedState() (MessageState, error) {
	switch {
	case m.Direction == DirectionIn && m.State == StateWaiting:
		return StateProcessed, nil
	case m.Direction == DirectionOut && m.State == StateReadyToSend:
		return StateSent, nil
	default:
		return "", fmt.Errorf("message %d is %s/%s: %w", m.ID, m.Direction, m.State, ErrInvalidTransition)
	}
}

// Signer is one registry slot. Index 0 is always the local signer.
type Signer struct {
	Index             uint32 `json:"index"`
	Label             string `json:"label"`
	TransportAddress  string `json:"transport_address"`
	PublicAddress     string `json:"public_address"`
	AddressKnown      bool   `json:"address_known"`
	AutoConfigToken   string `json:"auto_config_token,omitempty"`
	AutoConfigRunning bool   `json:"auto_config_running,omitempty"`
}

func (s *Signer) Me() bool {
	return s.Index == 0
}

// Registry is the full signer configuration of an M-of-N wallet.
type Registry struct {
	Threshold  uint32   `json:"threshold"`
	NumSigners uint32   `json:"num_signers"`
	Signers    []Signer `json:"signers"`
}

const (
	MinSigners = 2
	MaxSigners = 100
)

// Validate checks the M-of-N bounds and the slot layout.
func (r *Registry) Validate() error {
	if r.NumSigners < MinSigners || r.NumSigners > MaxSigners {
		return fmt.Errorf("num_signers %d out of range [%d, %d]", r.NumSigners, MinSigners, MaxSigners)
	}
	if r.Threshold < MinSigners || r.Threshold > r.NumSigners {
		return fmt.Errorf("threshold %d out of range [%d, %d]", r.Threshold, MinSigners, r.NumSigners)
	}
	if uint32(len(r.Signers)) != r.NumSigners {
		return fmt.Errorf("registry has %d signer slots, want %d", len(r.Signers), r.NumSigners)
	}
	for i, s := range r.Signers {
		if s.Index != uint32(i) {
			return fmt.Errorf("signer slot %d holds index %d", i, s.Index)
		}
	}
	return nil
}

// LabelsComplete reports whether every slot carries a label.
func (r *Registry) LabelsComplete() bool {
	for _, s := range r.Signers {
		if s.Label == "" {
			return false
		}
	}
	return len(r.Signers) > 0
}

// ConfigComplete reports whether every slot carries both a transport and
// a public address, i.e. key exchange may start.
func (r *Registry) ConfigComplete() bool {
	for _, s := range r.Signers {
		if s.TransportAddress == "" || !s.AddressKnown {
			return false
		}
	}
	return len(r.Signers) > 0
}

// ActionType names the next step the processing engine wants executed.
type ActionType string

const (
	ActionProcessSignerConfig   ActionType = "process_signer_config"
	ActionProcessAutoConfigData ActionType = "process_auto_config_data"
	ActionPrepareMultisig       ActionType = "prepare_multisig"
	ActionMakeMultisig          ActionType = "make_multisig"
	ActionExchangeMultisigKeys  ActionType = "exchange_multisig_keys"
	ActionCreateSyncData        ActionType = "create_sync_data"
	ActionProcessSyncData       ActionType = "process_sync_data"
	ActionSignTx                ActionType = "sign_tx"
	ActionSendTx                ActionType = "send_tx"
	ActionSubmitTx              ActionType = "submit_tx"
	ActionProcessSignedTx       ActionType = "process_signed_tx"
)

// Action references store messages by id, never by content. MessageIDs
// are ascending. Recipient is only meaningful for ActionSendTx.
type Action struct {
	Type       ActionType `json:"type"`
	MessageIDs []uint32   `json:"message_ids,omitempty"`
	Recipient  uint32     `json:"recipient,omitempty"`
}

func (a Action) String() string {
	if a.Type == ActionSendTx {
		return fmt.Sprintf("%s(messages=%v, to=%d)", a.Type, a.MessageIDs, a.Recipient)
	}
	return fmt.Sprintf("%s(messages=%v)", a.Type, a.MessageIDs)
}

// Decision is the full output of one processing run. An empty Actions
// list always comes with a human-readable WaitReason.
type Decision struct {
	Actions    []Action `json:"actions"`
	WaitReason string   `json:"wait_reason,omitempty"`
}

func (d *Decision) Idle() bool {
	return len(d.Actions) == 0
}
