package message

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/depools/mms/client/modules/state"
	"github.com/depools/mms/client/types"
)

const (
	MessagesKey       = "messages"
	MessageCounterKey = "next_message_id"
)

// MessageRepo is the durable store of coordination messages. Ids are
// assigned from a persisted counter and never reused, not even after
// DeleteAllMessages.
type MessageRepo interface {
	AddMessage(draft *types.Message) (*types.Message, error)
	GetAllMessages() ([]*types.Message, error)
	GetMessageByID(id uint32) (*types.Message, error)
	SetMessageProcessedOrSent(id uint32) (*types.Message, error)
	DeleteMessage(id uint32) error
	DeleteAllMessages() error
	SeenTransportID(transportID string) (bool, error)
}

type BaseMessageRepo struct {
	state                state.State
	messagesCompositeKey string
	counterCompositeKey  string
}

func NewMessageRepo(s state.State, topic string) (*BaseMessageRepo, error) {
	repo := &BaseMessageRepo{
		state:                s,
		messagesCompositeKey: state.MakeCompositeKeyString(topic, MessagesKey),
		counterCompositeKey:  state.MakeCompositeKeyString(topic, MessageCounterKey),
	}

	if err := repo.initJsonKey(repo.messagesCompositeKey); err != nil {
		return nil, fmt.Errorf("failed to init %s storage: %w", repo.messagesCompositeKey, err)
	}

	return repo, nil
}

// AddMessage stores a draft message filled by the caller (type,
// direction, content, signer index, round, wallet height, transport id)
// and returns it with the assigned id, state and timestamps.
func (r *BaseMessageRepo) AddMessage(draft *types.Message) (*types.Message, error) {
	if _, err := types.ParseMessageType(string(draft.Type)); err != nil {
		return nil, err
	}

	messages, err := r.getMessageMap()
	if err != nil {
		return nil, err
	}

	id, err := r.nextMessageID()
	if err != nil {
		return nil, err
	}

	m := *draft
	m.ID = id
	switch m.Direction {
	case types.DirectionIn:
		m.State = types.StateWaiting
	case types.DirectionOut:
		m.State = types.StateReadyToSend
	default:
		return nil, fmt.Errorf("unknown message direction %q", m.Direction)
	}
	now := time.Now()
	m.CreatedAt = now
	m.ModifiedAt = now

	messages[m.ID] = &m
	if err := r.saveMessageMap(messages); err != nil {
		return nil, err
	}

	return &m, nil
}

// GetAllMessages returns every stored message in ascending id order.
func (r *BaseMessageRepo) GetAllMessages() ([]*types.Message, error) {
	messages, err := r.getMessageMap()
	if err != nil {
		return nil, err
	}

	result := make([]*types.Message, 0, len(messages))
	for _, m := range messages {
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (r *BaseMessageRepo) GetMessageByID(id uint32) (*types.Message, error) {
	messages, err := r.getMessageMap()
	if err != nil {
		return nil, err
	}

	m, ok := messages[id]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, types.ErrNotFound)
	}

	return m, nil
}

// SetMessageProcessedOrSent moves a message into its terminal state:
// waiting inbound messages become processed, ready outbound messages
// become sent. Any other transition fails and changes nothing.
func (r *BaseMessageRepo) SetMessageProcessedOrSent(id uint32) (*types.Message, error) {
	messages, err := r.getMessageMap()
	if err != nil {
		return nil, err
	}

	m, ok := messages[id]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, types.ErrNotFound)
	}

	next, err := m.CompletedState()
	if err != nil {
		return nil, err
	}

	m.State = next
	m.ModifiedAt = time.Now()
	if next == types.StateSent {
		m.SentAt = m.ModifiedAt
	}

	if err := r.saveMessageMap(messages); err != nil {
		return nil, err
	}

	return m, nil
}

func (r *BaseMessageRepo) DeleteMessage(id uint32) error {
	messages, err := r.getMessageMap()
	if err != nil {
		return err
	}

	if _, ok := messages[id]; !ok {
		return fmt.Errorf("message %d: %w", id, types.ErrNotFound)
	}

	delete(messages, id)

	return r.saveMessageMap(messages)
}

// DeleteAllMessages wipes the store but keeps the id counter, so ids of
// deleted messages are never handed out again.
func (r *BaseMessageRepo) DeleteAllMessages() error {
	return r.saveMessageMap(map[uint32]*types.Message{})
}

// SeenTransportID reports whether any stored message was ingested from
// the envelope with the given transport id.
func (r *BaseMessageRepo) SeenTransportID(transportID string) (bool, error) {
	if transportID == "" {
		return false, nil
	}

	messages, err := r.getMessageMap()
	if err != nil {
		return false, err
	}

	for _, m := range messages {
		if m.TransportID == transportID {
			return true, nil
		}
	}

	return false, nil
}

func (r *BaseMessageRepo) nextMessageID() (uint32, error) {
	var next uint32 = 1

	bz, err := r.state.Get(r.counterCompositeKey)
	if err != nil {
		return 0, fmt.Errorf("failed to get message counter: %w", err)
	}
	if len(bz) == 4 {
		next = binary.LittleEndian.Uint32(bz)
	}

	counterBz := make([]byte, 4)
	binary.LittleEndian.PutUint32(counterBz, next+1)
	if err := r.state.Set(r.counterCompositeKey, counterBz); err != nil {
		return 0, fmt.Errorf("failed to save message counter: %w", err)
	}

	return next, nil
}

func (r *BaseMessageRepo) getMessageMap() (map[uint32]*types.Message, error) {
	bz, err := r.state.Get(r.messagesCompositeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages (key: %s): %w", r.messagesCompositeKey, err)
	}

	if bz == nil {
		return make(map[uint32]*types.Message), nil
	}

	var messages map[uint32]*types.Message
	if err := json.Unmarshal(bz, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}

	return messages, nil
}

func (r *BaseMessageRepo) saveMessageMap(messages map[uint32]*types.Message) error {
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	if err := r.state.Set(r.messagesCompositeKey, messagesJSON); err != nil {
		return fmt.Errorf("failed to put messages: %w", err)
	}

	return nil
}

func (r *BaseMessageRepo) initJsonKey(key string) error {
	bz, err := r.state.Get(key)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if bz != nil {
		return nil
	}

	if err := r.state.Set(key, []byte("{}")); err != nil {
		return fmt.Errorf("failed to init state: %w", err)
	}

	return nil
}
