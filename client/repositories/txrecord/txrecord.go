package txrecord

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/depools/mms/client/modules/state"
)

const (
	TxRecordsKey = "tx_records"
)

// TxRecord remembers a transaction that left the signing flow: either
// submitted to the network by this node or announced by a peer via a
// FullySignedTx broadcast. Its presence is what stops double submits.
type TxRecord struct {
	TxID        string    `json:"tx_id"`
	SubmittedBy uint32    `json:"submitted_by"`
	MessageID   uint32    `json:"message_id"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type TxRecordRepo interface {
	RecordTxIDs(txIDs []string, submittedBy uint32, messageID uint32) error
	Submitted(txID string) (bool, error)
	SubmittedTxIDs() (map[string]struct{}, error)
	GetAllRecords() ([]TxRecord, error)
}

type BaseTxRecordRepo struct {
	state                 state.State
	txRecordsCompositeKey string
}

func NewTxRecordRepo(s state.State, topic string) *BaseTxRecordRepo {
	return &BaseTxRecordRepo{
		state:                 s,
		txRecordsCompositeKey: state.MakeCompositeKeyString(topic, TxRecordsKey),
	}
}

// RecordTxIDs stores one record per tx id. Recording an already known
// id keeps the earlier record.
func (r *BaseTxRecordRepo) RecordTxIDs(txIDs []string, submittedBy uint32, messageID uint32) error {
	records, err := r.getRecordMap()
	if err != nil {
		return err
	}

	for _, txID := range txIDs {
		if txID == "" {
			continue
		}
		if _, ok := records[txID]; ok {
			continue
		}
		records[txID] = TxRecord{
			TxID:        txID,
			SubmittedBy: submittedBy,
			MessageID:   messageID,
			RecordedAt:  time.Now(),
		}
	}

	return r.saveRecordMap(records)
}

func (r *BaseTxRecordRepo) Submitted(txID string) (bool, error) {
	records, err := r.getRecordMap()
	if err != nil {
		return false, err
	}

	_, ok := records[txID]
	return ok, nil
}

// SubmittedTxIDs returns the known tx ids as a set, the shape the
// processing engine consumes.
func (r *BaseTxRecordRepo) SubmittedTxIDs() (map[string]struct{}, error) {
	records, err := r.getRecordMap()
	if err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(records))
	for txID := range records {
		ids[txID] = struct{}{}
	}

	return ids, nil
}

func (r *BaseTxRecordRepo) GetAllRecords() ([]TxRecord, error) {
	records, err := r.getRecordMap()
	if err != nil {
		return nil, err
	}

	result := make([]TxRecord, 0, len(records))
	for _, record := range records {
		result = append(result, record)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RecordedAt.Before(result[j].RecordedAt) })

	return result, nil
}

func (r *BaseTxRecordRepo) getRecordMap() (map[string]TxRecord, error) {
	bz, err := r.state.Get(r.txRecordsCompositeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get tx records (key: %s): %w", r.txRecordsCompositeKey, err)
	}

	if bz == nil {
		return make(map[string]TxRecord), nil
	}

	var records map[string]TxRecord
	if err := json.Unmarshal(bz, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tx records: %w", err)
	}

	return records, nil
}

func (r *BaseTxRecordRepo) saveRecordMap(records map[string]TxRecord) error {
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal tx records: %w", err)
	}

	if err := r.state.Set(r.txRecordsCompositeKey, recordsJSON); err != nil {
		return fmt.Errorf("failed to save tx records: %w", err)
	}

	return nil
}
