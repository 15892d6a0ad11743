package wallet

// Status is a snapshot of the engine-side wallet, captured before every
// processing run. The coordinator never caches it across runs.
type Status struct {
	Phase     Phase  `json:"phase"`
	Round     uint32 `json:"round"`
	Threshold uint32 `json:"threshold"`
	Signers   uint32 `json:"signers"`
	Address   string `json:"address"`
	Height    uint64 `json:"height"`
	SyncRound uint32 `json:"sync_round"`
}

// TxState is the engine's view of one transaction blob.
type TxState struct {
	TxIDs []string `json:"tx_ids"`
	// SignedBy holds registry indices of the signers whose signatures
	// the blob already carries, in registry order.
	SignedBy []uint32 `json:"signed_by"`
	Complete bool     `json:"complete"`
}

// Signed reports whether the signer at the given registry index has
// already signed the transaction.
func (t *TxState) Signed(index uint32) bool {
	for _, idx := range t.SignedBy {
		if idx == index {
			return true
		}
	}
	return false
}

// ExchangeResult is the outcome of one key exchange round.
type ExchangeResult struct {
	// NextKeySet is the material for the following round, nil once the
	// exchange finished.
	NextKeySet []byte `json:"next_key_set,omitempty"`
	Finalized  bool   `json:"finalized"`
	Address    string `json:"address,omitempty"`
}

// SignResult is the outcome of adding the local signature to a tx blob.
type SignResult struct {
	SignedTx []byte   `json:"signed_tx"`
	TxIDs    []string `json:"tx_ids"`
	Complete bool     `json:"complete"`
}

// Engine is the crypto/wallet boundary. The coordinator treats every
// []byte crossing it as an opaque blob (see SealBlob/OpenBlob) and maps
// engine failures to its own error taxonomy.
//
// PrepareMultisig, MakeMultisig and ExchangeMultisigKeys are idempotent:
// calling them again with the same inputs returns the same result.
type Engine interface {
	Status() (*Status, error)
	Refresh() error

	PrepareMultisig() ([]byte, error)
	MakeMultisig(threshold uint32, keySets [][]byte) (*ExchangeResult, error)
	ExchangeMultisigKeys(keySets [][]byte) (*ExchangeResult, error)

	ExportSyncData() ([]byte, error)
	ImportSyncData(blobs [][]byte) (uint32, error)

	CreateTransfer(destination string, amount uint64) ([]byte, error)
	SignTx(tx []byte) (*SignResult, error)
	SubmitTx(signedTx []byte) (string, error)
	DescribeTx(tx []byte) (*TxState, error)
}
