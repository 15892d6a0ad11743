package transport

import "bytes"

// Envelope is the unit a gateway carries between signers. The sender
// assigns ID (UUID4) and signs; the transport assigns Offset on append.
type Envelope struct {
	ID            string `json:"id"`
	SenderAddr    string `json:"sender"`
	RecipientAddr string `json:"recipient,omitempty"`
	Data          []byte `json:"data"`
	Signature     []byte `json:"signature"`
	Offset        uint64 `json:"offset"`
}

// Bytes returns the deterministic serialization covered by the envelope
// signature. Offset and Signature are excluded.
func (e *Envelope) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(e.ID)
	buf.WriteString(e.SenderAddr)
	buf.WriteString(e.RecipientAddr)
	buf.Write(e.Data)
	return buf.Bytes()
}

// Broadcast reports whether the envelope is addressed to every signer.
func (e *Envelope) Broadcast() bool {
	return e.RecipientAddr == ""
}

// Gateway is the store-and-forward transport boundary. Implementations
// must keep envelopes in a stable order and deliver them at-least-once;
// the node deduplicates on envelope ID.
type Gateway interface {
	Send(envelopes ...Envelope) error
	GetEnvelopes(offset uint64) ([]Envelope, error)
	Close() error
}
