package wallet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Every payload crossing the engine boundary travels in a small binary
// frame so peers running different engine builds fail loudly instead of
// misparsing each other:
//
//	magic (4) | version (1) | kind (1) | payload length (4, BE) | payload
//
// The coordinator validates frames and never inspects payloads.

const (
	blobMagic   = "MMSB"
	BlobVersion = 1

	blobHeaderLen = 4 + 1 + 1 + 4
)

type BlobKind uint8

const (
	BlobKeySet BlobKind = iota + 1
	BlobSyncData
	BlobTx
)

func (k BlobKind) String() string {
	switch k {
	case BlobKeySet:
		return "key_set"
	case BlobSyncData:
		return "sync_data"
	case BlobTx:
		return "tx"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// SealBlob wraps an engine payload into the wire frame.
func SealBlob(kind BlobKind, payload []byte) []byte {
	out := make([]byte, 0, blobHeaderLen+len(payload))
	out = append(out, blobMagic...)
	out = append(out, BlobVersion, byte(kind))

	var lenBz [4]byte
	binary.BigEndian.PutUint32(lenBz[:], uint32(len(payload)))
	out = append(out, lenBz[:]...)

	return append(out, payload...)
}

// OpenBlob validates the frame and returns the payload. The kind must
// match what the caller expects for the message that carried the blob.
func OpenBlob(wantKind BlobKind, blob []byte) ([]byte, error) {
	kind, payload, err := parseBlob(blob)
	if err != nil {
		return nil, err
	}
	if kind != wantKind {
		return nil, fmt.Errorf("blob kind is %s, want %s", kind, wantKind)
	}
	return payload, nil
}

// ProbeBlob returns the kind of a framed blob without unpacking it.
func ProbeBlob(blob []byte) (BlobKind, error) {
	kind, _, err := parseBlob(blob)
	return kind, err
}

func parseBlob(blob []byte) (BlobKind, []byte, error) {
	if len(blob) < blobHeaderLen {
		return 0, nil, fmt.Errorf("blob too short: %d bytes", len(blob))
	}
	if !bytes.Equal(blob[:4], []byte(blobMagic)) {
		return 0, nil, fmt.Errorf("bad blob magic %q", blob[:4])
	}
	if blob[4] != BlobVersion {
		return 0, nil, fmt.Errorf("unsupported blob version %d", blob[4])
	}

	kind := BlobKind(blob[5])
	payloadLen := binary.BigEndian.Uint32(blob[6:10])
	if uint32(len(blob)-blobHeaderLen) != payloadLen {
		return 0, nil, fmt.Errorf("blob payload length mismatch: header says %d, got %d",
			payloadLen, len(blob)-blobHeaderLen)
	}

	return kind, blob[blobHeaderLen:], nil
}
