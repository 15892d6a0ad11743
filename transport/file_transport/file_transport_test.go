package file_transport

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/depools/mms/transport"
)

func randomBytes(n int) []byte {
	rand.Seed(time.Now().UnixNano())
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil
	}
	return b
}

func newTestTransport(t *testing.T) transport.Gateway {
	t.Helper()

	dir := t.TempDir()
	gw, err := NewFileTransport(filepath.Join(dir, "transport"), filepath.Join(dir, "transport.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	return gw
}

func TestFileTransport_SendGetEnvelopes(t *testing.T) {
	req := require.New(t)
	gw := newTestTransport(t)

	N := 10
	envelopes := make([]transport.Envelope, 0, N)
	for i := 0; i < N; i++ {
		envelopes = append(envelopes, transport.Envelope{
			ID:         randomString(8),
			SenderAddr: "sender",
			Data:       randomBytes(16),
			Signature:  randomBytes(16),
		})
	}

	err := gw.Send(envelopes...)
	req.NoError(err)

	got, err := gw.GetEnvelopes(0)
	req.NoError(err)
	req.Len(got, N)
	for i, env := range got {
		req.Equal(uint64(i), env.Offset)
		req.Equal(envelopes[i].ID, env.ID)
		req.Equal(envelopes[i].Data, env.Data)
	}
}

func TestFileTransport_GetEnvelopesFromOffset(t *testing.T) {
	req := require.New(t)
	gw := newTestTransport(t)

	for i := 0; i < 5; i++ {
		err := gw.Send(transport.Envelope{ID: randomString(8), SenderAddr: "sender", Data: randomBytes(8)})
		req.NoError(err)
	}

	got, err := gw.GetEnvelopes(3)
	req.NoError(err)
	req.Len(got, 2)
	req.Equal(uint64(3), got[0].Offset)
	req.Equal(uint64(4), got[1].Offset)

	got, err = gw.GetEnvelopes(5)
	req.NoError(err)
	req.Len(got, 0)
}

func TestFileTransport_SharedFile(t *testing.T) {
	req := require.New(t)

	dir := t.TempDir()
	dataFile := filepath.Join(dir, "transport")
	lockFile := filepath.Join(dir, "transport.lock")

	a, err := NewFileTransport(dataFile, lockFile)
	req.NoError(err)
	defer a.Close()
	b, err := NewFileTransport(dataFile, lockFile)
	req.NoError(err)
	defer b.Close()

	req.NoError(a.Send(transport.Envelope{ID: "first", SenderAddr: "a", Data: []byte("1")}))
	req.NoError(b.Send(transport.Envelope{ID: "second", SenderAddr: "b", Data: []byte("2")}))

	// Both ends observe the same append order.
	got, err := a.GetEnvelopes(0)
	req.NoError(err)
	req.Len(got, 2)
	req.Equal("first", got[0].ID)
	req.Equal("second", got[1].ID)

	got, err = b.GetEnvelopes(1)
	req.NoError(err)
	req.Len(got, 1)
	req.Equal("second", got[0].ID)
	req.Equal(uint64(1), got[0].Offset)
}

func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
