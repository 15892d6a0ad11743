package file_transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/depools/mms/transport"

	"github.com/juju/fslock"
)

var _ transport.Gateway = (*FileTransport)(nil)

// FileTransport is an append-only shared file acting as a bulletin
// board. Good enough for local setups and tests; every node tails the
// same file and filters by recipient.
type FileTransport struct {
	lockFile *fslock.Lock

	dataFile *os.File
}

const (
	defaultLockFile = "/tmp/mms_transport_lock"
)

func countLines(r io.Reader) uint64 {
	var count uint64
	fileScanner := bufio.NewScanner(r)

	for fileScanner.Scan() {
		count++
	}

	return count
}

// NewFileTransport inits an append-only file gateway.
// It takes two arguments: filename - path to a data file, lockFilename (optional) - path to a lock file
func NewFileTransport(filename string, lockFilename ...string) (transport.Gateway, error) {
	var (
		ft  FileTransport
		err error
	)
	if len(lockFilename) > 0 {
		ft.lockFile = fslock.New(lockFilename[0])
	} else {
		ft.lockFile = fslock.New(defaultLockFile)
	}

	if ft.dataFile, err = os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644); err != nil {
		return nil, fmt.Errorf("failed to open a data file: %v", err)
	}
	return &ft, nil
}

func (ft *FileTransport) send(e transport.Envelope) (transport.Envelope, error) {
	var (
		data []byte
		err  error
	)
	if err = ft.lockFile.Lock(); err != nil {
		return e, fmt.Errorf("failed to lock a file: %v", err)
	}
	defer ft.lockFile.Unlock()

	if _, err = ft.dataFile.Seek(0, 0); err != nil { // otherwise countLines will return zero
		return e, fmt.Errorf("failed to seek a offset to the start of a data file: %v", err)
	}
	e.Offset = countLines(ft.dataFile)

	if data, err = json.Marshal(e); err != nil {
		return e, fmt.Errorf("failed to marshal an envelope %v: %v", e, err)
	}

	if _, err = fmt.Fprintln(ft.dataFile, string(data)); err != nil {
		return e, fmt.Errorf("failed to write an envelope to a data file: %v", err)
	}
	return e, err
}

// Send appends the given envelopes to the data file, assigning offsets.
func (ft *FileTransport) Send(envelopes ...transport.Envelope) error {
	var err error
	for i, e := range envelopes {
		envelopes[i], err = ft.send(e)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetEnvelopes returns every envelope appended at or after the given offset.
func (ft *FileTransport) GetEnvelopes(offset uint64) ([]transport.Envelope, error) {
	var (
		envelopes []transport.Envelope
		err       error
		row       []byte
		data      transport.Envelope
	)
	if _, err = ft.dataFile.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("failed to seek a offset to the start of a data file: %v", err)
	}
	scanner := bufio.NewScanner(ft.dataFile)
	for scanner.Scan() {
		if offset > 0 {
			offset--
			continue
		}

		row = scanner.Bytes()
		if err = json.Unmarshal(row, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal an envelope %s: %v", string(row), err)
		}
		envelopes = append(envelopes, data)
	}
	if scanner.Err() != nil {
		return nil, fmt.Errorf("failed to read a data file: %v", scanner.Err())
	}
	return envelopes, nil
}

func (ft *FileTransport) Close() error {
	return ft.dataFile.Close()
}
