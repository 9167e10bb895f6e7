package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// wal is an append-only, newline-delimited-JSON log: every mutation is
// durably recorded before it is applied to the in-memory indexes,
// generalizing the teacher's store.WAL from a single key→Value op to the
// item/group/member/device record kinds this store needs.
type wal struct {
	mu   sync.Mutex
	file *os.File
	log  *logrus.Entry
}

type walOp string

const (
	opPutItem      walOp = "PUT_ITEM"
	opPutGroup     walOp = "PUT_GROUP"
	opPutMember    walOp = "PUT_MEMBER"
	opRemoveMember walOp = "REMOVE_MEMBER"
	opPutDevice    walOp = "PUT_DEVICE"
	opRevokeDevice walOp = "REVOKE_DEVICE"
)

type walEntry struct {
	Op     walOp   `json:"op"`
	Item   *Item   `json:"item,omitempty"`
	Group  *Group  `json:"group,omitempty"`
	Member *Member `json:"member,omitempty"`
	Device *Device `json:"device,omitempty"`
	Key    string  `json:"key,omitempty"`
}

func newWAL(path string, log *logrus.Entry) (*wal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &wal{file: f, log: log}, nil
}

// append serialises entry as JSON and fsyncs — the "D" in ACID. Without
// Sync a crash could lose the entry even though Write returned nil.
func (w *wal) append(e walEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.file.Write(data); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *wal) readAll() ([]walEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, 0); err != nil {
		return nil, err
	}

	var entries []walEntry
	scanner := bufio.NewScanner(w.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*MaxPayloadBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e walEntry
		if err := json.Unmarshal(line, &e); err != nil {
			w.log.WithError(err).Warn("skipping corrupt wal entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func (w *wal) truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, 0)
	return err
}

func (w *wal) close() error {
	return w.file.Close()
}
