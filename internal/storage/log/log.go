package log

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// Log is the append-only commit log: one entry per committed record version.
// Only values and version stamps are persisted; lock words are in-memory
// state and never hit disk.
//
// Frame format: Len(4) | Payload(N) | CRC(4), payload owned by the caller.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// Entry is one committed version.
type Entry struct {
	Epoch   uint32
	Ordinal uint32
	Deleted bool
	Key     []byte
	Value   []byte
}

// Open opens or creates the commit log at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &Log{f: f, path: path}, nil
}

// Payload layout: epoch(4) | ordinal(4) | flags(1) | keyLen(4) | key | value.
func (e *Entry) encode() []byte {
	buf := make([]byte, 13+len(e.Key)+len(e.Value))
	binary.BigEndian.PutUint32(buf[0:], e.Epoch)
	binary.BigEndian.PutUint32(buf[4:], e.Ordinal)
	if e.Deleted {
		buf[8] = 1
	}
	binary.BigEndian.PutUint32(buf[9:], uint32(len(e.Key)))
	copy(buf[13:], e.Key)
	copy(buf[13+len(e.Key):], e.Value)
	return buf
}

func decodeEntry(payload []byte) (Entry, error) {
	if len(payload) < 13 {
		return Entry{}, fmt.Errorf("commit log entry too short: %d bytes", len(payload))
	}
	keyLen := binary.BigEndian.Uint32(payload[9:])
	if 13+int(keyLen) > len(payload) {
		return Entry{}, fmt.Errorf("commit log entry key length %d exceeds payload", keyLen)
	}
	e := Entry{
		Epoch:   binary.BigEndian.Uint32(payload[0:]),
		Ordinal: binary.BigEndian.Uint32(payload[4:]),
		Deleted: payload[8] == 1,
	}
	e.Key = append([]byte(nil), payload[13:13+keyLen]...)
	e.Value = append([]byte(nil), payload[13+keyLen:]...)
	return e, nil
}

// Append durably writes one entry.
func (l *Log) Append(e Entry) error {
	payload := e.encode()

	l.mu.Lock()
	defer l.mu.Unlock()

	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	if _, err := l.f.Write(buf); err != nil {
		return err
	}
	if _, err := l.f.Write(payload); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(payload))
	if _, err := l.f.Write(buf); err != nil {
		return err
	}
	return l.f.Sync()
}

// Replay reads every entry from the start, calling handler for each. Used at
// engine startup before any worker runs, so entries apply without locks.
func (l *Log) Replay(handler func(Entry) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(l.f, lenBuf); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		length := binary.BigEndian.Uint32(lenBuf)

		payload := make([]byte, length)
		if _, err := io.ReadFull(l.f, payload); err != nil {
			return err
		}

		if _, err := io.ReadFull(l.f, lenBuf); err != nil {
			return err
		}
		if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(lenBuf) {
			return fmt.Errorf("commit log corruption in %s", l.path)
		}

		e, err := decodeEntry(payload)
		if err != nil {
			return err
		}
		if err := handler(e); err != nil {
			return err
		}
	}

	// Back to the end for appending.
	_, err := l.f.Seek(0, io.SeekEnd)
	return err
}

func (l *Log) Close() error {
	return l.f.Close()
}
