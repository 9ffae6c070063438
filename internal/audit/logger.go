package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/glinharesb/sep-go/internal/enclave"
)

const (
	StatusOK    = "OK"
	StatusError = "ERROR"

	fingerprintSize = 8
)

// Entry represents an audit log entry.
type Entry struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Operation   string            `json:"operation"`
	KeyID       string            `json:"key_id,omitempty"`
	Status      string            `json:"status"`
	Code        int               `json:"code,omitempty"`
	PeerAddress string            `json:"peer_address,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Subscriber receives audit entries via a channel.
type Subscriber struct {
	C  chan Entry
	id string
}

// Logger is an async audit logger that decouples the critical path from log writes.
type Logger struct {
	entries chan Entry
	out     io.Writer
	logger  *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	store       []Entry
	closed      bool

	done chan struct{}
}

// NewLogger creates a logger with the given buffer size and output writer.
// Diagnostics about the audit pipeline itself go to zl.
func NewLogger(bufferSize int, out io.Writer, zl *zap.Logger) *Logger {
	if zl == nil {
		zl = zap.NewNop()
	}
	l := &Logger{
		entries:     make(chan Entry, bufferSize),
		out:         out,
		logger:      zl,
		subscribers: make(map[string]*Subscriber),
		done:        make(chan struct{}),
	}
	go l.processLoop()
	return l
}

// Fingerprint identifies a sealed key in audit records without decoding it:
// the hex of the first 8 bytes of its SHA-256.
func Fingerprint(sealed []byte) string {
	if len(sealed) == 0 {
		return ""
	}
	sum := sha256.Sum256(sealed)
	return hex.EncodeToString(sum[:fingerprintSize])
}

// Record implements enclave.Auditor.
func (l *Logger) Record(op string, sealed []byte, err error) {
	l.record(op, sealed, "", err)
}

// ForPeer returns an enclave.Auditor that records into l and stamps every
// entry with addr, the remote address of the caller.
func (l *Logger) ForPeer(addr string) enclave.Auditor {
	return peerAuditor{l: l, addr: addr}
}

type peerAuditor struct {
	l    *Logger
	addr string
}

func (p peerAuditor) Record(op string, sealed []byte, err error) {
	p.l.record(op, sealed, p.addr, err)
}

func (l *Logger) record(op string, sealed []byte, peerAddr string, err error) {
	e := Entry{
		Operation:   op,
		KeyID:       Fingerprint(sealed),
		Status:      StatusOK,
		PeerAddress: peerAddr,
	}
	if err != nil {
		e.Status = StatusError
		var ce *enclave.Error
		if errors.As(err, &ce) {
			e.Code = ce.Code
			e.Metadata = map[string]string{
				"kind":     ce.Kind.String(),
				"location": ce.Location,
			}
		}
	}
	l.enqueue(e)
}

// enqueue is non-blocking: entries are dropped when the buffer is full or
// the logger is closed.
func (l *Logger) enqueue(entry Entry) {
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.logger.Warn("audit log closed, dropping entry", zap.String("operation", entry.Operation))
		return
	}
	select {
	case l.entries <- entry:
	default:
		l.logger.Warn("audit log buffer full, dropping entry", zap.String("operation", entry.Operation))
	}
}

// Subscribe creates a new subscriber that receives entries via a buffered channel.
func (l *Logger) Subscribe() *Subscriber {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub := &Subscriber{
		C:  make(chan Entry, 64),
		id: uuid.NewString(),
	}
	l.subscribers[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber.
func (l *Logger) Unsubscribe(sub *Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.subscribers, sub.id)
	close(sub.C)
}

// Filter selects entries in Query. Zero fields match everything.
type Filter struct {
	KeyID     string
	Operation string
	Status    string
	Start     time.Time
	End       time.Time
	Limit     int
}

// Query returns stored audit entries matching f, newest first.
func (l *Logger) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []Entry
	for i := len(l.store) - 1; i >= 0; i-- {
		e := l.store[i]
		if f.KeyID != "" && e.KeyID != f.KeyID {
			continue
		}
		if f.Operation != "" && e.Operation != f.Operation {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && e.Timestamp.After(f.End) {
			continue
		}
		results = append(results, e)
		if f.Limit > 0 && len(results) >= f.Limit {
			break
		}
	}
	return results
}

// Close stops the processing loop and waits for it to finish. Entries
// recorded afterwards are dropped. Close may be called more than once.
func (l *Logger) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.entries)
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Logger) processLoop() {
	defer close(l.done)

	for entry := range l.entries {
		l.mu.Lock()
		l.store = append(l.store, entry)
		l.mu.Unlock()

		if l.out != nil {
			data, err := json.Marshal(entry)
			if err != nil {
				l.logger.Error("audit marshal", zap.Error(err))
				continue
			}
			fmt.Fprintf(l.out, "%s\n", data)
		}

		// Fan-out to subscribers (non-blocking)
		l.mu.RLock()
		for _, sub := range l.subscribers {
			select {
			case sub.C <- entry:
			default:
				// subscriber too slow, drop
			}
		}
		l.mu.RUnlock()
	}
}

// Summary counts stored entries per operation and status, e.g. "sign/OK".
func (l *Logger) Summary() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int)
	for _, e := range l.store {
		key := e.Operation + "/" + e.Status
		if e.Code != 0 {
			key += "/" + strconv.Itoa(e.Code)
		}
		out[key]++
	}
	return out
}
