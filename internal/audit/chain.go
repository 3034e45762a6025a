// Package audit implements the tamper-evident audit trail: a JSONL file
// where each entry carries a SHA-256 hash chained to its predecessor.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/sovereignclaw/internal/bus"
)

// GenesisHash is the prev_hash of the first entry.
var GenesisHash = strings.Repeat("0", 64)

// Entry is one line of the audit log.
type Entry struct {
	Envelope bus.EventEnvelope `json:"envelope"`
	PrevHash string            `json:"prev_hash"`
	Hash     string            `json:"hash"`
}

// Log appends hash-chained entries to a JSONL file. Appends are
// serialized by an internal mutex.
type Log struct {
	mu       sync.Mutex
	path     string
	lastHash string
}

// Open creates or opens an audit log. When the file exists the last
// line is parsed to recover the chain head; a corrupt trailing line
// aborts the open rather than silently forking the chain.
func Open(path string) (*Log, error) {
	l := &Log{path: path, lastHash: GenesisHash}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create audit dir: %w", err)
				}
			}
			return l, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var lastLine string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lastLine = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}

	if lastLine != "" {
		var entry Entry
		if err := json.Unmarshal([]byte(lastLine), &entry); err != nil {
			return nil, fmt.Errorf("parse last audit entry: %w", err)
		}
		if entry.Hash == "" {
			return nil, fmt.Errorf("last audit entry has no hash")
		}
		l.lastHash = entry.Hash
	}
	return l, nil
}

// Append writes a new entry chained to the current head.
func (l *Log) Append(envelope bus.EventEnvelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, err := chain(l.lastHash, envelope)
	if err != nil {
		return err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}

	l.lastHash = entry.Hash
	return nil
}

// LastHash returns the current chain head.
func (l *Log) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

func chain(prevHash string, envelope bus.EventEnvelope) (Entry, error) {
	envJSON, err := json.Marshal(envelope)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal envelope: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(envJSON)
	return Entry{
		Envelope: envelope,
		PrevHash: prevHash,
		Hash:     hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// VerifyFile walks the chain and returns the zero-based index of the
// first broken entry, or -1 when the whole file verifies.
func VerifyFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	prev := GenesisHash
	idx := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return idx, nil
		}
		if entry.PrevHash != prev {
			return idx, nil
		}
		expect, err := chain(prev, entry.Envelope)
		if err != nil || expect.Hash != entry.Hash {
			return idx, nil
		}
		prev = entry.Hash
		idx++
	}
	if err := scanner.Err(); err != nil {
		return idx, fmt.Errorf("scan audit log: %w", err)
	}
	return -1, nil
}
