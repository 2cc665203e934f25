// Package audit provides a tamper-evident trail of API activity. Entries are
// hash-chained: each one commits to its predecessor, so rewriting history
// breaks the chain.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LogEntry is a single link in the audit chain.
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Actor        string `json:"actor"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
}

// NewChainLogger starts a chain anchored at the zero hash.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{
		previousHash: strings.Repeat("0", 64),
	}
}

// Append records an action by actor and links it to the chain.
func (c *ChainLogger) Append(actor, payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		PreviousHash: c.previousHash,
		Actor:        actor,
		Payload:      payload,
	}
	entry.Hash = entryHash(entry.PreviousHash, entry)

	c.previousHash = entry.Hash
	return entry
}

// VerifyChain reports whether entries form an unbroken, untampered chain.
func VerifyChain(entries []*LogEntry) bool {
	if len(entries) == 0 {
		return true
	}

	for i, entry := range entries {
		prevHash := entry.PreviousHash
		if i > 0 {
			prevHash = entries[i-1].Hash
			if entry.PreviousHash != prevHash {
				return false
			}
		}

		if entryHash(prevHash, entry) != entry.Hash {
			return false
		}
	}
	return true
}

func entryHash(prevHash string, e *LogEntry) string {
	input := fmt.Sprintf("%s|%s|%s|%s", prevHash, e.Timestamp, e.Actor, e.Payload)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
