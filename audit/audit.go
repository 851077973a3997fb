/*
Copyright 2025 Switchyard Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package audit implements the append-only, hash-chained, HMAC-signed
// journal of settlement decisions. Every entry embeds the HMAC of its
// predecessor, so any mutation or deletion inside a day file is detectable
// by replaying the chain. One file per calendar day, rotated by date.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/switchyard-finance/switchyard/internal/apierror"
	redlock "github.com/switchyard-finance/switchyard/internal/lock"
	"github.com/switchyard-finance/switchyard/model"
)

const (
	lockKey      = "audit-log"
	lockTTL      = 30 * time.Second
	lockWait     = 10 * time.Second
	tailReadSize = 64 * 1024
)

// Verification failure kinds.
const (
	KindHMACMismatch = "hmac_mismatch"
	KindChainBreak   = "chain_break"
)

// VerifyError reports the first integrity failure found while replaying a
// day file. Integrity errors are fatal to verification, never auto-repaired.
type VerifyError struct {
	Kind string
	Line int
}

func (e VerifyError) Error() string {
	return fmt.Sprintf("%s at line %d", e.Kind, e.Line)
}

// Changes captures the before and after state of the entity an entry is about.
type Changes struct {
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
}

// Entry is one journaled settlement decision. PrevHMAC is nil only for the
// first entry of a day file. The HMAC covers the canonicalized entry with
// the hmac field excluded.
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Action    string                 `json:"action"`
	EntityID  string                 `json:"entity_id"`
	Actor     string                 `json:"actor"`
	Changes   Changes                `json:"changes"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Nonce     string                 `json:"nonce"`
	PrevHMAC  *string                `json:"prev_hmac"`
	HMAC      string                 `json:"hmac"`
}

// Log writes and verifies the daily audit journal. When a redis client is
// provided, the read-last-line + append sequence is guarded by the same
// cross-process lock discipline as the ledger; with a nil client the caller
// is responsible for serializing writers.
type Log struct {
	dir    string
	secret []byte
	redis  redis.UniversalClient
}

// NewLog builds an audit log writer. A missing secret is a fatal
// configuration error for any write path, never a silent no-op.
func NewLog(dir, secret string, client redis.UniversalClient) (*Log, error) {
	if secret == "" {
		return nil, apierror.NewAPIError(apierror.ErrConfiguration, "audit HMAC secret is not configured", nil)
	}
	if dir == "" {
		return nil, apierror.NewAPIError(apierror.ErrConfiguration, "audit directory is not configured", nil)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConfiguration, "failed to create audit directory", err)
	}
	return &Log{dir: dir, secret: []byte(secret), redis: client}, nil
}

// FilePathForDay returns the journal path for a calendar day key.
func (l *Log) FilePathForDay(day string) string {
	return filepath.Join(l.dir, fmt.Sprintf("audit-%s.ndjson", day))
}

// Write appends an entry to today's file and returns its HMAC. The entry's
// ID, timestamp, nonce and chain fields are filled in here; callers only
// supply action, entity, actor, changes and context.
func (l *Log) Write(ctx context.Context, entry *Entry) (string, error) {
	if l.redis != nil {
		locker := redlock.NewLocker(l.redis, lockKey, model.GenerateUUIDWithSuffix("lock"))
		if err := locker.WaitLock(ctx, lockTTL, lockWait); err != nil {
			return "", err
		}
		defer func() {
			if err := locker.Unlock(ctx); err != nil {
				logrus.Error("audit lock release error: ", err)
			}
		}()
	}
	return l.write(entry)
}

func (l *Log) write(entry *Entry) (string, error) {
	now := time.Now().UTC()
	path := l.FilePathForDay(model.DayKey(now))

	prev, err := lastEntryHMAC(path)
	if err != nil {
		return "", err
	}

	entry.ID = model.GenerateUUIDWithSuffix("aud")
	entry.Timestamp = now.Format(time.RFC3339Nano)
	entry.Nonce = uuid.NewString()
	entry.PrevHMAC = prev
	entry.HMAC = ""

	mac, err := l.sign(entry)
	if err != nil {
		return "", err
	}
	entry.HMAC = mac

	line, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", err
	}
	return mac, nil
}

// sign canonicalizes the entry (recursively sorted keys, hmac field
// excluded) and computes HMAC-SHA256 over the canonical bytes.
func (l *Log) sign(entry *Entry) (string, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	return l.signRaw(raw)
}

func (l *Log) signRaw(raw []byte) (string, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	delete(generic, "hmac")

	plain, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(plain)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, l.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyChain replays every line of a day file: each entry's HMAC must match
// a recomputation over its canonical form, and each prev_hmac must equal the
// preceding entry's hmac. Fails fast on the first mismatch.
func (l *Log) VerifyChain(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 4*1024*1024)

	var prevHMAC *string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return false, VerifyError{Kind: KindHMACMismatch, Line: lineNo}
		}

		expected, err := l.signRaw(line)
		if err != nil {
			return false, err
		}
		if !hmac.Equal([]byte(expected), []byte(entry.HMAC)) {
			return false, VerifyError{Kind: KindHMACMismatch, Line: lineNo}
		}

		if !chainLinked(prevHMAC, entry.PrevHMAC) {
			return false, VerifyError{Kind: KindChainBreak, Line: lineNo}
		}
		mac := entry.HMAC
		prevHMAC = &mac
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}
	return true, nil
}

func chainLinked(expected, got *string) bool {
	if expected == nil {
		return got == nil
	}
	return got != nil && *got == *expected
}

// lastEntryHMAC reads the hmac of the last line by seeking backwards from
// the end of the file rather than parsing the whole journal. Returns nil for
// an absent or empty file.
func lastEntryHMAC(path string) (*string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	readSize := int64(tailReadSize)
	if size < readSize {
		readSize = size
	}
	buf := make([]byte, readSize)
	if _, err := f.ReadAt(buf, size-readSize); err != nil {
		return nil, err
	}

	lines := bytes.Split(bytes.TrimRight(buf, "\n"), []byte{'\n'})
	last := lines[len(lines)-1]
	if len(bytes.TrimSpace(last)) == 0 {
		return nil, nil
	}

	var tail struct {
		HMAC string `json:"hmac"`
	}
	if err := json.Unmarshal(last, &tail); err != nil {
		return nil, fmt.Errorf("corrupt tail line in %s: %w", path, err)
	}
	if tail.HMAC == "" {
		return nil, fmt.Errorf("tail line in %s has no hmac", path)
	}
	return &tail.HMAC, nil
}
