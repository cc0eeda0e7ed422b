package eventlog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rcliao/persona-state/internal/model"
)

// Canonical re-encodes a JSON document with sorted object keys, no
// insignificant whitespace, unescaped HTML characters and numbers kept as
// written. An empty document canonicalizes to null.
func Canonical(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("canonical json: trailing data after document")
	}
	return encodeCompact(v)
}

func encodeCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// HashEvent computes the chain hash of an event from its predecessor's hash
// and the canonical form of {ts, type, payload}.
func HashEvent(prevHash, ts, typ string, payload []byte) (string, error) {
	p, err := Canonical(payload)
	if err != nil {
		return "", err
	}
	body, err := encodeCompact(map[string]any{
		"payload": json.RawMessage(p),
		"ts":      ts,
		"type":    typ,
	})
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte{'\n'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ExpectedHash recomputes the hash e should carry.
func ExpectedHash(e model.Event) (string, error) {
	return HashEvent(e.PrevHash, e.TS, e.Type, e.Payload)
}
