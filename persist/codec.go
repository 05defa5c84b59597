package persist

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// blobPrefix versions the envelope so the format can evolve without
// misreading blobs written by older sessions.
const blobPrefix = "v1:"

// DecodeError reports a persisted blob that could not be decoded. Callers
// treat it as cold state, never as a fatal condition.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode persisted blob %q: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode renders v as a compact string blob: JSON, brotli-compressed, then
// base64 so the result survives string-only host stores.
func Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("compress: %w", err)
	}
	return blobPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode into v.
func Decode(blob string, v any) error {
	enc, ok := strings.CutPrefix(blob, blobPrefix)
	if !ok {
		return fmt.Errorf("unrecognized blob envelope")
	}
	comp, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return fmt.Errorf("base64: %w", err)
	}
	raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(comp)))
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// SaveJSON encodes v and writes it under key.
func SaveJSON(s Store, key string, v any) error {
	blob, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Set(key, blob); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// LoadJSON reads the blob under key into v. The bool reports whether the key
// existed; a blob that exists but cannot be decoded yields a *DecodeError.
func LoadJSON(s Store, key string, v any) (bool, error) {
	blob, ok, err := s.Get(key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := Decode(blob, v); err != nil {
		return true, &DecodeError{Key: key, Err: err}
	}
	return true, nil
}
