// Package storage holds what the result stores share: the session key rules
// and the JSON form a session's records are persisted in.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"regexp"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
)

// ErrInvalidKey is returned for session keys that cannot name an object.
var ErrInvalidKey = errors.New("invalid session key")

var validKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateKey reports whether key is usable as a file or object name.
func ValidateKey(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// ObjectName returns the path a session's records live under.
func ObjectName(prefix, key string) string {
	return path.Join(prefix, key+".json")
}

// Encode renders records as a JSON array. nil encodes as [].
func Encode(records []crawler.PatentRecord) ([]byte, error) {
	if records == nil {
		records = []crawler.PatentRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return data, nil
}

// Decode parses a JSON array written by Encode.
func Decode(data []byte) ([]crawler.PatentRecord, error) {
	records := []crawler.PatentRecord{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}
