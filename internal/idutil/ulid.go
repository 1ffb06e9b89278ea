// Package idutil generates ULIDs for every stored entity. A single
// process-local monotonic source is shared across callers so that IDs
// generated within the same millisecond still sort lexicographically.
package idutil

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Source is a concurrency-safe monotonic ULID generator. The zero value is
// ready to use.
type Source struct {
	mu      sync.Mutex
	entropy io.Reader
}

var shared = &Source{}

// New generates a new ULID string using the process-wide shared source.
func New() string {
	return shared.New()
}

// New generates a new ULID string, guaranteeing monotonic ordering for IDs
// minted within the same millisecond from this Source. Producing an ID is
// non-blocking; in the extremely rare case that the monotonic entropy
// overflows within one millisecond, the ID is minted with the next
// millisecond's timestamp instead.
func (s *Source) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entropy == nil {
		s.entropy = ulid.Monotonic(rand.Reader, 0)
	}
	ts := ulid.Timestamp(time.Now())
	for {
		id, err := ulid.New(ts, s.entropy)
		if err == nil {
			return id.String()
		}
		if !errors.Is(err, ulid.ErrMonotonicOverflow) {
			panic(err)
		}
		ts++
	}
}

// IsULID reports whether s parses as a syntactically valid ULID.
func IsULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Time returns the embedded timestamp of a ULID string.
func Time(s string) (time.Time, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}
