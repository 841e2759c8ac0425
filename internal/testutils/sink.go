package testutils

import (
	"sync"
)

// RecordingSink counts Play calls and optionally fails them.
type RecordingSink struct {
	mu    sync.Mutex
	plays int
	err   error
}

// NewRecordingSink returns a sink whose Play succeeds.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// FailWith makes subsequent Play calls return err.
func (s *RecordingSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *RecordingSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return s.err
}

// Plays returns the number of Play calls so far.
func (s *RecordingSink) Plays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays
}
