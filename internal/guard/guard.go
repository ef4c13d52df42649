// Package guard marks actions as in flight so a second identical action is
// refused until the first has finished.
package guard

import "sync"

type Set struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New() *Set {
	return &Set{inFlight: make(map[string]struct{})}
}

// TryAcquire marks key as in flight. When key is already held it returns
// ok == false and a nil release. The returned release is safe to call more
// than once.
func (s *Set) TryAcquire(key string) (release func(), ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[key]; busy {
		return nil, false
	}
	s.inFlight[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.inFlight, key)
			s.mu.Unlock()
		})
	}, true
}

func (s *Set) InFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[key]
	return busy
}
