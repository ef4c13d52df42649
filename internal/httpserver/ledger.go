package httpserver

import (
	"fmt"
	"sort"
	"sync"
)

type Course struct {
	ID   string `json:"_id"`
	Name string `json:"course_name"`
}

func DefaultCourses() []Course {
	return []Course{
		{ID: "64a1f0c2e4b0a1a2b3c4d5e1", Name: "Piano"},
		{ID: "64a1f0c2e4b0a1a2b3c4d5e2", Name: "Guitar"},
		{ID: "64a1f0c2e4b0a1a2b3c4d5e3", Name: "Violin"},
		{ID: "64a1f0c2e4b0a1a2b3c4d5e4", Name: "Music Theory"},
	}
}

// Ledger holds the stub catalog and the purchases made against it.
type Ledger struct {
	courses []Course
	byName  map[string]struct{}

	mu        sync.Mutex
	purchases map[string][]string
}

func NewLedger(courses []Course) *Ledger {
	l := &Ledger{
		courses:   append([]Course(nil), courses...),
		byName:    make(map[string]struct{}, len(courses)),
		purchases: make(map[string][]string),
	}
	for _, c := range courses {
		l.byName[c.Name] = struct{}{}
	}
	return l
}

func (l *Ledger) Courses() []Course {
	return append([]Course(nil), l.courses...)
}

func (l *Ledger) Buy(email, courseName string) error {
	if _, ok := l.byName[courseName]; !ok {
		return fmt.Errorf("course %q not found", courseName)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purchases[email] = append(l.purchases[email], courseName)
	return nil
}

// Purchases returns the course names bought by email, sorted.
func (l *Ledger) Purchases(email string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]string(nil), l.purchases[email]...)
	sort.Strings(out)
	return out
}
