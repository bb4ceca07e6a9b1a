package demoapi

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Note is one per-user note. Stored in memory only; the notes tools exist to
// demonstrate identity scoping, not persistence.
type Note struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

type noteStore struct {
	mu    sync.Mutex
	notes map[string][]Note // user key -> notes
}

func newNoteStore() *noteStore {
	return &noteStore{notes: map[string][]Note{}}
}

func (s *noteStore) add(userKey, text string) Note {
	n := Note{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.mu.Lock()
	s.notes[userKey] = append(s.notes[userKey], n)
	s.mu.Unlock()
	return n
}

func (s *noteStore) list(userKey string) []Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Note, len(s.notes[userKey]))
	copy(out, s.notes[userKey])
	return out
}

func (s *noteStore) seed(userKey string, count int) []Note {
	if count <= 0 {
		count = 3
	}
	if count > 20 {
		count = 20
	}
	seeded := make([]Note, 0, count)
	for i := 0; i < count; i++ {
		seeded = append(seeded, s.add(userKey, demoNoteTexts[i%len(demoNoteTexts)]))
	}
	return seeded
}

var demoNoteTexts = []string{
	"Follow up with the pilot customer on Thursday.",
	"Draft the Q3 rollout checklist.",
	"Review the onboarding doc for typos.",
	"Ask about the renewal timeline.",
	"Ship the demo environment before Friday.",
}
