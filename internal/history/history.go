// history.go - bounded in-memory log of recent uploads.

// Package history keeps the uploader's recent uploads in memory. It is an
// explicit value handed to whoever needs it; nothing here is global.
package history

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Cyxzhar/quickdrop/internal/upload"
)

const DefaultMaxItems = 50

type Record struct {
	ID        string    `json:"id"`
	Link      string    `json:"link"`
	Filename  string    `json:"filename"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text,omitempty"`
	Size      int64     `json:"size"`
	Encrypted bool      `json:"encrypted"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SortBy names a sortable Record field.
type SortBy string

const (
	ByTimestamp SortBy = "timestamp"
	BySize      SortBy = "size"
	ByExpiresAt SortBy = "expiresAt"
)

// Store is safe for concurrent use. Records are kept newest first.
type Store struct {
	mu       sync.RWMutex
	records  []Record
	maxItems int
}

func New(maxItems int) *Store {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Store{maxItems: maxItems}
}

// FromResult converts a finished upload.
func FromResult(r upload.Result) Record {
	return Record{
		ID:        r.ID,
		Link:      r.Link,
		Filename:  r.Filename,
		Title:     r.Title,
		Size:      r.Size,
		Encrypted: r.Encrypted,
		Timestamp: r.UploadedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

// Add puts rec first and trims the oldest beyond the limit. An existing
// record with the same id is replaced.
func (s *Store) Add(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(rec.ID)
	s.records = append([]Record{rec}, s.records...)
	if len(s.records) > s.maxItems {
		s.records = s.records[:s.maxItems]
	}
}

func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Store) removeLocked(id string) bool {
	for i, r := range s.records {
		if r.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// SetTitle updates a record's title in place.
func (s *Store) SetTitle(id, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Title = title
			return true
		}
	}
	return false
}

// List returns a copy, newest first.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.records...)
}

// Recent returns at most n records, newest first.
func (s *Store) Recent(n int) []Record {
	all := s.List()
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}

// Search matches query case-insensitively against id, link, filename,
// title and text. An empty query returns everything.
func (s *Store) Search(query string) []Record {
	q := strings.ToLower(strings.TrimSpace(query))
	all := s.List()
	if q == "" {
		return all
	}
	out := all[:0]
	for _, r := range all {
		for _, f := range []string{r.ID, r.Link, r.Filename, r.Title, r.Text} {
			if strings.Contains(strings.ToLower(f), q) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Sorted returns records ordered by field, descending when desc is set.
func (s *Store) Sorted(by SortBy, desc bool) []Record {
	all := s.List()
	less := func(a, b Record) bool {
		switch by {
		case BySize:
			return a.Size < b.Size
		case ByExpiresAt:
			return a.ExpiresAt.Before(b.ExpiresAt)
		default:
			return a.Timestamp.Before(b.Timestamp)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if desc {
			return less(all[j], all[i])
		}
		return less(all[i], all[j])
	})
	return all
}

// Between returns records uploaded within [start, end].
func (s *Store) Between(start, end time.Time) []Record {
	var out []Record
	for _, r := range s.List() {
		if !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			out = append(out, r)
		}
	}
	return out
}

// CleanupExpired drops records whose expiry is not after now and returns
// how many were removed.
func (s *Store) CleanupExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, r := range s.records {
		if r.ExpiresAt.After(now) {
			kept = append(kept, r)
		}
	}
	removed := len(s.records) - len(kept)
	s.records = kept
	return removed
}

// Consume records every successful upload from events until the channel is
// closed or ctx is done.
func (s *Store) Consume(ctx context.Context, events <-chan upload.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Kind == upload.EventUploaded && e.Result != nil {
				s.Add(FromResult(*e.Result))
			}
		}
	}
}
