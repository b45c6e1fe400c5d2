package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/akashmore/aika/pkg/acestep"
	"github.com/oklog/ulid/v2"
)

const (
	// MaxStoredTracks bounds the persisted history. The oldest entries
	// beyond the cap are dropped unconditionally on every save.
	MaxStoredTracks = 10

	// Key is the namespaced key the serialized track list lives under.
	Key = "generated_music_tracks"
)

var ErrNotFound = errors.New("not found")

// Entry is a stored generation result plus the metadata synthesized on
// save. Entries are immutable once stored.
type Entry struct {
	acestep.GeneratedMusic
	ID             string          `json:"id"`
	Timestamp      int64           `json:"timestamp"`
	Title          string          `json:"title"`
	Type           acestep.Type    `json:"type"`
	GenerationData json.RawMessage `json:"generationData,omitempty"`
}

// Request decodes the generation request the entry was created from.
func (e *Entry) Request() (acestep.Request, error) {
	return acestep.UnmarshalRequest(e.Type, e.GenerationData)
}

// Backend reads and writes the serialized track list as a whole under a
// single namespaced key. No partial updates; concurrent writers race and
// the last write wins.
type Backend interface {
	// Read returns the stored value and whether the key exists.
	Read(ctx context.Context, key string) ([]byte, bool, error)
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// NewBackend creates a backend of the given type. "local" stores the list
// as a JSON file under dir (or the user config dir if empty); "sqlite",
// "mysql" and "postgres" store it as a single row via gorm.
func NewBackend(ctx context.Context, dbType, dbConn string, debug bool) (Backend, error) {
	switch dbType {
	case "", "local":
		return NewLocal(dbConn)
	case "sqlite", "mysql", "postgres":
		kv, err := NewKV(dbType, dbConn, debug)
		if err != nil {
			return nil, err
		}
		if err := kv.Start(ctx); err != nil {
			return nil, err
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("history: unknown db type: %s", dbType)
	}
}

// Store is a capacity-bounded, most-recent-first list of past results.
// The persisted representation is the source of truth; the in-memory list
// is a cache kept consistent by writing through on every mutation.
type Store struct {
	backend Backend
	now     func() time.Time

	mu     sync.Mutex
	tracks []*Entry
}

func New(backend Backend) *Store {
	return &Store{
		backend: backend,
		now:     time.Now,
	}
}

// Save synthesizes id, timestamp and title for music, prepends the entry
// and drops everything beyond MaxStoredTracks. The in-memory list is only
// updated once the persisted write succeeds.
func (s *Store) Save(ctx context.Context, music *acestep.GeneratedMusic, req acestep.Request) (*Entry, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("history: couldn't marshal generation data: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := &Entry{
		GeneratedMusic: *music,
		ID:             ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Timestamp:      now.UnixMilli(),
		Title:          Title(req.Type(), req.Text(), now),
		Type:           req.Type(),
		GenerationData: data,
	}
	tracks := append([]*Entry{entry}, s.read(ctx)...)
	if len(tracks) > MaxStoredTracks {
		tracks = tracks[:MaxStoredTracks]
	}
	if err := s.persist(ctx, tracks); err != nil {
		return nil, err
	}
	s.tracks = tracks
	return entry, nil
}

// List returns the stored tracks, most recent first. An unavailable or
// corrupt store is treated as empty.
func (s *Store) List(ctx context.Context) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracks := s.read(ctx)
	s.tracks = tracks
	return append([]*Entry{}, tracks...)
}

// Get returns the entry with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	for _, track := range s.List(ctx) {
		if track.ID == id {
			return track, nil
		}
	}
	return nil, ErrNotFound
}

// Delete removes the entry with the given id from both the persisted and
// the in-memory list. An absent id is a no-op, not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.read(ctx)
	tracks := make([]*Entry, 0, len(existing))
	for _, track := range existing {
		if track.ID == id {
			continue
		}
		tracks = append(tracks, track)
	}
	if err := s.persist(ctx, tracks); err != nil {
		return err
	}
	s.tracks = tracks
	return nil
}

// Clear empties both the persisted and the in-memory list.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, Key); err != nil {
		return fmt.Errorf("history: couldn't clear tracks: %w", err)
	}
	s.tracks = nil
	return nil
}

// Tracks returns the cached in-memory list without touching the backend.
func (s *Store) Tracks() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Entry{}, s.tracks...)
}

// read loads the persisted list, degrading to empty on read or parse
// failures. Must be called with the lock held.
func (s *Store) read(ctx context.Context) []*Entry {
	value, ok, err := s.backend.Read(ctx, Key)
	if err != nil {
		log.Printf("history: couldn't read tracks: %v\n", err)
		return nil
	}
	if !ok {
		return nil
	}
	var tracks []*Entry
	if err := json.Unmarshal(value, &tracks); err != nil {
		log.Printf("history: couldn't parse stored tracks: %v\n", err)
		return nil
	}
	return tracks
}

// persist writes the whole list under Key. Must be called with the lock
// held.
func (s *Store) persist(ctx context.Context, tracks []*Entry) error {
	value, err := json.Marshal(tracks)
	if err != nil {
		return fmt.Errorf("history: couldn't marshal tracks: %w", err)
	}
	if err := s.backend.Write(ctx, Key, value); err != nil {
		return fmt.Errorf("history: couldn't write tracks: %w", err)
	}
	return nil
}

// Title derives the display title for a stored track: the first 30
// characters of the variant's primary text plus the locale-formatted
// timestamp.
func Title(t acestep.Type, text string, at time.Time) string {
	ts := at.Format("1/2/2006, 3:04:05 PM")
	switch t {
	case acestep.TypeDescription, acestep.TypeCustomLyrics, acestep.TypeDescribedLyrics:
		r := []rune(text)
		if len(r) > 30 {
			r = r[:30]
		}
		return fmt.Sprintf("%s... - %s", string(r), ts)
	default:
		return fmt.Sprintf("Generated Track - %s", ts)
	}
}
