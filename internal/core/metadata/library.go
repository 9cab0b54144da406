package metadata

import (
	"context"
	"sort"
	"sync"

	"github.com/markdave123-py/Lumina/internal/models"
)

// DefaultKeyCap bounds the number of distinct keys the library accepts.
const DefaultKeyCap = 256

// KeyLibrary is the shared, append-only registry of metadata keys and their types.
type KeyLibrary interface {
	// Register adds key with typ unless the library is full. A known key keeps its
	// stored type, which is returned. ok is false when the key was rejected at the cap.
	Register(ctx context.Context, key string, typ models.MetadataType) (stored models.MetadataType, ok bool, err error)
	// Observe records one document's normalized values in the value distributions.
	Observe(ctx context.Context, values []models.MetadataValue) error
	List(ctx context.Context) ([]models.MetadataKeyEntry, error)
	Len(ctx context.Context) (int, error)
}

var _ KeyLibrary = (*MemoryKeyLibrary)(nil)

// MemoryKeyLibrary keeps the key library in process memory.
type MemoryKeyLibrary struct {
	mu      sync.Mutex
	cap     int
	entries map[string]*models.MetadataKeyEntry
}

func NewMemoryKeyLibrary(keyCap int) *MemoryKeyLibrary {
	if keyCap <= 0 {
		keyCap = DefaultKeyCap
	}
	return &MemoryKeyLibrary{cap: keyCap, entries: make(map[string]*models.MetadataKeyEntry)}
}

func (l *MemoryKeyLibrary) Register(_ context.Context, key string, typ models.MetadataType) (models.MetadataType, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		return e.Type, true, nil
	}
	if len(l.entries) >= l.cap {
		return "", false, nil
	}
	l.entries[key] = &models.MetadataKeyEntry{Key: key, Type: typ, Values: map[string]int{}}
	return typ, true, nil
}

func (l *MemoryKeyLibrary) Observe(_ context.Context, values []models.MetadataValue) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, v := range values {
		e, ok := l.entries[v.Key]
		if !ok {
			continue
		}
		e.Values[v.String()]++
		e.DocumentCount++
	}
	return nil
}

func (l *MemoryKeyLibrary) List(_ context.Context) ([]models.MetadataKeyEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.MetadataKeyEntry, 0, len(l.entries))
	for _, e := range l.entries {
		cp := *e
		cp.Values = make(map[string]int, len(e.Values))
		for k, v := range e.Values {
			cp.Values[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (l *MemoryKeyLibrary) Len(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries), nil
}
