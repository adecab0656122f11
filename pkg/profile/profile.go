// Package profile stores enrolled speakers and matches new embeddings against
// them.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/algo-boyz/speakerprint/pkg/embedding"
	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("profile: not found")
	// ErrNameTaken is returned when a second profile would share a name.
	ErrNameTaken = errors.New("profile: name already enrolled")
)

// Profile is a named speaker with one embedding per enrollment clip.
type Profile struct {
	ID         uuid.UUID             `msgpack:"id" json:"id"`
	Name       string                `msgpack:"name" json:"name"`
	Embeddings []embedding.Embedding `msgpack:"embeddings" json:"embeddings"`
	CreatedAt  time.Time             `msgpack:"created_at" json:"created_at"`
	UpdatedAt  time.Time             `msgpack:"updated_at" json:"updated_at"`
}

func New(name string, es ...embedding.Embedding) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, fmt.Errorf("profile name must not be empty")
	}
	now := time.Now().UTC()
	p := Profile{ID: uuid.New(), Name: name, CreatedAt: now, UpdatedAt: now}
	for _, e := range es {
		if err := p.Add(e); err != nil {
			return Profile{}, err
		}
	}
	return p, nil
}

// Add appends an enrollment embedding. All embeddings of a profile share one
// dimension.
func (p *Profile) Add(e embedding.Embedding) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if len(p.Embeddings) > 0 && p.Embeddings[0].Dim() != e.Dim() {
		return fmt.Errorf("%w: profile %q holds %d-dim embeddings, got %d",
			embedding.ErrDimensionMismatch, p.Name, p.Embeddings[0].Dim(), e.Dim())
	}
	p.Embeddings = append(p.Embeddings, append(embedding.Embedding(nil), e...))
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Centroid is the mean of the normalized enrollment embeddings.
func (p Profile) Centroid() (embedding.Embedding, error) {
	return embedding.Mean(p.Embeddings...)
}

func (p Profile) clone() Profile {
	out := p
	out.Embeddings = make([]embedding.Embedding, len(p.Embeddings))
	for i, e := range p.Embeddings {
		out.Embeddings[i] = append(embedding.Embedding(nil), e...)
	}
	return out
}

// Store persists profiles. Implementations are safe for concurrent use.
type Store interface {
	Put(ctx context.Context, p Profile) error
	Get(ctx context.Context, id uuid.UUID) (Profile, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]Profile, error)
	Close() error
}

// FindByName returns the profile called name, ignoring case.
func FindByName(ctx context.Context, s Store, name string) (Profile, error) {
	all, err := s.List(ctx)
	if err != nil {
		return Profile{}, err
	}
	for _, p := range all {
		if equalNames(p.Name, name) {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

func equalNames(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Enroll adds e to the profile called name, creating it when needed. Lookup
// and write are separate store calls; when another enrollment creates the
// same name in between, Enroll retries once against that profile.
func Enroll(ctx context.Context, s Store, name string, e embedding.Embedding) (Profile, error) {
	p, err := enroll(ctx, s, name, e)
	if errors.Is(err, ErrNameTaken) {
		p, err = enroll(ctx, s, name, e)
	}
	return p, err
}

func enroll(ctx context.Context, s Store, name string, e embedding.Embedding) (Profile, error) {
	p, err := FindByName(ctx, s, name)
	switch {
	case errors.Is(err, ErrNotFound):
		if p, err = New(name); err != nil {
			return Profile{}, err
		}
	case err != nil:
		return Profile{}, err
	}
	if err = p.Add(e); err != nil {
		return Profile{}, err
	}
	if err = s.Put(ctx, p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

type referencesJSON struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// LoadReferences reads a {"embeddings": [[...], ...]} reference file.
func LoadReferences(path string) ([]embedding.Embedding, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read embeddings file %s: %w", path, err)
	}
	var v referencesJSON
	if err = json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embeddings file %s: %w", path, err)
	}
	if len(v.Embeddings) == 0 {
		return nil, fmt.Errorf("embeddings file %s holds no embeddings", path)
	}
	out := make([]embedding.Embedding, len(v.Embeddings))
	for i, e := range v.Embeddings {
		out[i] = e
	}
	return out, nil
}

// WriteReferences writes es in the format LoadReferences reads.
func WriteReferences(w io.Writer, es []embedding.Embedding) error {
	v := referencesJSON{Embeddings: make([][]float32, len(es))}
	for i, e := range es {
		v.Embeddings[i] = e
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
