package preset

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliskhannn/image-gateway/internal/model"
	"github.com/aliskhannn/image-gateway/internal/netguard"
	"github.com/aliskhannn/image-gateway/internal/parser"
)

type fakeRepo struct {
	stored map[string]string
	err    error
}

func (f *fakeRepo) List(context.Context) (map[string]string, error) {
	return f.stored, f.err
}

func (f *fakeRepo) Save(_ context.Context, name, query string) error {
	if f.err != nil {
		return f.err
	}
	f.stored[name] = query
	return nil
}

func newParser() *parser.Parser {
	return parser.New(parser.Limits{MaxDimension: 4096, MaxOperations: 8, MaxSigma: 100}, netguard.Policy{}, nil)
}

func TestLoad(t *testing.T) {
	p := newParser()
	s := NewService(p, &fakeRepo{stored: map[string]string{"thumb": "width=100", "bw": "grayscale=true"}})

	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, []string{"bw", "thumb"}, s.Names())

	plan, ok := p.Presets().Lookup("thumb")
	require.True(t, ok)
	assert.Equal(t, 100, plan.Operations[0].Width)
}

func TestLoad_InvalidStoredPreset(t *testing.T) {
	s := NewService(newParser(), &fakeRepo{stored: map[string]string{"bad": "width=-1"}})
	assert.Error(t, s.Load(context.Background()))
}

func TestSave(t *testing.T) {
	repo := &fakeRepo{stored: map[string]string{}}
	s := NewService(newParser(), repo)

	require.NoError(t, s.Save(context.Background(), "hero", "operation=resize&width=1200&format=webp"))
	assert.Equal(t, "operation=resize&width=1200&format=webp", repo.stored["hero"])
	assert.Contains(t, s.Names(), "hero")

	err := s.Save(context.Background(), "broken", "width=0")
	assert.Equal(t, model.ErrValidation, model.KindOf(err))
	assert.NotContains(t, repo.stored, "broken")

	err = s.Save(context.Background(), "img.jpg", "width=10")
	assert.Equal(t, model.ErrValidation, model.KindOf(err))

	err = s.Save(context.Background(), "empty", "")
	assert.Equal(t, model.ErrValidation, model.KindOf(err))

	repo.err = errors.New("db down")
	assert.Error(t, s.Save(context.Background(), "late", "width=10"))
	assert.NotContains(t, s.Names(), "late")
}

func TestSave_InMemoryOnly(t *testing.T) {
	s := NewService(newParser(), nil)
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.Save(context.Background(), "small", "width=10"))
	assert.Equal(t, []string{"small"}, s.Names())
}
