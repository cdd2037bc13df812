// Package preset manages named transform presets backed by config and the database.
package preset

import (
	"context"
	"fmt"
	"regexp"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gateway/internal/model"
	"github.com/aliskhannn/image-gateway/internal/parser"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// repository persists presets. It is optional.
type repository interface {
	List(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, name, query string) error
}

// Service keeps the parser's preset registry in sync with storage.
type Service struct {
	parser *parser.Parser
	repo   repository
}

// NewService creates a preset service. repo may be nil, in which case presets live in memory only.
func NewService(p *parser.Parser, repo repository) *Service {
	return &Service{parser: p, repo: repo}
}

// Load registers every stored preset. Stored presets override config presets with the same name.
func (s *Service) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	defs, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load presets: %w", err)
	}
	if err := s.parser.LoadPresets(defs); err != nil {
		return fmt.Errorf("load presets: %w", err)
	}

	zlog.Logger.Info().Int("count", len(defs)).Msg("presets loaded from database")

	return nil
}

// Save validates query, persists it and makes it available to new requests.
func (s *Service) Save(ctx context.Context, name, query string) error {
	if !namePattern.MatchString(name) {
		return model.Errorf(model.ErrValidation, "invalid preset name %q", name)
	}

	plan, err := s.parser.ParseQuery(query)
	if err != nil {
		return err
	}
	if plan.IsIdentity() {
		return model.Errorf(model.ErrValidation, "preset %q has no operations", name)
	}

	if s.repo != nil {
		if err := s.repo.Save(ctx, name, query); err != nil {
			return fmt.Errorf("save preset: %w", err)
		}
	}

	s.parser.Presets().Set(name, plan)

	return nil
}

// Names returns the registered preset names.
func (s *Service) Names() []string {
	return s.parser.Presets().Names()
}
