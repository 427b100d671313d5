package content

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/world"
)

// Service generates NPC messages, requests and personas through a Backend.
// A Service with a nil backend fails every call with ErrUnavailable, which
// callers treat as "use the built-in content".
type Service struct {
	backend Backend
	conf    *config.SimConf
	limiter *rate.Limiter
	newID   func() string
}

// NewService creates a service. NPC-initiated messages are limited to one per
// conf.MessageInterval; replies to the player are never limited.
func NewService(b Backend, conf *config.SimConf) *Service {
	limit := rate.Inf
	if conf.MessageInterval > 0 {
		limit = rate.Every(conf.MessageInterval)
	}
	return &Service{
		backend: b,
		conf:    conf,
		limiter: rate.NewLimiter(limit, 1),
		newID:   uuid.NewString,
	}
}

// Available reports whether a backend is configured.
func (s *Service) Available() bool {
	return s.backend != nil
}

// GenerateMessage produces one NPC chat line.
func (s *Service) GenerateMessage(ctx context.Context, p MessageParams) (string, error) {
	if s.backend == nil {
		return "", ErrUnavailable
	}
	if p.Kind != KindReply && !s.limiter.Allow() {
		return "", ErrRateLimited
	}
	ctx, cancel := context.WithTimeout(ctx, s.conf.MessageTimeout)
	defer cancel()

	prompt := messagePrompt(p)
	prompt.MaxTokens = s.conf.MessageMaxTokens
	text, err := s.backend.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("content: message %s: %w", p.Kind, err)
	}
	text = cleanMessage(text)
	if text == "" {
		return "", ErrMalformed
	}
	return text, nil
}

// cleanMessage trims whitespace and one pair of surrounding quotes.
func cleanMessage(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimPrefix(s, "'")
	s = strings.TrimSuffix(s, `"`)
	s = strings.TrimSuffix(s, "'")
	return strings.TrimSpace(s)
}

// GenerateRequest produces a validated request for p.Persona. The returned
// request has no arrival tick; the request manager stamps it on add.
func (s *Service) GenerateRequest(ctx context.Context, p RequestParams) (*world.Request, error) {
	if s.backend == nil {
		return nil, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.conf.RequestTimeout)
	defer cancel()

	prompt := requestPrompt(p)
	prompt.MaxTokens = s.conf.RequestMaxTokens
	text, err := s.backend.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("content: request: %w", err)
	}
	r, err := ParseRequest([]byte(text), p, s.conf, s.newID)
	if err != nil {
		if s.conf.Debug {
			log.Printf("content: rejected generated request: %v", err)
		}
		return nil, err
	}
	return r, nil
}

// GeneratePersonas asks for count new personas. It fails with ErrMalformed
// when fewer than three usable personas come back.
func (s *Service) GeneratePersonas(ctx context.Context, count int) ([]world.Persona, error) {
	if s.backend == nil {
		return nil, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.conf.RequestTimeout)
	defer cancel()

	text, err := s.backend.Complete(ctx, personaListPrompt(count))
	if err != nil {
		return nil, fmt.Errorf("content: personas: %w", err)
	}
	return ParsePersonas([]byte(text))
}
