package core

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"flockvet/internal/knowledge"
)

// ErrNoInterpreter is returned when a pH question arrives and no
// PHInterpreter is configured.
var ErrNoInterpreter = errors.New("no pH interpreter configured")

// ChatConfig tunes the artificial "thinking" pause before a reply.  The
// pause lasts ThinkMin plus a share of ThinkJitter picked by Jitter, which
// defaults to math/rand and is independent of the Matcher's Chooser.
type ChatConfig struct {
	ThinkMin    time.Duration
	ThinkJitter time.Duration
	Jitter      Chooser
}

// ChatService answers farmer questions.  pH questions are routed to the
// PHInterpreter; everything else goes through the Matcher and, when nothing
// matches, the general husbandry topics.
type ChatService struct {
	Matcher *Matcher
	PH      PHInterpreter
	cfg     ChatConfig
	log     *zap.Logger
}

// NewChatService constructs a ChatService.
func NewChatService(matcher *Matcher, ph PHInterpreter, cfg ChatConfig, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Jitter == nil {
		cfg.Jitter = rand.Intn
	}
	return &ChatService{Matcher: matcher, PH: ph, cfg: cfg, log: logger}
}

// Knowledge returns the knowledge base the service answers from.
func (s *ChatService) Knowledge() *knowledge.Base {
	return s.Matcher.kb
}

// Reply generates the assistant's answer to a farmer message.  On error a
// usable fallback text is still returned.
func (s *ChatService) Reply(ctx context.Context, sessionID string, message string) (string, error) {
	if IsPHQuestion(message) {
		if s.PH == nil {
			return s.Matcher.Fallback(), ErrNoInterpreter
		}
		s.log.Debug("routing to pH interpreter", zap.String("session_id", sessionID))
		return s.PH.Interpret(ctx, message)
	}

	if err := s.think(ctx); err != nil {
		return s.Matcher.Fallback(), err
	}

	res := s.Matcher.Match(message)
	switch res.Kind {
	case KindCategory:
		s.log.Debug("category shortcut", zap.String("session_id", sessionID), zap.String("category", res.Category.ID))
	case KindDisease:
		s.log.Debug("disease match", zap.String("session_id", sessionID),
			zap.String("disease", res.Disease.ID), zap.Int("score", res.Score))
	default:
		if t := s.topic(message); t != nil {
			s.log.Debug("topic match", zap.String("session_id", sessionID), zap.String("topic", t.ID))
			return pick(s.Matcher.choose, t.Responses), nil
		}
	}
	return s.Matcher.Render(res), nil
}

// topic returns the first general topic whose keyword appears in the message.
func (s *ChatService) topic(message string) *knowledge.Topic {
	q := strings.ToLower(message)
	topics := s.Matcher.kb.Topics
	for i := range topics {
		for _, kw := range topics[i].Keywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				return &topics[i]
			}
		}
	}
	return nil
}

func (s *ChatService) think(ctx context.Context) error {
	d := s.cfg.ThinkMin
	if s.cfg.ThinkJitter > 0 {
		d += time.Duration(s.cfg.Jitter(int(s.cfg.ThinkJitter/time.Millisecond)+1)) * time.Millisecond
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
