package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"flockvet/internal/llm"
	"flockvet/pkg"
)

// Summarizer builds the veterinarian-facing digest of a session.  Findings
// come from running every farmer message through the Matcher; the free text
// comes from the LLM when one is configured.
type Summarizer struct {
	Matcher *Matcher
	LLM     llm.Client
	log     *zap.Logger
}

// NewSummarizer constructs a summariser.  client may be nil.
func NewSummarizer(matcher *Matcher, client llm.Client, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{Matcher: matcher, LLM: client, log: logger}
}

// Summarize analyses the transcript, ordered chronologically, and produces a
// Summary.  When the LLM fails the summary still carries the local findings
// and the error is returned alongside it.
func (s *Summarizer) Summarize(ctx context.Context, sessionID string, transcript []pkg.Message) (*pkg.Summary, error) {
	var (
		keyPoints  []string
		categories []string
		diseases   []string
		farmerMsgs []string
		emergency  bool
		phAsked    bool
		seen       = make(map[string]bool)
	)
	add := func(key, point string) {
		if seen[key] {
			return
		}
		seen[key] = true
		keyPoints = append(keyPoints, point)
	}

	for _, m := range transcript {
		if !m.IsUser() {
			continue
		}
		farmerMsgs = append(farmerMsgs, m.Text)
		if IsPHQuestion(m.Text) {
			if !phAsked {
				phAsked = true
				add("ph", "Asked about pH / acid-base balance")
			}
			continue
		}
		res := s.Matcher.Match(m.Text)
		switch res.Kind {
		case KindCategory:
			if !seen["c:"+res.Category.ID] {
				categories = append(categories, res.Category.ID)
			}
			add("c:"+res.Category.ID, res.Category.Label+" reported")
			emergency = emergency || res.Category.Emergency
		case KindDisease:
			if !seen["d:"+res.Disease.ID] {
				diseases = append(diseases, res.Disease.ID)
			}
			add("d:"+res.Disease.ID, "Suspected "+res.Disease.Name)
		}
	}
	if len(keyPoints) == 0 {
		keyPoints = []string{"No specific findings yet"}
	}

	summary := &pkg.Summary{
		SessionID: sessionID,
		KeyPoints: keyPoints,
		Structured: map[string]interface{}{
			"categories":      nonNil(categories),
			"diseases":        nonNil(diseases),
			"emergency":       emergency,
			"farmer_messages": len(farmerMsgs),
		},
		FreeText:  localSummary(len(farmerMsgs), keyPoints, emergency),
		Emergency: emergency,
		UpdatedAt: time.Now().UTC(),
	}

	if s.LLM == nil || len(farmerMsgs) == 0 {
		return summary, nil
	}
	prompt := SummarizationInstruction + "\n\nFarmer messages:\n- " + strings.Join(farmerMsgs, "\n- ") +
		"\n\nAutomatic findings:\n- " + strings.Join(keyPoints, "\n- ")
	resp, err := s.LLM.Summarize(ctx, prompt)
	if err != nil {
		s.log.Warn("llm summary failed, keeping local summary", zap.String("session_id", sessionID), zap.Error(err))
		return summary, err
	}
	if strings.TrimSpace(resp) != "" {
		summary.FreeText = resp
	}
	return summary, nil
}

func localSummary(n int, keyPoints []string, emergency bool) string {
	text := fmt.Sprintf("%d farmer message(s). %s.", n, strings.Join(keyPoints, "; "))
	if emergency {
		text = "URGENT: birds are dying. " + text
	}
	return text
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
