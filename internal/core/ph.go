package core

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"flockvet/internal/llm"
)

var phReading = regexp.MustCompile(`(?i)\bph\s*(\d+(?:\.\d+)?)`)

// PHInterpreter answers pH and acid-base questions, which the symptom
// matcher does not handle.
type PHInterpreter interface {
	Interpret(ctx context.Context, question string) (string, error)
}

// IsPHQuestion reports whether a question carries a pH reading or acid-base
// vocabulary and should be routed to a PHInterpreter.
func IsPHQuestion(question string) bool {
	if phReading.MatchString(question) {
		return true
	}
	q := strings.ToLower(question)
	return strings.Contains(q, "acid") || strings.Contains(q, "alkalo")
}

// ParsePH extracts the first pH reading from a question.
func ParsePH(question string) (float64, bool) {
	m := phReading.FindStringSubmatch(question)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// PHService interprets pH questions with an LLM when one is configured and
// with local rules otherwise, or when the LLM fails.
type PHService struct {
	LLM llm.Client
	log *zap.Logger
}

// NewPHService constructs a PHService.  client may be nil.
func NewPHService(client llm.Client, logger *zap.Logger) *PHService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PHService{LLM: client, log: logger}
}

// Interpret implements PHInterpreter.  It does not fail: LLM errors are
// logged and answered locally.
func (p *PHService) Interpret(ctx context.Context, question string) (string, error) {
	if p.LLM != nil {
		resp, err := p.LLM.Chat(ctx, []llm.Message{
			{Role: "system", Content: PHSystemPrompt},
			{Role: "user", Content: question},
		})
		if err == nil && strings.TrimSpace(resp) != "" {
			return resp, nil
		}
		if err != nil {
			p.log.Warn("llm pH interpretation failed, answering locally", zap.Error(err))
		}
	}
	return InterpretPH(question), nil
}

// InterpretPH answers from local rules: drinking-water bands for a reading,
// else a note on alkalosis or acidosis.
func InterpretPH(question string) string {
	if v, ok := ParsePH(question); ok {
		return interpretReading(v)
	}
	q := strings.ToLower(question)
	if strings.Contains(q, "alkalo") {
		return alkalosisAdvice
	}
	return acidosisAdvice
}

func interpretReading(v float64) string {
	switch {
	case v < 0 || v > 14:
		return fmt.Sprintf("💧 **pH %g is not a valid reading**\n\npH runs from 0 to 14. "+
			"Please re-check the meter calibration and repeat the measurement.", v)
	case v < 6.0:
		return fmt.Sprintf("💧 **Water pH %.1f: Too Acidic**\n\n"+
			"Poultry drinking water should be between 6.0 and 8.0 (ideal 6.0-7.0).\n\n"+
			"**Risks:**\n• Reduced water intake\n• Corrosion of drinkers and pipework\n"+
			"• Lower efficacy of water-delivered vaccines and medication\n\n"+
			"**Immediate Actions:**\n1. Check the water source\n2. Reduce or stop any acidifier\n"+
			"3. Flush drinker lines\n4. Re-test within 24 hours", v)
	case v <= 8.0:
		return fmt.Sprintf("💧 **Water pH %.1f: Acceptable**\n\n"+
			"This is within the acceptable range for poultry drinking water (6.0-8.0). "+
			"The ideal band is 6.0-7.0.\n\n"+
			"**Keep Doing:**\n• Test weekly\n• Clean lines between flocks\n"+
			"• Record readings with water consumption", v)
	default:
		return fmt.Sprintf("💧 **Water pH %.1f: Too Alkaline**\n\n"+
			"Poultry drinking water should be between 6.0 and 8.0 (ideal 6.0-7.0).\n\n"+
			"**Risks:**\n• Chlorine sanitation loses effect\n• Bitter taste lowers intake\n"+
			"• Scale builds up in nipple lines\n\n"+
			"**Immediate Actions:**\n1. Test water hardness\n2. Consider an organic acidifier\n"+
			"3. Descale drinker lines\n4. Re-test after treatment", v)
	}
}

const (
	alkalosisAdvice = "⚗️ **Acid-Base Balance: Alkalosis**\n\n" +
		"Respiratory alkalosis is common during heat stress: panting blows off CO2, blood pH rises and " +
		"less calcium is available for shell formation, giving thin eggshells.\n\n" +
		"**Immediate Actions:**\n1. Lower house temperature and improve ventilation\n" +
		"2. Offer cool water with electrolytes\n3. Provide extra calcium in the evening feed\n" +
		"4. Contact veterinarian if mortality rises"

	acidosisAdvice = "⚗️ **Acid-Base Balance: Acidosis**\n\n" +
		"Acidosis in poultry usually follows dehydration, severe diarrhea or kidney damage, and can be " +
		"worsened by overdosing acidifiers in water or feed.\n\n" +
		"**Immediate Actions:**\n1. Provide clean water with electrolytes\n" +
		"2. Check acidifier dosing\n3. Review litter and water quality\n" +
		"4. Contact veterinarian for blood gas testing"
)
