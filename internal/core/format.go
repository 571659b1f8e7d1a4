package core

import (
	"strings"

	"flockvet/internal/knowledge"
)

// ClosingAdvice ends every disease profile.
const ClosingAdvice = "⚠️ **Immediate Action:** Isolate affected birds and contact a veterinarian for proper diagnosis and treatment."

// FormatDisease renders the full profile of a disease record.
func FormatDisease(d knowledge.DiseaseRecord) string {
	var b strings.Builder
	b.WriteString("🦠 **" + d.Name + "**\n\n")
	b.WriteString("**Type:** " + d.Type + "\n\n")
	b.WriteString("**Symptoms:**\n")
	for i, s := range d.Symptoms {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("• " + s)
	}
	b.WriteString("\n\n")
	b.WriteString("**Transmission:** " + d.Transmission + "\n\n")
	b.WriteString("**Prevention:** " + d.Prevention + "\n\n")
	b.WriteString("**Treatment:** " + d.Treatment + "\n\n")
	b.WriteString("**Mortality Rate:** " + d.Mortality + "\n\n")
	b.WriteString("**Incubation Period:** " + d.Incubation + "\n\n")
	b.WriteString(ClosingAdvice)
	return b.String()
}
