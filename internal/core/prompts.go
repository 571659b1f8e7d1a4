package core

// prompts.go defines the fixed texts used by the chat, pH and summarisation
// components.  Keeping these prompts in a separate file makes them easy to
// tweak without touching the rest of the code.

const (
	// PHSystemPrompt instructs the LLM when it interprets pH readings and
	// acid-base questions.  Replies must stay short and practical.
	PHSystemPrompt = "You are a poultry veterinary assistant. The farmer is asking about a pH reading " +
		"or acid-base balance in their flock (drinking water, feed acidifiers, acidosis, alkalosis). " +
		"Answer in under 150 words in Markdown: interpret the value or condition, list the likely " +
		"causes and give numbered immediate actions. Recommend a veterinarian for anything clinical."

	// SummarizationInstruction asks the LLM for a short case summary a
	// veterinarian can read before a farm visit.
	SummarizationInstruction = "Write at most 80 words summarising this farmer's conversation. " +
		"Mention the reported symptoms, the suspected diseases and whether birds are dying. " +
		"Do not give a definitive diagnosis."

	// CapMessage is sent when the farmer exceeds the message cap for a
	// session.
	CapMessage = "We have reached the message limit for this conversation. Thank you for the details; " +
		"a veterinarian will review the summary of your case."
)
