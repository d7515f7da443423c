package classifier

import (
	"fmt"
	"strings"

	"github.com/exploopio/sentinel/pkg/model"
)

// FlagKey returns the boolean reply key a classifier uses for category.
// Categories without a dedicated key use "flagged".
func FlagKey(c model.Category) string {
	switch c {
	case model.CategoryFraud:
		return "isFraud"
	case model.CategoryHarassment:
		return "isHarassment"
	case model.CategoryBurnout:
		return "isBurnoutIndicator"
	case model.CategoryInformationLeakage:
		return "isInformationLeakage"
	case model.CategoryDissatisfaction:
		return "isDissatisfaction"
	default:
		return "flagged"
	}
}

// SystemPrompt returns the system role message for category.
func SystemPrompt(c model.Category) string {
	switch c {
	case model.CategoryFraud:
		return "You are an expert fraud detection AI. Analyze communications for fraud indicators and respond only with valid JSON."
	case model.CategoryHarassment:
		return "You are an expert harassment detection AI. Analyze communications for harassment indicators and respond only with valid JSON."
	case model.CategoryBurnout:
		return "You are an expert in detecting employee burnout. Analyze communications for burnout indicators and respond only with valid JSON."
	case model.CategoryInformationLeakage:
		return "You are an expert in detecting information leakage. Analyze communications for data security risks and respond only with valid JSON."
	case model.CategoryDissatisfaction:
		return "You are an expert in detecting employee dissatisfaction. Analyze communications for dissatisfaction indicators and respond only with valid JSON."
	default:
		return "You are an expert workplace risk analyst. Analyze the input for the requested risk and respond only with valid JSON."
	}
}

// BuildPrompt renders the user message for req: instructions, the content,
// its locale, and the expected reply shape.
func BuildPrompt(req Request) string {
	locale := req.Locale
	if locale == "" {
		locale = "unknown"
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Instructions))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Communication: %q\n", req.Content)
	fmt.Fprintf(&b, "Language: %s\n\n", locale)
	b.WriteString("Respond with a JSON object containing:\n")
	fmt.Fprintf(&b, "- %s: boolean\n", FlagKey(req.Category))
	b.WriteString("- confidence: number (0-1)\n")
	b.WriteString(`- severity: "LOW", "MEDIUM", "HIGH", or "CRITICAL"` + "\n")
	b.WriteString("- explanation: string\n")
	b.WriteString("- indicators: array of strings\n")
	return b.String()
}

// buildDraftPrompt renders the drafting request.
func buildDraftPrompt(req DraftRequest) string {
	var b strings.Builder
	b.WriteString("Based on the following threat detection, draft an actionable remediation plan.\n\n")
	fmt.Fprintf(&b, "Threat Type: %s\n", req.Category)
	fmt.Fprintf(&b, "Recommendation Type: %s\n", req.Type)
	fmt.Fprintf(&b, "Severity: %s\n", req.Severity)
	fmt.Fprintf(&b, "Title: %s\n", req.Title)
	fmt.Fprintf(&b, "Description: %s\n", req.Description)
	fmt.Fprintf(&b, "Confidence: %.2f\n", req.Confidence)
	fmt.Fprintf(&b, "Language: %s\n\n", req.Locale)
	b.WriteString("Write the reply in that language. Respond with a JSON object containing:\n")
	b.WriteString("- description: string\n")
	b.WriteString("- steps: array of strings\n")
	return b.String()
}
