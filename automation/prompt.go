package automation

import (
	"strings"

	"github.com/zapfunnel/zapfunnel/domains/crm"
)

// BuildPrompt assembles the system prompt: the persona's static prompt first,
// then its active sections in priority order.
func BuildPrompt(persona *crm.Persona, sections []crm.PromptSection) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(persona.SystemPrompt))

	if !persona.UseRAG {
		return sb.String()
	}

	for _, s := range sections {
		content := strings.TrimSpace(s.Content)
		if content == "" {
			continue
		}
		sb.WriteString("\n\n")
		if title := strings.TrimSpace(s.Title); title != "" {
			sb.WriteString("## " + title + "\n")
		}
		sb.WriteString(content)
	}
	return sb.String()
}

var (
	ptStopwords = []string{" não ", " você ", " para ", " como ", " isso ", " obrigad", " quero ", " preciso ", " olá", " bom dia", " boa tarde", " boa noite"}
	esStopwords = []string{" usted ", " gracias", " hola", " necesito ", " quiero ", " cómo ", " buenos días", " buenas tardes"}
)

// DetectLanguage guesses the contact's language from one message so prompt
// sections bound to a language can be filtered. Defaults to Portuguese, the
// product's primary market; an empty return would match every section.
func DetectLanguage(text string) string {
	t := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	if t == "  " {
		return "pt"
	}
	for _, w := range esStopwords {
		if strings.Contains(t, w) {
			return "es"
		}
	}
	for _, w := range ptStopwords {
		if strings.Contains(t, w) {
			return "pt"
		}
	}
	for _, w := range []string{" the ", " you ", " please ", " hello", " thanks", " i need ", " how "} {
		if strings.Contains(t, w) {
			return "en"
		}
	}
	return "pt"
}
