package services

import "golang.org/x/text/language"

// Fallback holds the replies shown in place of a missing assistant answer.
type Fallback struct {
	Tag        language.Tag
	Completion string // the provider failed or timed out
	TooLarge   string // the conversation no longer fits the context limit
}

var fallbacks = []Fallback{
	{
		Tag:        language.BrazilianPortuguese,
		Completion: "Ops! Houve um erro ao se comunicar com o Agente IA. Tente novamente em instantes.",
		TooLarge:   "Nossa conversa ficou longa demais para o Agente IA. Resuma sua pergunta ou comece um novo assunto.",
	},
	{
		Tag:        language.English,
		Completion: "Oops! Something went wrong while talking to the AI mentor. Please try again in a moment.",
		TooLarge:   "Our conversation has grown too long for the AI mentor. Please summarize your question or start a new topic.",
	},
}

var fallbackMatcher = language.NewMatcher(func() []language.Tag {
	tags := make([]language.Tag, len(fallbacks))
	for i, f := range fallbacks {
		tags[i] = f.Tag
	}
	return tags
}())

// FallbackFor picks the closest supported fallback set for a BCP 47 locale.
// Unparseable or unsupported locales get Brazilian Portuguese.
func FallbackFor(locale string) Fallback {
	tag, err := language.Parse(locale)
	if err != nil {
		return fallbacks[0]
	}
	_, idx, conf := fallbackMatcher.Match(tag)
	if conf == language.No {
		return fallbacks[0]
	}
	return fallbacks[idx]
}
