package dubbing

import (
	"strings"

	"golang.org/x/text/language"
)

const (
	DefaultLanguageTag = "en-US"
	DefaultVoice       = "nova"
	defaultShortCode   = "en"
)

var supportedLanguageTags = []string{
	"fr-FR", "fr-CA", "fr-BE", "fr-CH",
	"en-US", "en-GB", "en-AU", "en-CA",
	"es-ES", "es-MX", "es-AR",
	"pt-PT", "pt-BR",
	"it-IT", "de-DE", "nl-NL",
	"sv-SE", "no-NO", "da-DK", "fi-FI",
	"pl-PL", "cs-CZ", "el-GR",
	"ja-JP", "ko-KR", "zh-CN", "zh-HK",
	"hi-IN", "id-ID", "th-TH", "vi-VN",
	"ar-SA", "ar-EG", "tr-TR",
}

var supportedVoices = map[string]struct{}{
	"alloy": {}, "nova": {}, "shimmer": {}, "verse": {}, "echo": {}, "fable": {},
	"onyx": {}, "wind": {}, "robotic": {}, "sage": {}, "coral": {},
}

var sampleScripts = map[string]string{
	"en": "Welcome to AurisVoice, the AI-powered voice dubbing platform.",
	"fr": "Bienvenue sur AurisVoice, la plateforme de doublage vocal par intelligence artificielle.",
	"es": "Bienvenido a AurisVoice, la plataforma de doblaje de voz con inteligencia artificial.",
	"de": "Willkommen bei AurisVoice, der KI-gestützten Sprachsynchronisationsplattform.",
	"it": "Benvenuti su AurisVoice, la piattaforma di doppiaggio vocale basata su intelligenza artificiale.",
	"pt": "Bem-vindo ao AurisVoice, a plataforma de dublagem de voz com inteligência artificial.",
	"nl": "Welkom bij AurisVoice, het AI-gestuurde stemdubbingplatform.",
	"ja": "AurisVoiceへようこそ、AIを活用した音声吹き替えプラットフォームです。",
	"ko": "AurisVoice에 오신 것을 환영합니다. AI 기반 음성 더빙 플랫폼입니다.",
	"zh": "欢迎使用AurisVoice，AI驱动的语音配音平台。",
	"ar": "مرحباً بك في AurisVoice، منصة الدبلجة الصوتية المدعومة بالذكاء الاصطناعي.",
}

// Language is a whitelisted BCP-47 tag plus its base language code.
type Language struct {
	Tag   string
	Short string
}

type languageIndex struct {
	byTag  map[string]Language
	byBase map[string]Language
}

var languages = buildLanguageIndex(supportedLanguageTags)

func buildLanguageIndex(tags []string) languageIndex {
	index := languageIndex{byTag: map[string]Language{}, byBase: map[string]Language{}}
	for _, raw := range tags {
		tag := language.MustParse(raw)
		base, _ := tag.Base()
		entry := Language{Tag: raw, Short: base.String()}
		index.byTag[tag.String()] = entry
		if _, exists := index.byBase[entry.Short]; !exists {
			index.byBase[entry.Short] = entry
		}
	}
	return index
}

// NormalizeLanguage maps user input onto a supported tag. Bare codes resolve to the
// first supported region for that language; anything unknown falls back to en-US.
func NormalizeLanguage(raw string) Language {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "-")
	fallback := languages.byTag[DefaultLanguageTag]
	if trimmed == "" {
		return fallback
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return fallback
	}
	if entry, ok := languages.byTag[tag.String()]; ok {
		return entry
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return fallback
	}
	if entry, ok := languages.byBase[base.String()]; ok {
		return entry
	}
	return fallback
}

// SupportedLanguages lists the accepted tags in display order.
func SupportedLanguages() []string {
	return append([]string(nil), supportedLanguageTags...)
}

// NormalizeVoice lowercases a voice name and falls back to nova when unknown.
func NormalizeVoice(raw string) string {
	voice := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := supportedVoices[voice]; ok {
		return voice
	}
	return DefaultVoice
}

// ScriptFor returns the sample narration for a language.
func ScriptFor(lang Language) string {
	if script, ok := sampleScripts[lang.Short]; ok {
		return script
	}
	return sampleScripts[defaultShortCode]
}
