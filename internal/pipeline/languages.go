package pipeline

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DefaultLanguage is the caption language of the remote service; runs targeting it skip translation.
const DefaultLanguage = "en"

type Region string

const (
	RegionIndian        Region = "indian"
	RegionInternational Region = "international"
)

type Language struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"native_name"`
	Region     Region `json:"region"`
}

var languages = []Language{
	{Code: "en", Name: "English", NativeName: "English", Region: RegionIndian},
	{Code: "hi", Name: "Hindi", NativeName: "हिन्दी", Region: RegionIndian},
	{Code: "pa", Name: "Punjabi", NativeName: "ਪੰਜਾਬੀ", Region: RegionIndian},
	{Code: "bn", Name: "Bengali", NativeName: "বাংলা", Region: RegionIndian},
	{Code: "ta", Name: "Tamil", NativeName: "தமிழ்", Region: RegionIndian},
	{Code: "te", Name: "Telugu", NativeName: "తెలుగు", Region: RegionIndian},
	{Code: "mr", Name: "Marathi", NativeName: "मराठी", Region: RegionIndian},
	{Code: "gu", Name: "Gujarati", NativeName: "ગુજરાતી", Region: RegionIndian},
	{Code: "kn", Name: "Kannada", NativeName: "ಕನ್ನಡ", Region: RegionIndian},
	{Code: "ml", Name: "Malayalam", NativeName: "മലയാളം", Region: RegionIndian},
	{Code: "or", Name: "Odia", NativeName: "ଓଡ଼ିଆ", Region: RegionIndian},
	{Code: "as", Name: "Assamese", NativeName: "অসমীয়া", Region: RegionIndian},

	{Code: "es", Name: "Spanish", NativeName: "Español", Region: RegionInternational},
	{Code: "fr", Name: "French", NativeName: "Français", Region: RegionInternational},
	{Code: "de", Name: "German", NativeName: "Deutsch", Region: RegionInternational},
	{Code: "it", Name: "Italian", NativeName: "Italiano", Region: RegionInternational},
	{Code: "pt", Name: "Portuguese", NativeName: "Português", Region: RegionInternational},
	{Code: "ru", Name: "Russian", NativeName: "Русский", Region: RegionInternational},
	{Code: "ar", Name: "Arabic", NativeName: "العربية", Region: RegionInternational},
	{Code: "zh-cn", Name: "Chinese (Simplified)", NativeName: "简体中文", Region: RegionInternational},
	{Code: "ja", Name: "Japanese", NativeName: "日本語", Region: RegionInternational},
	{Code: "ko", Name: "Korean", NativeName: "한국어", Region: RegionInternational},
}

// Languages returns the languages offered for captions and speech.
func Languages() []Language {
	ret := make([]Language, len(languages))
	copy(ret, languages)
	return ret
}

// NormalizeLanguage lower-cases and trims code; empty becomes DefaultLanguage.
func NormalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return DefaultLanguage
	}
	return code
}

// LookupLanguage finds a listed language by code. Codes outside the list that
// still parse as language tags get a name from the CLDR display tables.
func LookupLanguage(code string) (Language, bool) {
	code = NormalizeLanguage(code)
	for _, l := range languages {
		if l.Code == code {
			return l, true
		}
	}
	tag, err := language.Parse(code)
	if err != nil {
		return Language{}, false
	}
	return Language{
		Code:       code,
		Name:       display.English.Tags().Name(tag),
		NativeName: display.Self.Name(tag),
		Region:     RegionInternational,
	}, true
}

// SearchLanguages filters by code, English name or native name, case-insensitively.
func SearchLanguages(query string) []Language {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return Languages()
	}
	var ret []Language
	for _, l := range languages {
		if strings.Contains(strings.ToLower(l.Name), query) ||
			strings.Contains(strings.ToLower(l.NativeName), query) ||
			strings.Contains(l.Code, query) {
			ret = append(ret, l)
		}
	}
	return ret
}
