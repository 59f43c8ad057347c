// Package lang maps the language names accepted by the API to the codes
// understood by the ASR and translation collaborators.
package lang

import (
	"sort"
	"strings"
)

var names = map[string]string{
	"en":  "english",
	"zh":  "chinese",
	"de":  "german",
	"es":  "spanish",
	"ru":  "russian",
	"ko":  "korean",
	"fr":  "french",
	"ja":  "japanese",
	"pt":  "portuguese",
	"tr":  "turkish",
	"pl":  "polish",
	"ca":  "catalan",
	"nl":  "dutch",
	"ar":  "arabic",
	"sv":  "swedish",
	"it":  "italian",
	"id":  "indonesian",
	"hi":  "hindi",
	"fi":  "finnish",
	"vi":  "vietnamese",
	"iw":  "hebrew",
	"uk":  "ukrainian",
	"el":  "greek",
	"ms":  "malay",
	"cs":  "czech",
	"ro":  "romanian",
	"da":  "danish",
	"hu":  "hungarian",
	"ta":  "tamil",
	"no":  "norwegian",
	"th":  "thai",
	"ur":  "urdu",
	"hr":  "croatian",
	"bg":  "bulgarian",
	"lt":  "lithuanian",
	"la":  "latin",
	"mi":  "maori",
	"ml":  "malayalam",
	"cy":  "welsh",
	"sk":  "slovak",
	"te":  "telugu",
	"fa":  "persian",
	"lv":  "latvian",
	"bn":  "bengali",
	"sr":  "serbian",
	"az":  "azerbaijani",
	"sl":  "slovenian",
	"kn":  "kannada",
	"et":  "estonian",
	"mk":  "macedonian",
	"br":  "breton",
	"eu":  "basque",
	"is":  "icelandic",
	"hy":  "armenian",
	"ne":  "nepali",
	"mn":  "mongolian",
	"bs":  "bosnian",
	"kk":  "kazakh",
	"sq":  "albanian",
	"sw":  "swahili",
	"gl":  "galician",
	"mr":  "marathi",
	"pa":  "punjabi",
	"si":  "sinhala",
	"km":  "khmer",
	"sn":  "shona",
	"yo":  "yoruba",
	"so":  "somali",
	"af":  "afrikaans",
	"oc":  "occitan",
	"ka":  "georgian",
	"be":  "belarusian",
	"tg":  "tajik",
	"sd":  "sindhi",
	"gu":  "gujarati",
	"am":  "amharic",
	"yi":  "yiddish",
	"lo":  "lao",
	"uz":  "uzbek",
	"fo":  "faroese",
	"ht":  "haitian creole",
	"ps":  "pashto",
	"tk":  "turkmen",
	"nn":  "nynorsk",
	"mt":  "maltese",
	"sa":  "sanskrit",
	"lb":  "luxembourgish",
	"my":  "myanmar",
	"bo":  "tibetan",
	"tl":  "tagalog",
	"mg":  "malagasy",
	"as":  "assamese",
	"tt":  "tatar",
	"haw": "hawaiian",
	"ln":  "lingala",
	"ha":  "hausa",
	"ba":  "bashkir",
	"jw":  "javanese",
	"su":  "sundanese",
}

var codes = func() map[string]string {
	m := make(map[string]string, len(names))
	for code, name := range names {
		m[name] = code
	}
	return m
}()

// Code resolves a language name ("german") or code ("de") to its code.
// It returns "" and false for unknown languages.
func Code(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := codes[s]; ok {
		return c, true
	}
	if _, ok := names[s]; ok {
		return s, true
	}
	return "", false
}

// Name resolves a code or name to the canonical language name.
func Name(s string) (string, bool) {
	c, ok := Code(s)
	if !ok {
		return "", false
	}
	return names[c], true
}

// Language is one entry of the supported table.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// All returns the supported languages sorted by name.
func All() []Language {
	out := make([]Language, 0, len(names))
	for c, n := range names {
		out = append(out, Language{Code: c, Name: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
