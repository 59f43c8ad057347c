package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// DefaultLang is used for keys missing from a locale.
const DefaultLang = "en"

type Translator struct {
	lang         string
	translations map[string]string
	fallback     map[string]string
}

// NewTranslator loads locales/<lang>.yaml from fsys. Keys missing there
// fall back to the default locale.
func NewTranslator(fsys fs.FS, lang string) (*Translator, error) {
	fallback, err := load(fsys, DefaultLang)
	if err != nil {
		return nil, err
	}
	translations := fallback
	if lang != DefaultLang {
		if translations, err = load(fsys, lang); err != nil {
			return nil, err
		}
	}
	return &Translator{lang: lang, translations: translations, fallback: fallback}, nil
}

func load(fsys fs.FS, lang string) (map[string]string, error) {
	p := path.Join("locales", lang+".yaml")
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return nil, fmt.Errorf("read translation file %s: %w", p, err)
	}
	return newTranslationsFromBytes(data)
}

func newTranslationsFromBytes(data []byte) (map[string]string, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("parse translation file: %w", err)
	}
	return translations, nil
}

func (t *Translator) Lang() string { return t.lang }

// T returns the text for key formatted with args, or key itself if no
// locale has it.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		if format, ok = t.fallback[key]; !ok {
			return key
		}
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}
