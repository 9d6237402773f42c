package classifier

import "cpi_pulse/models"

const DefaultLang = "uz"

// Languages lists the supported label languages, default first.
var Languages = []string{"uz", "ru", "en", "uzc"}

// NormalizeLang maps unknown or empty values to the default language.
func NormalizeLang(lang string) string {
	for _, l := range Languages {
		if l == lang {
			return lang
		}
	}
	return DefaultLang
}

// Label picks the name in lang, falling back to the Uzbek name and then to
// the code itself.
func Label(c *models.Classifier, lang string) string {
	if c == nil {
		return ""
	}
	var name *string
	switch NormalizeLang(lang) {
	case "ru":
		name = c.NameRu
	case "en":
		name = c.NameEn
	case "uzc":
		name = c.NameUzc
	}
	if name != nil && *name != "" {
		return *name
	}
	if c.NameUz != nil && *c.NameUz != "" {
		return *c.NameUz
	}
	return c.Code
}
