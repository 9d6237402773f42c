package models

// Classifier is a node in the goods/services taxonomy, keyed by a dotted code
// such as "1.02.01". Names are nil when the source sheet had no label.
type Classifier struct {
	Code       string  `json:"code" db:"code"`
	NameUz     *string `json:"name_uz" db:"name_uz"`
	NameRu     *string `json:"name_ru" db:"name_ru"`
	NameEn     *string `json:"name_en" db:"name_en"`
	NameUzc    *string `json:"name_uzc" db:"name_uzc"`
	ParentCode *string `json:"parent_code" db:"parent_code"`
}

// ClassifierFilter narrows catalog listings. Search matches code or any name,
// case-insensitively.
type ClassifierFilter struct {
	Search string
	Offset int
	Limit  int
}
