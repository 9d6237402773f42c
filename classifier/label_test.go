package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cpi_pulse/models"
)

func strPtr(s string) *string { return &s }

func TestLabel_Fallbacks(t *testing.T) {
	c := &models.Classifier{
		Code:   "1.02",
		NameUz: strPtr("Oziq-ovqat"),
		NameRu: strPtr("Продовольственные товары"),
	}

	assert.Equal(t, "Продовольственные товары", Label(c, "ru"))
	assert.Equal(t, "Oziq-ovqat", Label(c, "en"))
	assert.Equal(t, "Oziq-ovqat", Label(c, "uzc"))
	assert.Equal(t, "Oziq-ovqat", Label(c, "fr"))
	assert.Equal(t, "Oziq-ovqat", Label(c, ""))

	bare := &models.Classifier{Code: "9.99", NameEn: strPtr("")}
	assert.Equal(t, "9.99", Label(bare, "en"))
	assert.Equal(t, "", Label(nil, "uz"))
}
