package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParent_FullBatch(t *testing.T) {
	b := NewBatch([]string{"1", "1.02", "1.02.01"})

	assert.Equal(t, "", b.Parent("1"))
	assert.Equal(t, "1", b.Parent("1.02"))
	assert.Equal(t, "1.02", b.Parent("1.02.01"))
}

func TestParent_MissingAncestor(t *testing.T) {
	b := NewBatch([]string{"1.02", "1.02.01"})

	assert.Equal(t, "", b.Parent("1.02"))
	assert.Equal(t, "1.02", b.Parent("1.02.01"))
}

func TestOrdered_AncestorsFirst(t *testing.T) {
	b := NewBatch([]string{"1.02.01", "2", "1.10", "1", "1.02", "1.02", "10"})

	assert.Equal(t, 6, b.Len())
	assert.Equal(t, []string{"1", "2", "10", "1.02", "1.10", "1.02.01"}, b.Ordered())

	pos := map[string]int{}
	for i, c := range b.Ordered() {
		pos[c] = i
	}
	for _, c := range b.Ordered() {
		if p := b.Parent(c); p != "" {
			assert.Less(t, pos[p], pos[c], "%s before %s", p, c)
		}
	}
}
