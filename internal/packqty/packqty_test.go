package packqty

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_RecognizedPatterns(t *testing.T) {
	cases := []struct {
		desc string
		want int
	}{
		{"Case of 12 widgets", 12},
		{"24 ct bottles", 24},
		{"6-Pack cola", 6},
		{"Pack of 8 sponges", 8},
		{"just a widget", 0},
	}
	for _, c := range cases {
		n, ok := Extract(c.desc)
		if c.want == 0 {
			assert.False(t, ok, c.desc)
			continue
		}
		assert.True(t, ok, c.desc)
		assert.Equal(t, c.want, n, c.desc)
	}
}

func TestApplyPackQuantityRule_RewritesWhenQuantityMissing(t *testing.T) {
	qty, price := ApplyPackQuantityRule("Case of 12 widgets", 1, 24.0)
	assert.Equal(t, 12, qty)
	assert.Equal(t, 2.0, price)
}

func TestApplyPackQuantityRule_LeavesExplicitQuantityAlone(t *testing.T) {
	qty, price := ApplyPackQuantityRule("Case of 12 widgets", 5, 24.0)
	assert.Equal(t, 5, qty)
	assert.Equal(t, 24.0, price)
}

func TestApplyPackQuantityRule_NoPatternMatch(t *testing.T) {
	qty, price := ApplyPackQuantityRule("Standalone widget", 0, 9.99)
	assert.Equal(t, 0, qty)
	assert.Equal(t, 9.99, price)
}

func TestDedup_ExactAndFuzzyDuplicatesCollapse(t *testing.T) {
	items := []Item{
		{Description: "Acme Widget 12oz", Index: 0},
		{Description: "acme widget 12oz", Index: 1},
		{Description: "Acme Widget 12 oz", Index: 2},
		{Description: "Totally Unrelated Product", Index: 3},
	}
	kept := Dedup(items)
	assert.Equal(t, []int{0, 3}, kept)
}
