package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJS(t *testing.T) {
	tests := []struct {
		name string
		arg  interface{}
		want string
	}{
		{
			name: "map",
			arg:  map[string]interface{}{"type": "ZOMBIE"},
			want: `{"type":"ZOMBIE"}`,
		},
		{
			name: "unencodable",
			arg:  func() {},
			want: "(func())",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, JS(tt.arg), tt.want)
		})
	}
}

func TestDwimyaml(t *testing.T) {
	x := Dwimyaml("label: Zombies\nfilters:\n  - type: ZOMBIE\n")
	m, is := x.(map[string]interface{})
	require.True(t, is, JS(x))
	assert.Equal(t, "Zombies", m["label"])

	assert.Equal(t, 42, Dwimyaml(42))
	assert.Panics(t, func() { Dwimyaml("{") })
}

func TestGroup(t *testing.T) {
	g := Group(t, "z", `{"label":"Zombies","filters":[{"type":"ZOMBIE","min-y":60}]}`, nil)
	assert.Equal(t, "z", g.ID)
	assert.Len(t, g.Filters, 1)

	g = Group(t, "y", "label: Zombies\nfilters:\n  - type: ZOMBIE\n", nil)
	assert.Equal(t, "Zombies", g.Label)
}

func TestZombies(t *testing.T) {
	zs := Zombies(3)
	require.Len(t, zs, 3)
	assert.NotEqual(t, zs[0].UUID, zs[1].UUID)
	assert.Equal(t, 2.0, Entity("COW", 1).Height)
}
