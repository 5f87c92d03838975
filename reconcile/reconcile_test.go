package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Comcast/entitymarkers/assets"
	"github.com/Comcast/entitymarkers/filter"
	"github.com/Comcast/entitymarkers/internal/testutil"
	"github.com/Comcast/entitymarkers/marker"
	"github.com/Comcast/entitymarkers/world"
)

func group(t *testing.T, id, js string) *filter.Set {
	t.Helper()
	return testutil.Group(t, id, js, &filter.Env{Assets: assets.NewSet("zombie.png")})
}

func markers(t *testing.T, b marker.Backend, target, key string) []*marker.Marker {
	t.Helper()
	ss, err := b.Sets(target)
	require.NoError(t, err)
	s, have := ss.Get(key)
	require.True(t, have, key)
	return s.Snapshot().Markers
}

func TestZombieScenario(t *testing.T) {
	ctx := context.Background()
	backend := marker.NewMemory()
	b := NewBuilder(backend, nil, zaptest.NewLogger(t))

	g := group(t, "zombies", `{"label":"Zombies","filters":[{"type":"ZOMBIE","min-y":60}]}`)
	high := testutil.Entity("ZOMBIE", 70)
	low := testutil.Entity("ZOMBIE", 40)
	player := testutil.Entity(world.Player, 70)

	r := b.Process(ctx, "T", []*world.Entity{high, low, player}, []*filter.Set{g})
	assert.Equal(t, 1, r.Groups)
	assert.Equal(t, 1, r.Markers)
	assert.Equal(t, 0, r.Failed)
	assert.False(t, r.Skipped)

	ms := markers(t, backend, "T", "T_zombies_entities")
	require.Len(t, ms, 1)
	m := ms[0]
	assert.Equal(t, "bmfe."+high.UUID.String(), m.ID)
	assert.Equal(t, "Name: ZOMBIE", m.Label)
	assert.Contains(t, m.Detail, "<br>Type: ZOMBIE<br>")
	assert.NotContains(t, m.Detail, "\n")
	assert.Equal(t, high.Position, m.Position)
	assert.Equal(t, []string{marker.DefaultStyle}, m.Classes)
	assert.Empty(t, m.Icon)
	assert.Nil(t, m.Anchor)
	assert.Nil(t, m.MaxDistance)
}

func TestPlayersNeverMatched(t *testing.T) {
	backend := marker.NewMemory()
	b := NewBuilder(backend, nil, nil)
	g := group(t, "all", `{"label":"All","filters":[{}]}`)

	r := b.Process(context.Background(), "T", []*world.Entity{testutil.Entity(world.Player, 0)}, []*filter.Set{g})
	assert.Equal(t, 0, r.Markers)
	assert.Empty(t, markers(t, backend, "T", "T_all_entities"))
}

func TestVillagerExclusion(t *testing.T) {
	ctx := context.Background()
	backend := marker.NewMemory()
	b := NewBuilder(backend, nil, nil)
	g := group(t, "v", `{"label":"Villagers","filters":[{"type":"VILLAGER","exclude":[{"scoreboard-tags":["hidden"]}]}]}`)

	hidden := testutil.Entity("VILLAGER", 64)
	hidden.Tags = []string{"hidden"}
	b.Process(ctx, "T", []*world.Entity{hidden}, []*filter.Set{g})
	assert.Empty(t, markers(t, backend, "T", "T_v_entities"))

	b.Process(ctx, "T", []*world.Entity{testutil.Entity("VILLAGER", 64)}, []*filter.Set{g})
	assert.Len(t, markers(t, backend, "T", "T_v_entities"), 1)
}

func TestIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := marker.NewMemory()
	b := NewBuilder(backend, nil, nil)
	g := group(t, "g", `{"label":"G","filters":[{"instance-of":"Monster"}]}`)
	es := []*world.Entity{testutil.Entity("ZOMBIE", 1), testutil.Entity("CREEPER", 2), testutil.Entity("COW", 3)}

	b.Process(ctx, "T", es, []*filter.Set{g})
	first := markers(t, backend, "T", "T_g_entities")
	b.Process(ctx, "T", es, []*filter.Set{g})
	second := markers(t, backend, "T", "T_g_entities")

	require.Len(t, first, 2)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second tick differs (-first +second):\n%s", diff)
	}
}

func TestClearAndRebuild(t *testing.T) {
	ctx := context.Background()
	backend := marker.NewMemory()
	b := NewBuilder(backend, nil, nil)
	g := group(t, "g", `{"label":"G","filters":[{"type":"ZOMBIE"}]}`)

	z1, z2 := testutil.Entity("ZOMBIE", 1), testutil.Entity("ZOMBIE", 2)
	b.Process(ctx, "T", []*world.Entity{z1, z2}, []*filter.Set{g})
	assert.Len(t, markers(t, backend, "T", "T_g_entities"), 2)

	// z1 is gone.
	b.Process(ctx, "T", []*world.Entity{z2}, []*filter.Set{g})
	ms := markers(t, backend, "T", "T_g_entities")
	require.Len(t, ms, 1)
	assert.Equal(t, "bmfe."+z2.UUID.String(), ms[0].ID)

	// The marker set is created once and reused.
	ss, _ := backend.Sets("T")
	s1, _ := ss.Get("T_g_entities")
	b.Process(ctx, "T", nil, []*filter.Set{g})
	s2, _ := ss.Get("T_g_entities")
	assert.Same(t, s1, s2)
	assert.Equal(t, 0, s2.Len())
}

func TestFirstMatchDisplay(t *testing.T) {
	backend := marker.NewMemory()
	b := NewBuilder(backend, nil, nil)
	g := group(t, "g", `{"label":"G","marker-style":"mob","filters":[
		{"type":"ZOMBIE","icon":"zombie.png","anchor":{"x":8,"y":8},"max-distance":100,"popup-info-template":"P1 {name}"},
		{"instance-of":"Monster","popup-info-template":"P2 {name}"}]}`)

	b.Process(context.Background(), "T", []*world.Entity{testutil.Entity("ZOMBIE", 0)}, []*filter.Set{g})
	ms := markers(t, backend, "T", "T_g_entities")
	require.Len(t, ms, 1)
	m := ms[0]
	assert.Equal(t, "P1 ZOMBIE", m.Label)
	assert.Equal(t, "assets/bmfe-icons/zombie.png", m.Icon)
	assert.Equal(t, &marker.Anchor{X: 8, Y: 8}, m.Anchor)
	require.NotNil(t, m.MaxDistance)
	assert.Equal(t, 100.0, *m.MaxDistance)
	assert.Equal(t, []string{"mob"}, m.Classes)
}

func TestEyeLevel(t *testing.T) {
	backend := marker.NewMemory()
	b := NewBuilder(backend, nil, nil)
	b.EyeLevel = true
	on := group(t, "on", `{"label":"On","filters":[{}]}`)
	off := group(t, "off", `{"label":"Off","eye-level":false,"filters":[{}]}`)

	e := testutil.Entity("COW", 64)
	b.Process(context.Background(), "T", []*world.Entity{e}, []*filter.Set{on, off})

	assert.Equal(t, 65.0, markers(t, backend, "T", "T_on_entities")[0].Position.Y)
	assert.Equal(t, 64.0, markers(t, backend, "T", "T_off_entities")[0].Position.Y)
}

func TestMarkdownDetail(t *testing.T) {
	backend := marker.NewMemory()
	b := NewBuilder(backend, nil, nil)
	g := group(t, "g", `{"label":"G","filters":[{"popup-format":"markdown","popup-info-template":"# {name}\n\n*{world}*"}]}`)

	b.Process(context.Background(), "T", []*world.Entity{testutil.Entity("COW", 0)}, []*filter.Set{g})
	m := markers(t, backend, "T", "T_g_entities")[0]
	assert.Equal(t, "COW", m.Label)
	assert.Contains(t, m.Detail, "<h1>COW</h1>")
	assert.Contains(t, m.Detail, "<em>overworld</em>")
}

func TestGroupFailureIsolated(t *testing.T) {
	backend := marker.NewMemory()
	var published []string
	pub := marker.PublisherFunc(func(ctx context.Context, target, key string, snap *marker.Snapshot) error {
		switch key {
		case "T_a_entities":
			panic("boom")
		case "T_b_entities":
			return errors.New("nope")
		}
		published = append(published, key)
		return nil
	})
	b := NewBuilder(backend, pub, zaptest.NewLogger(t))

	gs := []*filter.Set{
		group(t, "a", `{"label":"A","filters":[{}]}`),
		group(t, "b", `{"label":"B","filters":[{}]}`),
		group(t, "c", `{"label":"C","filters":[{}]}`),
	}
	r := b.Process(context.Background(), "T", []*world.Entity{testutil.Entity("COW", 0)}, gs)
	assert.Equal(t, 2, r.Failed)
	assert.Equal(t, 1, r.Groups)
	assert.Equal(t, 1, r.Markers)
	assert.Equal(t, []string{"T_c_entities"}, published)
}

func TestEvalErrorsCounted(t *testing.T) {
	backend := marker.NewMemory()
	b := NewBuilder(backend, nil, zaptest.NewLogger(t))
	g := group(t, "g", `{"label":"G","filters":[{"script":"entity.data.missing.field"},{"type":"COW"}]}`)

	r := b.Process(context.Background(), "T", []*world.Entity{testutil.Entity("COW", 0), testutil.Entity("PIG", 0)}, []*filter.Set{g})
	assert.Equal(t, 2, r.EvalErrors)
	assert.Equal(t, 1, r.Markers)
}

func TestTargetNotFound(t *testing.T) {
	backend := marker.NewMemory()
	backend.Fixed = true
	b := NewBuilder(backend, nil, zaptest.NewLogger(t))

	r := b.Process(context.Background(), "T", nil, []*filter.Set{group(t, "g", `{"label":"G","filters":[{}]}`)})
	assert.True(t, r.Skipped)
	assert.Equal(t, 0, r.Groups)
}

func TestCanceled(t *testing.T) {
	backend := marker.NewMemory()
	b := NewBuilder(backend, nil, nil)
	g := group(t, "g", `{"label":"G","filters":[{}]}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := b.Process(ctx, "T", []*world.Entity{testutil.Entity("COW", 0)}, []*filter.Set{g})
	assert.True(t, r.Canceled)
	assert.Equal(t, 0, r.Groups)

	ss, _ := backend.Sets("T")
	_, have := ss.Get("T_g_entities")
	assert.False(t, have)
}
