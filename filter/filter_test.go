package filter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Comcast/entitymarkers/assets"
	"github.com/Comcast/entitymarkers/marker"
	"github.com/Comcast/entitymarkers/popup"
	"github.com/Comcast/entitymarkers/world"
)

func str(s string) *string {
	return &s
}

func num(x float64) *float64 {
	return &x
}

func raw(t *testing.T, js string) *RawFilter {
	t.Helper()
	var r RawFilter
	require.NoError(t, json.Unmarshal([]byte(js), &r), js)
	return &r
}

func mustCompile(t *testing.T, js string) *Filter {
	t.Helper()
	f, ds := Compile(raw(t, js), testEnv(), "f")
	require.Empty(t, ds, ds.Error())
	require.NotNil(t, f)
	return f
}

func testEnv() *Env {
	return &Env{
		Assets: assets.NewSet("zombie.png", "mobs/villager.png"),
	}
}

var zedUUID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func zombie(y float64) *world.Entity {
	return &world.Entity{
		UUID:        zedUUID,
		Type:        "ZOMBIE",
		Name:        "Zombie",
		SpawnReason: "NATURAL",
		World:       "overworld",
		Position:    world.Vec3{X: 1, Y: y, Z: 3},
	}
}

func entities() []*world.Entity {
	cow := &world.Entity{
		UUID:     uuid.New(),
		Type:     "COW",
		Name:     "Cow",
		Position: world.Vec3{X: -100, Y: 70, Z: 40},
		Tags:     []string{"farm", "brown"},
		Data:     map[string]interface{}{"age": 3, "owner": "alice"},
	}
	item := &world.Entity{
		UUID:            uuid.New(),
		Type:            world.Item,
		Name:            "Item",
		CustomName:      str("Bob"),
		ItemDisplayName: str("Excalibur"),
	}
	return []*world.Entity{zombie(70), cow, item}
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	f := mustCompile(t, `{}`)
	for _, e := range entities() {
		assert.True(t, f.Matches(e), e.Type)
	}
	assert.Equal(t, popup.DefaultTemplate, f.Template())
	assert.Equal(t, popup.Lines, f.Format())
	_, have := f.MaxDistance()
	assert.False(t, have)
	assert.Equal(t, "", f.Icon())
}

func TestAttributes(t *testing.T) {
	es := entities()
	zombie, cow, item := es[0], es[1], es[2]

	type test struct {
		filter string
		e      *world.Entity
		want   bool
	}
	tests := []test{
		{`{"type":"zombie"}`, zombie, true},
		{`{"type":" ZOMBIE "}`, cow, false},
		{`{"name":"omb"}`, zombie, true},
		{`{"name":"^omb"}`, zombie, false},
		{`{"custom-name":"Bob"}`, zombie, false},
		{`{"custom-name":"^Exc"}`, item, true},
		{`{"custom-name":"Bob"}`, item, false},
		{`{"uuid":"00000000-0000-0000-0000-000000000001"}`, zombie, true},
		{`{"uuid":"00000000-0000-0000-0000-000000000002"}`, zombie, false},
		{`{"spawn-reason":"natural"}`, zombie, true},
		{`{"spawn-reason":"SPAWNER"}`, zombie, false},
		{`{"instance-of":"Monster"}`, zombie, true},
		{`{"instance-of":"org.bukkit.entity.Animals"}`, cow, true},
		{`{"instance-of":"Monster"}`, cow, false},
		{`{"min-y":70,"max-y":70}`, zombie, true},
		{`{"min-x":2}`, zombie, false},
		{`{"max-z":2.5}`, zombie, false},
		{`{"scoreboard-tags":[]}`, zombie, true},
		{`{"scoreboard-tags":["farm"]}`, cow, true},
		{`{"scoreboard-tags":["farm","white"]}`, cow, false},
		{`{"data":{}}`, zombie, true},
		{`{"data":{"age":"?<5"}}`, cow, true},
		{`{"data":{"age":"?>5"}}`, cow, false},
		{`{"data":{"owner":"alice"}}`, zombie, false},
		{`{"script":"entity.type === 'COW' && entity.data.age > 2"}`, cow, true},
		{`{"script":"entity.position.y < 0"}`, cow, false},
		{`{"script":"_.inCategory('Monster')"}`, zombie, true},
		{`{"script":"_.match({owner:'?'}, entity.data)"}`, cow, true},
		{`{"type":"COW","name":"Cow","scoreboard-tags":["brown"]}`, cow, true},
		{`{"type":"COW","name":"Pig"}`, cow, false},
	}

	for _, tc := range tests {
		t.Run(tc.filter, func(t *testing.T) {
			f := mustCompile(t, tc.filter)
			assert.Equal(t, tc.want, f.Matches(tc.e))
		})
	}
}

func TestExclusion(t *testing.T) {
	f := mustCompile(t, `{"type":"VILLAGER","exclude":[{"scoreboard-tags":["hidden"]}]}`)

	v := &world.Entity{UUID: uuid.New(), Type: "VILLAGER"}
	assert.True(t, f.Matches(v))

	v.Tags = []string{"hidden"}
	assert.False(t, f.Matches(v))

	// Nested exclusions.
	f = mustCompile(t, `{"instance-of":"Monster","exclude":[{"type":"ZOMBIE","exclude":[{"name":"Boss"}]}]}`)
	z := zombie(0)
	assert.False(t, f.Matches(z))
	z.Name = "Zombie Boss"
	assert.True(t, f.Matches(z))
}

func TestDiagnostics(t *testing.T) {
	type test struct {
		filter string
		path   string
		substr string
	}
	tests := []test{
		{`{"min-x":10,"max-x":5}`, "f.min-x", "greater"},
		{`{"min-y":1,"max-y":0}`, "f.min-y", "greater"},
		{`{"min-z":1,"max-z":0}`, "f.min-z", "greater"},
		{`{"type":"DRAGONFLY"}`, "f.type", "invalid entity type"},
		{`{"spawn-reason":"WIZARDRY"}`, "f.spawn-reason", "invalid spawn reason"},
		{`{"instance-of":"Wizard"}`, "f.instance-of", "invalid class"},
		{`{"uuid":"nope"}`, "f.uuid", "invalid UUID"},
		{`{"name":"  "}`, "f.name", "empty"},
		{`{"custom-name":""}`, "f.custom-name", "empty"},
		{`{"name":"("}`, "f.name", "regular expression"},
		{`{"icon":" "}`, "f.icon", "empty"},
		{`{"icon":"creeper.png"}`, "f.icon", "does not exist"},
		{`{"anchor":{"x":1,"y":2}}`, "f.anchor", "no icon"},
		{`{"icon":"zombie.png","anchor":{"x":1}}`, "f.anchor", "both x and y"},
		{`{"max-distance":-1}`, "f.max-distance", "negative"},
		{`{"popup-info-template":"\n "}`, "f.popup-info-template", "empty"},
		{`{"popup-format":"html"}`, "f.popup-format", "unknown popup format"},
		{`{"script":"entity.type ==="}`, "f.script", "compile"},
		{`{"script":" "}`, "f.script", "empty"},
		{`{"data":[1,2]}`, "f.data", "must be a map"},
		{`{"data":{"n":"?<x"}}`, "f.data", "bad inequality"},
		{`{"exclude":[{"type":"ZOMBIE"}]}`, "f", "only an exclude"},
		{`{"type":"ZOMBIE","exclude":[{"min-x":3,"max-x":1}]}`, "f.exclude[0].min-x", "greater"},
		{`{"type":"ZOMBIE","exclude":[null]}`, "f.exclude[0]", "empty"},
	}

	for _, tc := range tests {
		t.Run(tc.filter, func(t *testing.T) {
			f, ds := Compile(raw(t, tc.filter), testEnv(), "f")
			assert.Nil(t, f)
			require.NotEmpty(t, ds)
			found := false
			for _, d := range ds {
				if d.Path == tc.path && strings.Contains(d.Message, tc.substr) {
					found = true
				}
			}
			assert.True(t, found, "%v", ds)
		})
	}
}

func TestDiagnosticsCollected(t *testing.T) {
	_, ds := Compile(raw(t, `{"type":"DRAGONFLY","uuid":"x","max-distance":-3}`), testEnv(), "f")
	require.Len(t, ds, 3)
	assert.Contains(t, ds.Error(), "f.type: invalid entity type")
	assert.Error(t, ds.Err())
	assert.NoError(t, Diagnostics(nil).Err())

	var target Diagnostics
	assert.True(t, errors.As(ds.Err(), &target))
}

func TestDisplayAttributes(t *testing.T) {
	f := mustCompile(t, `{"type":"VILLAGER","icon":"mobs/villager.png","anchor":{"x":12,"y":-4},"max-distance":250,"popup-info-template":"  {name}\nhi  ","popup-format":"markdown"}`)
	assert.Equal(t, "mobs/villager.png", f.Icon())
	assert.Equal(t, 12, f.Anchor().X)
	assert.Equal(t, -4, f.Anchor().Y)
	d, have := f.MaxDistance()
	require.True(t, have)
	assert.Equal(t, 250.0, d)
	assert.Equal(t, "{name}\nhi", f.Template())
	assert.Equal(t, popup.Markdown, f.Format())
}

func TestFractionalAnchor(t *testing.T) {
	f := mustCompile(t, `{"icon":"mobs/villager.png","anchor":{"x":1.5,"y":-2.7}}`)
	assert.Equal(t, marker.Anchor{X: 1, Y: -2}, f.Anchor())
}

func TestNilAssets(t *testing.T) {
	f, ds := Compile(raw(t, `{"icon":"anything.png"}`), nil, "")
	require.Empty(t, ds)
	assert.Equal(t, "anything.png", f.Icon())
}

func TestScriptTimeout(t *testing.T) {
	f, ds := Compile(raw(t, `{"script":"(function(){ while (true) {} })()"}`), &Env{ScriptTimeout: 20 * time.Millisecond}, "f")
	require.Empty(t, ds)

	ok, err := f.Eval(context.Background(), zombie(0))
	assert.False(t, ok)
	assert.ErrorIs(t, err, Interrupted)
	assert.False(t, f.Matches(zombie(0)))
}

func TestScriptCanceled(t *testing.T) {
	s, err := CompileScript("(function(){ while (true) {} })()", nil, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = s.Eval(ctx, zombie(0))
	assert.ErrorIs(t, err, Interrupted)
}

func TestScriptError(t *testing.T) {
	f := mustCompile(t, `{"script":"entity.nothing.here"}`)
	ok, err := f.Eval(context.Background(), zombie(0))
	assert.False(t, ok)
	assert.Error(t, err)
}
