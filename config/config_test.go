package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/Comcast/entitymarkers/filter"
	"github.com/Comcast/entitymarkers/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const hostile = `
world: overworld
filter-sets:
  hostile:
    label: Hostile mobs
    sorting: 2
    filters:
      - instance-of: Monster
        exclude:
          - type: CREEPER
  pets:
    label: Pets
    eye-level: true
    filters:
      - instance-of: Tameable
        scoreboard-tags: [pet]
`

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDecodeTarget(t *testing.T) {
	raw, err := DecodeTarget([]byte(hostile))
	require.NoError(t, err)
	require.NotNil(t, raw.World)
	assert.Equal(t, "overworld", *raw.World)
	require.Len(t, raw.FilterSets, 2)
	require.Len(t, raw.FilterSets["hostile"].Filters, 1)
	require.Len(t, raw.FilterSets["hostile"].Filters[0].Exclude, 1)

	tgt, ds := CompileTarget("main", raw, nil)
	require.Empty(t, ds)
	require.NotNil(t, tgt)
	assert.Equal(t, "main", tgt.ID)
	assert.Equal(t, "overworld", tgt.World)
	require.Len(t, tgt.Groups, 2)
	assert.Equal(t, "hostile", tgt.Groups[0].ID)
	assert.Equal(t, 2, tgt.Groups[0].Sorting)
	assert.Equal(t, "pets", tgt.Groups[1].ID)
	require.NotNil(t, tgt.Groups[1].EyeLevel)
	assert.True(t, *tgt.Groups[1].EyeLevel)
}

func TestDecodeTargetJSON(t *testing.T) {
	js := `{"filter-sets":{"cows":{"label":"Cows","filters":[{"type":"COW"}]}}}`
	raw, err := DecodeTarget([]byte(js))
	require.NoError(t, err)
	tgt, ds := CompileTarget("nether", raw, nil)
	require.Empty(t, ds)
	assert.Equal(t, "nether", tgt.World)
	require.Len(t, tgt.Groups, 1)
	assert.Equal(t, "Cows", tgt.Groups[0].Label)
}

func TestFlatFilters(t *testing.T) {
	raw, err := DecodeTarget([]byte("filters:\n  - type: zombie\n"))
	require.NoError(t, err)

	tgt, ds := CompileTarget("overworld", raw, nil)
	require.Empty(t, ds)
	require.Len(t, tgt.Groups, 1)
	g := tgt.Groups[0]
	assert.Equal(t, DefaultGroup, g.ID)
	assert.Equal(t, "overworld", g.Label)
	assert.Equal(t, "overworld_default_entities", filter.MarkerSetKey(tgt.ID, g.ID))

	// Diagnostics of the flat form have short paths.
	raw, err = DecodeTarget([]byte("filters:\n  - type: dragonfly\n"))
	require.NoError(t, err)
	tgt, ds = CompileTarget("overworld", raw, nil)
	assert.Nil(t, tgt)
	require.Len(t, ds, 1)
	assert.Equal(t, "filters[0].type", ds[0].Path)
}

func TestFlatFiltersConflict(t *testing.T) {
	doc := `
filters:
  - type: ZOMBIE
filter-sets:
  default:
    label: Default
    filters:
      - type: COW
`
	raw, err := DecodeTarget([]byte(doc))
	require.NoError(t, err)
	tgt, ds := CompileTarget("x", raw, nil)
	require.NotNil(t, tgt)
	require.Len(t, ds, 1)
	assert.Equal(t, "filters", ds[0].Path)
	require.Len(t, tgt.Groups, 1)
	assert.Equal(t, "Default", tgt.Groups[0].Label)
}

func TestBadGroupsDropped(t *testing.T) {
	doc := `
filter-sets:
  good:
    label: Good
    filters:
      - type: COW
  bad:
    label: Bad
    filters:
      - type: COW
      - min-x: 10
        max-x: 0
  nolabel:
    filters:
      - type: PIG
`
	raw, err := DecodeTarget([]byte(doc))
	require.NoError(t, err)
	tgt, ds := CompileTarget("x", raw, nil)
	require.NotNil(t, tgt)
	require.Len(t, tgt.Groups, 1)
	assert.Equal(t, "good", tgt.Groups[0].ID)

	require.Len(t, ds, 2)
	assert.Equal(t, "filter-sets.bad.filters[1].min-x", ds[0].Path)
	assert.Equal(t, "filter-sets.nolabel.label", ds[1].Path)
}

func TestBadDocuments(t *testing.T) {
	_, err := DecodeTarget([]byte(""))
	assert.ErrorIs(t, err, EmptyDocument)

	_, err = DecodeTarget([]byte("- a\n- b\n"))
	assert.ErrorIs(t, err, NotAMap)

	_, err = DecodeTarget([]byte("filter-sets: [\n"))
	assert.Error(t, err)

	raw, err := DecodeTarget([]byte("world: overworld\n"))
	require.NoError(t, err)
	tgt, ds := CompileTarget("x", raw, nil)
	assert.Nil(t, tgt)
	require.Len(t, ds, 1)
	assert.Equal(t, "filter-sets", ds[0].Path)

	raw, err = DecodeTarget([]byte("filter-sets: {}\n"))
	require.NoError(t, err)
	tgt, ds = CompileTarget("x", raw, nil)
	assert.Nil(t, tgt)
	require.Len(t, ds, 1)

	raw, err = DecodeTarget([]byte("filter-sets:\n  hostile:\n"))
	require.NoError(t, err)
	tgt, ds = CompileTarget("x", raw, nil)
	assert.Nil(t, tgt)
	require.Len(t, ds, 1)
	assert.Equal(t, "filter-sets.hostile", ds[0].Path)

	tgt, ds = CompileTarget("x", nil, nil)
	assert.Nil(t, tgt)
	assert.Len(t, ds, 1)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.json", `{"filters":[{"type":"ZOMBIE"}]}`)
	write(t, dir, "a.yml", "filters:\n  - type: COW\n")
	write(t, dir, "b.json", `{"filter-sets": `)
	write(t, dir, "c.yaml", "filter-sets:\n  x:\n    label: X\n    filters: []\n")
	write(t, dir, "main.yaml", hostile)
	write(t, dir, "notes.txt", "not a target")
	write(t, dir, ".hidden.yaml", hostile)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0755))

	l := NewLoader(dir, nil, zaptest.NewLogger(t))
	s, report, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "main"}, report.Targets)
	assert.Equal(t, []string{"a", "main"}, s.IDs())
	assert.Equal(t, 3, report.Groups)
	assert.False(t, report.OK())

	require.Len(t, report.Problems, 3)
	assert.Equal(t, "a.yml", report.Problems[0].File)
	assert.Contains(t, report.Problems[0].Error, "a.json")
	assert.Equal(t, "b", report.Problems[1].Target)
	assert.NotEmpty(t, report.Problems[1].Error)
	assert.Equal(t, "c", report.Problems[2].Target)
	require.Len(t, report.Problems[2].Diagnostics, 1)
	assert.Equal(t, "filter-sets.x.filters", report.Problems[2].Diagnostics[0].Path)

	a, have := s.Target("a")
	require.True(t, have)
	assert.Equal(t, "a", a.World)
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "main.yaml", hostile)

	reg := registry.New()
	l := NewLoader(dir, nil, zaptest.NewLogger(t))

	report, err := l.Reload(reg)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, uint64(1), reg.Snapshot().Version)
	assert.Equal(t, 1, reg.Snapshot().Len())

	// An unreadable directory leaves the registry alone.
	l.Dir = filepath.Join(dir, "missing")
	_, err = l.Reload(reg)
	require.Error(t, err)
	assert.Equal(t, uint64(1), reg.Snapshot().Version)
	assert.Equal(t, 1, reg.Snapshot().Len())
}

func TestReloadSerialized(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "main.yaml", hostile)

	reg := registry.New()
	l := NewLoader(dir, nil, zaptest.NewLogger(t))

	var (
		entered  = make(chan struct{})
		release  = make(chan struct{})
		prepared []int
	)
	first := make(chan error, 1)
	go func() {
		_, err := l.Reload(reg, func(r *Report) {
			prepared = append(prepared, len(r.Targets))
			close(entered)
			<-release
		})
		first <- err
	}()
	<-entered

	// This edit happens after the first reload read the directory.
	write(t, dir, "end.yaml", "world: the_end\nfilters:\n  - instance-of: Monster\n")

	second := make(chan error, 1)
	go func() {
		_, err := l.Reload(reg, func(r *Report) {
			prepared = append(prepared, len(r.Targets))
		})
		second <- err
	}()

	select {
	case <-second:
		t.Fatal("second reload didn't wait for the first")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	assert.Equal(t, []int{1, 2}, prepared)
	s := reg.Snapshot()
	assert.Equal(t, uint64(2), s.Version)
	assert.Equal(t, []string{"end", "main"}, s.IDs())
}

func TestReloadPrepareBeforeSwap(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "main.yaml", hostile)

	reg := registry.New()
	l := NewLoader(dir, nil, zaptest.NewLogger(t))

	var seen uint64
	_, err := l.Reload(reg, func(r *Report) {
		seen = reg.Snapshot().Version
		assert.Equal(t, []string{"main"}, r.Targets)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seen)
	assert.Equal(t, uint64(1), reg.Snapshot().Version)
}

func TestFractionalAnchorLoads(t *testing.T) {
	raw, err := DecodeTarget([]byte(`
filters:
  - type: ZOMBIE
    icon: zombie.png
    anchor: {x: 1.5, y: 8}
`))
	require.NoError(t, err)
	tgt, ds := CompileTarget("main", raw, nil)
	require.Empty(t, ds)
	require.NotNil(t, tgt)
	require.Len(t, tgt.Groups, 1)
	assert.Equal(t, 1, tgt.Groups[0].Filters[0].Anchor().X)
	assert.Equal(t, 8, tgt.Groups[0].Filters[0].Anchor().Y)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "end.conf", "world: the_end\nfilters:\n  - instance-of: Monster\n")

	tgt, ds, err := LoadFile(filepath.Join(dir, "end.conf"), nil)
	require.NoError(t, err)
	require.Empty(t, ds)
	assert.Equal(t, "end", tgt.ID)
	assert.Equal(t, "the_end", tgt.World)

	_, _, err = LoadFile(filepath.Join(dir, "nope.yaml"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIsTargetFile(t *testing.T) {
	for name, want := range map[string]bool{
		"a.yaml":         true,
		"dir/a.yml":      true,
		"a.json":         true,
		"a.conf":         true,
		"a.txt":          false,
		".a.yaml":        false,
		"a.yaml.swp":     false,
		"/tmp/x/.a.json": false,
	} {
		assert.Equal(t, want, IsTargetFile(name), name)
	}
}

func TestConf(t *testing.T) {
	c := DefaultConf()
	y := `
target-dir: /etc/entitymarkers/targets
interval: 5s
concurrency: 2
script-timeout: 0.1
eye-level: true
mqtt:
  broker: tcp://localhost:1883
  prefix: markers
  qos: 1
`
	require.NoError(t, ParseConf([]byte(y), c))
	require.NoError(t, c.Validate())

	assert.Equal(t, "/etc/entitymarkers/targets", c.TargetDir)
	assert.Equal(t, 5*time.Second, c.Interval.D())
	assert.Equal(t, 2, c.Concurrency)
	assert.Equal(t, 100*time.Millisecond, c.ScriptTimeout.D())
	assert.True(t, c.EyeLevel)
	require.NotNil(t, c.MQTT)
	assert.Equal(t, "markers", c.MQTT.Prefix)
	assert.Equal(t, byte(1), c.MQTT.QoS)

	// Defaults survive.
	assert.Equal(t, ":8100", c.Listen)
	assert.Equal(t, time.Second, c.Budget.D())
	assert.True(t, c.TickOnStart)

	assert.Error(t, ParseConf([]byte("interval: soon\n"), DefaultConf()))
}

func TestConfValidate(t *testing.T) {
	for name, f := range map[string]func(c *Conf){
		"no target dir":     func(c *Conf) { c.TargetDir = "" },
		"negative interval": func(c *Conf) { c.Interval = -1 },
		"no cadence":        func(c *Conf) { c.Interval = 0 },
		"negative budget":   func(c *Conf) { c.Budget = -1 },
		"mqtt no broker":    func(c *Conf) { c.MQTT = &MQTT{} },
		"mqtt qos":          func(c *Conf) { c.MQTT = &MQTT{Broker: "tcp://x", QoS: 3} },
	} {
		c := DefaultConf()
		f(c)
		assert.Error(t, c.Validate(), name)
	}

	c := DefaultConf()
	c.Interval = 0
	c.Cron = "*/10 * * * * * *"
	assert.NoError(t, c.Validate())
}

func TestReadConf(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENTITYMARKERS_LISTEN", "127.0.0.1:9000")

	c, err := ReadConf(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", c.Listen)
	assert.Equal(t, "targets", c.TargetDir)

	write(t, dir, "conf.yaml", "world-dir: dumps\nbudget: 2s\n")
	c, err = ReadConf(filepath.Join(dir, "conf.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "dumps", c.WorldDir)
	assert.Equal(t, 2*time.Second, c.Budget.D())

	write(t, dir, "bad.yaml", "interval: -3s\n")
	_, err = ReadConf(filepath.Join(dir, "bad.yaml"))
	assert.Error(t, err)
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(dir, 100*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, func() {
		atomic.AddInt32(&calls, 1)
	}))

	// Other files are ignored.
	write(t, dir, "notes.txt", "hello")
	assert.Never(t, func() bool {
		return 0 < atomic.LoadInt32(&calls)
	}, 200*time.Millisecond, 10*time.Millisecond)

	// A burst gives a single call.
	for i := 0; i < 5; i++ {
		write(t, dir, "main.yaml", hostile+strings.Repeat("\n", i))
	}
	assert.Eventually(t, func() bool {
		return 1 == atomic.LoadInt32(&calls)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool {
		return 1 < atomic.LoadInt32(&calls)
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.Less(t, 0, w.Events())

	require.NoError(t, os.Remove(filepath.Join(dir, "main.yaml")))
	assert.Eventually(t, func() bool {
		return 2 == atomic.LoadInt32(&calls)
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
}

func TestWatcherMissingDir(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultDebounce, w.Debounce)
	assert.Error(t, w.Start(context.Background(), func() {}))
	w.Stop()
}
