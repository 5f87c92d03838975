package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/jsccast/yaml"

	"github.com/Comcast/entitymarkers/match"
)

// Duration is a time.Duration that reads as "10s" or as a number of
// seconds.
type Duration time.Duration

func (d Duration) D() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(bs []byte) error {
	var x interface{}
	if err := json.Unmarshal(bs, &x); err != nil {
		return err
	}
	switch vv := x.(type) {
	case float64:
		*d = Duration(vv * float64(time.Second))
	case string:
		p, err := time.ParseDuration(vv)
		if err != nil {
			return err
		}
		*d = Duration(p)
	default:
		return fmt.Errorf("bad duration %s", bs)
	}
	return nil
}

// MQTT configures the optional MQTT publisher.
type MQTT struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client-id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Prefix starts every topic.
	Prefix string `json:"prefix,omitempty"`

	QoS    byte `json:"qos,omitempty"`
	Retain bool `json:"retain"`

	Timeout Duration `json:"timeout,omitempty"`
}

// Conf is the daemon's configuration.
type Conf struct {
	// TargetDir holds the target documents.
	TargetDir string `json:"target-dir"`

	// WorldDir holds entity dumps for world.Dir.
	WorldDir string `json:"world-dir"`

	// WebRoot is where icons are looked for.
	WebRoot string `json:"webroot"`

	// PublishDir receives one JSON file per target when not empty.
	PublishDir string `json:"publish-dir,omitempty"`

	// Bolt is the archive database filename.  Empty disables the
	// archive.
	Bolt string `json:"bolt,omitempty"`

	MQTT *MQTT `json:"mqtt,omitempty"`

	// Listen is the HTTP address.  Empty disables the server.
	Listen   string `json:"listen,omitempty"`
	MaxConns int    `json:"max-conns,omitempty"`

	Interval    Duration `json:"interval,omitempty"`
	Cron        string   `json:"cron,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
	Budget      Duration `json:"budget,omitempty"`
	TickTimeout Duration `json:"tick-timeout,omitempty"`
	TickOnStart bool     `json:"tick-on-start"`

	// EyeLevel is the default for groups that don't say.
	EyeLevel bool `json:"eye-level"`

	ScriptTimeout Duration `json:"script-timeout,omitempty"`

	Watch    bool     `json:"watch"`
	Debounce Duration `json:"debounce,omitempty"`
}

func DefaultConf() *Conf {
	return &Conf{
		TargetDir:     "targets",
		WorldDir:      "worlds",
		WebRoot:       "web",
		Listen:        ":8100",
		MaxConns:      64,
		Interval:      Duration(10 * time.Second),
		Concurrency:   runtime.NumCPU(),
		Budget:        Duration(time.Second),
		TickOnStart:   true,
		ScriptTimeout: Duration(50 * time.Millisecond),
		Watch:         true,
		Debounce:      Duration(500 * time.Millisecond),
	}
}

// ReadConf reads a YAML (or JSON) daemon configuration over the
// defaults.  A missing file just gives the defaults.
func ReadConf(filename string) (*Conf, error) {
	c := DefaultConf()

	bs, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.applyEnv()
			return c, c.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err = ParseConf(bs, c); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filename, err)
	}
	c.applyEnv()

	return c, c.Validate()
}

// ParseConf decodes YAML into the given Conf, leaving absent fields
// alone.
func ParseConf(bs []byte, c *Conf) error {
	var x interface{}
	if err := yaml.Unmarshal(bs, &x); err != nil {
		return err
	}
	if x == nil {
		return nil
	}
	x, err := match.Canonicalize(x)
	if err != nil {
		return err
	}
	js, err := json.Marshal(&x)
	if err != nil {
		return err
	}
	return json.Unmarshal(js, c)
}

func (c *Conf) applyEnv() {
	if s := os.Getenv("ENTITYMARKERS_LISTEN"); s != "" {
		c.Listen = s
	}
	if s := os.Getenv("ENTITYMARKERS_TARGETS"); s != "" {
		c.TargetDir = s
	}
	if s := os.Getenv("ENTITYMARKERS_WORLDS"); s != "" {
		c.WorldDir = s
	}
	if s := os.Getenv("ENTITYMARKERS_CONCURRENCY"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			c.Concurrency = n
		}
	}
}

// Validate checks the values that can't be fixed by defaults.
func (c *Conf) Validate() error {
	switch {
	case c.TargetDir == "":
		return errors.New("target-dir is empty")
	case c.Interval < 0:
		return errors.New("interval is negative")
	case c.Interval == 0 && c.Cron == "":
		return errors.New("need an interval or a cron expression")
	case c.Concurrency < 0:
		return errors.New("concurrency is negative")
	case c.Budget < 0:
		return errors.New("budget is negative")
	case c.TickTimeout < 0:
		return errors.New("tick-timeout is negative")
	case c.MaxConns < 0:
		return errors.New("max-conns is negative")
	case c.MQTT != nil && c.MQTT.Broker == "":
		return errors.New("mqtt.broker is empty")
	case c.MQTT != nil && 2 < c.MQTT.QoS:
		return fmt.Errorf("bad mqtt.qos %d", c.MQTT.QoS)
	}
	return nil
}
