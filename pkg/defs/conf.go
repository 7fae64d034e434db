package defs

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort        = "8080"
	DefaultStatic      = "static"
	DefaultPliInterval = 2 * time.Second
)

type Conf struct {
	Port     string   `yaml:"port"`
	Hosts    []string `yaml:"hosts,omitempty"`
	Static   string   `yaml:"static,omitempty"`
	LogLevel string   `yaml:"log_level,omitempty"`

	// periodic PLI towards publishers, 0 disables
	PliInterval *time.Duration `yaml:"pli_interval,omitempty"`

	Forward []*ForwardConf `yaml:"forward,omitempty"`
}

// ForwardConf describes plain RTP sent to Addr for every publisher's track of Kind.
type ForwardConf struct {
	Kind        string `yaml:"kind"` // audio, video
	Addr        string `yaml:"addr"`
	SSRC        uint32 `yaml:"ssrc"`
	PayloadType *uint8 `yaml:"payload_type,omitempty"`
}

func ReadConf(name string) (c *Conf, err error) {
	b, err := os.ReadFile(name)
	if err != nil {
		err = errors.Wrap(err, "read conf")
		return
	}

	c = &Conf{}
	if err = yaml.Unmarshal(b, c); err != nil {
		err = errors.Wrapf(err, "parse %s", name)
		return
	}
	err = c.validate()
	return
}

func (c *Conf) validate() error {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.Static == "" {
		c.Static = DefaultStatic
	}
	if c.PliInterval == nil {
		d := DefaultPliInterval
		c.PliInterval = &d
	}
	for i, f := range c.Forward {
		if f.Kind != "audio" && f.Kind != "video" {
			return errors.Errorf("forward[%d]: unexpected kind %q", i, f.Kind)
		}
		if f.Addr == "" {
			return errors.Errorf("forward[%d]: addr missing", i)
		}
		if f.PayloadType != nil && *f.PayloadType > 127 {
			return errors.Errorf("forward[%d]: payload type %d out of range", i, *f.PayloadType)
		}
	}
	return nil
}
