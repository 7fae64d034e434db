package defs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, s string) string {
	name := filepath.Join(t.TempDir(), "conf.yaml")
	require.NoError(t, os.WriteFile(name, []byte(s), 0644))
	return name
}

func TestReadConf(t *testing.T) {
	name := writeConf(t, `
port: "8443"
hosts: [relay.example.com]
log_level: debug
pli_interval: 500ms
forward:
  - kind: video
    addr: 127.0.0.1:5004
    ssrc: 1234
    payload_type: 102
  - kind: audio
    addr: 127.0.0.1:5006
    ssrc: 5678
`)
	c, err := ReadConf(name)
	require.NoError(t, err)

	assert.Equal(t, "8443", c.Port)
	assert.Equal(t, []string{"relay.example.com"}, c.Hosts)
	assert.Equal(t, DefaultStatic, c.Static)
	assert.Equal(t, "debug", c.LogLevel)
	require.NotNil(t, c.PliInterval)
	assert.Equal(t, 500*time.Millisecond, *c.PliInterval)

	require.Len(t, c.Forward, 2)
	assert.Equal(t, "video", c.Forward[0].Kind)
	assert.Equal(t, uint32(1234), c.Forward[0].SSRC)
	require.NotNil(t, c.Forward[0].PayloadType)
	assert.Equal(t, uint8(102), *c.Forward[0].PayloadType)
	assert.Nil(t, c.Forward[1].PayloadType)
}

func TestReadConfDefaults(t *testing.T) {
	c, err := ReadConf(writeConf(t, "hosts: []\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, c.Port)
	assert.Equal(t, DefaultPliInterval, *c.PliInterval)
	assert.Empty(t, c.Forward)
}

func TestReadConfPliDisabled(t *testing.T) {
	c, err := ReadConf(writeConf(t, "pli_interval: 0s\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), *c.PliInterval)
}

func TestReadConfErrors(t *testing.T) {
	_, err := ReadConf(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ReadConf(writeConf(t, "forward:\n  - kind: data\n    addr: 127.0.0.1:1\n"))
	assert.ErrorContains(t, err, "unexpected kind")

	_, err = ReadConf(writeConf(t, "forward:\n  - kind: audio\n"))
	assert.ErrorContains(t, err, "addr missing")

	_, err = ReadConf(writeConf(t, "forward:\n  - kind: audio\n    addr: 127.0.0.1:1\n    payload_type: 200\n"))
	assert.ErrorContains(t, err, "out of range")

	_, err = ReadConf(writeConf(t, "port: [\n"))
	assert.Error(t, err)
}
