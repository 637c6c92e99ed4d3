package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mastercactapus/cncd/eventtrigger"
	"github.com/mastercactapus/cncd/transport/serial"
	"github.com/mastercactapus/cncd/transport/socket"
	"github.com/mastercactapus/cncd/transport/spjs"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
listen: ":8000"
log_level: debug
watch_dir: ${CNCD_DATA}
controller:
  exception:
    ignore_errors: true
  poll_interval: 500ms
macros:
  - id: home
    name: Home
    content: G28 X0 Y0
events:
  - event: sender:start
    trigger: gcode
    commands: M3 S1000
    enabled: true
connections:
  - controller: Grbl
    type: serial
    path: /dev/ttyUSB0
    baud: 115200
  - controller: Smoothie
    type: socket
    host: 192.168.1.10
    port: 23
`

func TestLoad(t *testing.T) {
	t.Setenv("CNCD_DATA", "/srv/gcode")
	path := filepath.Join(t.TempDir(), "cncd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Listen)
	assert.Equal(t, "/srv/gcode", cfg.WatchDir)
	assert.True(t, cfg.Controller.Exception.IgnoreErrors)
	assert.Equal(t, 500*time.Millisecond, cfg.Controller.PollInterval)
	require.Len(t, cfg.Connections, 2)
	assert.Equal(t, 115200, cfg.Connections[0].Baud)

	m, ok := cfg.Macro("home")
	require.True(t, ok)
	assert.Equal(t, "G28 X0 Y0", m.Content)
	_, ok = cfg.Macro("nope")
	assert.False(t, ok)

	require.Len(t, cfg.TriggerEvents(), 1)
	assert.Equal(t, eventtrigger.GCode, cfg.TriggerEvents()[0].Trigger)

	assert.Equal(t, logrus.DebugLevel, cfg.Logger().GetLevel())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, DefaultWatchDir, cfg.WatchDir)
	assert.Equal(t, logrus.InfoLevel, cfg.Logger().GetLevel())
}

func TestValidate(t *testing.T) {
	bad := map[string]string{
		"log level":       "log_level: loud",
		"poll interval":   "controller: {poll_interval: -1s}",
		"macro id":        "macros: [{name: x}]",
		"duplicate macro": "macros: [{id: a}, {id: a}]",
		"event name":      "events: [{trigger: gcode}]",
		"event trigger":   `events: [{event: "sender:start", trigger: shell}]`,
		"controller":      "connections: [{controller: Foo, type: serial, path: /dev/x}]",
		"transport":       "connections: [{controller: Grbl, type: usb}]",
		"serial path":     "connections: [{controller: Grbl, type: serial}]",
		"socket port":     "connections: [{controller: Grbl, type: socket, host: h}]",
		"spjs url":        "connections: [{controller: Grbl, type: spjs, path: COM3}]",
	}
	for name, doc := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte("log_level: off"))
	assert.NoError(t, err)
}

func TestConnection_Transport(t *testing.T) {
	tr, err := Connection{Controller: "Grbl", Type: serial.Type, Path: "/dev/ttyACM0", Baud: 250000}.Transport(nil)
	require.NoError(t, err)
	assert.Equal(t, serial.Type, tr.Type())

	tr, err = Connection{Controller: "TinyG", Type: socket.Type, Host: "cnc.local", Port: 23}.Transport(nil)
	require.NoError(t, err)
	assert.Equal(t, socket.Type, tr.Type())

	tr, err = Connection{Controller: "Marlin", Type: spjs.Type, URL: "ws://localhost:8989/ws", Path: "COM3"}.Transport(logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	assert.Equal(t, spjs.Type, tr.Type())

	_, err = Connection{Controller: "Grbl", Type: "usb"}.Transport(nil)
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CNCD_TEST_DOTENV=yes\n"), 0644))
	t.Setenv("CNCD_TEST_DOTENV", "")
	os.Unsetenv("CNCD_TEST_DOTENV")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "yes", os.Getenv("CNCD_TEST_DOTENV"))
}
