// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plugin_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/blinklabs-io/attest/database/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPlugin struct {
	started bool
}

func (m *mockPlugin) Start() error { m.started = true; return nil }
func (m *mockPlugin) Stop() error  { return nil }

type testOptions struct {
	dir     string
	enabled bool
	workers int
	size    uint64
}

func registerTestPlugin(t *testing.T, opts *testOptions) string {
	t.Helper()
	name := "test-" + t.Name()
	plugin.Register(plugin.PluginEntry{
		Type:               plugin.PluginTypeBlob,
		Name:               name,
		Description:        "test plugin",
		NewFromOptionsFunc: func() plugin.Plugin { return &mockPlugin{} },
		Options: []plugin.PluginOption{
			{
				Name:         "data-dir",
				Type:         plugin.PluginOptionTypeString,
				DefaultValue: "default",
				Dest:         &opts.dir,
			},
			{
				Name:         "enabled",
				Type:         plugin.PluginOptionTypeBool,
				DefaultValue: false,
				Dest:         &opts.enabled,
			},
			{
				Name:         "workers",
				Type:         plugin.PluginOptionTypeInt,
				DefaultValue: 1,
				Dest:         &opts.workers,
			},
			{
				Name:         "size",
				Type:         plugin.PluginOptionTypeUint,
				DefaultValue: uint64(10),
				Dest:         &opts.size,
			},
		},
	})
	return name
}

func TestRegisterAndStart(t *testing.T) {
	var opts testOptions
	name := registerTestPlugin(t, &opts)

	found := false
	for _, entry := range plugin.GetPlugins(plugin.PluginTypeBlob) {
		if entry.Name == name {
			found = true
		}
	}
	assert.True(t, found, "registered plugin should be listed")
	assert.Empty(t, plugin.GetPlugins(plugin.PluginType(99)))

	p, err := plugin.StartPlugin(plugin.PluginTypeBlob, name)
	require.NoError(t, err)
	mp, ok := p.(*mockPlugin)
	require.True(t, ok)
	assert.True(t, mp.started)

	_, err = plugin.StartPlugin(plugin.PluginTypeMetadata, name)
	require.Error(t, err)
}

func TestStartErrorPlugin(t *testing.T) {
	name := "test-" + t.Name()
	startErr := errors.New("boom")
	plugin.Register(plugin.PluginEntry{
		Type: plugin.PluginTypeMetadata,
		Name: name,
		NewFromOptionsFunc: func() plugin.Plugin {
			return plugin.NewErrorPlugin(startErr)
		},
	})
	_, err := plugin.StartPlugin(plugin.PluginTypeMetadata, name)
	require.ErrorIs(t, err, startErr)
}

func TestSetPluginOption(t *testing.T) {
	var opts testOptions
	name := registerTestPlugin(t, &opts)

	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "data-dir", "/tmp/x"))
	assert.Equal(t, "/tmp/x", opts.dir)
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "size", 42))
	assert.Equal(t, uint64(42), opts.size)
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "enabled", true))
	assert.True(t, opts.enabled)

	require.Error(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "data-dir", 123))
	require.Error(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "size", -1))
	// Unknown options are ignored
	require.NoError(t, plugin.SetPluginOption(plugin.PluginTypeBlob, name, "does-not-exist", "x"))
	require.Error(t, plugin.SetPluginOption(plugin.PluginTypeBlob, "nonexistent", "data-dir", "x"))
}

func TestProcessEnvVars(t *testing.T) {
	var opts testOptions
	registerTestPlugin(t, &opts)
	prefix := "ATTEST_BLOB_TEST_TESTPROCESSENVVARS_"
	t.Setenv(prefix+"DATA_DIR", "/var/lib/attest")
	t.Setenv(prefix+"ENABLED", "true")
	t.Setenv(prefix+"WORKERS", "8")
	t.Setenv(prefix+"SIZE", "1024")

	require.NoError(t, plugin.ProcessEnvVars())
	assert.Equal(t, "/var/lib/attest", opts.dir)
	assert.True(t, opts.enabled)
	assert.Equal(t, 8, opts.workers)
	assert.Equal(t, uint64(1024), opts.size)

	t.Setenv(prefix+"WORKERS", "many")
	require.Error(t, plugin.ProcessEnvVars())
}

func TestProcessConfig(t *testing.T) {
	var opts testOptions
	name := registerTestPlugin(t, &opts)

	err := plugin.ProcessConfig(map[string]map[string]map[string]any{
		"blob": {
			name: {
				"data-dir": "/data",
				"workers":  4,
				"size":     2048,
				"enabled":  "true",
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "/data", opts.dir)
	assert.Equal(t, 4, opts.workers)
	assert.Equal(t, uint64(2048), opts.size)
	assert.True(t, opts.enabled)

	err = plugin.ProcessConfig(map[string]map[string]map[string]any{
		"blob": {"missing-plugin": {"data-dir": "/x"}},
	})
	require.Error(t, err)
	err = plugin.ProcessConfig(map[string]map[string]map[string]any{
		"bogus": {name: {"data-dir": "/x"}},
	})
	require.Error(t, err)
}

func TestPopulateCmdlineOptions(t *testing.T) {
	var opts testOptions
	name := registerTestPlugin(t, &opts)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, plugin.PopulateCmdlineOptions(fs))

	require.NoError(t, fs.Parse([]string{
		"--blob-" + name + "-data-dir=/flag",
		"--blob-" + name + "-workers=3",
	}))
	assert.Equal(t, "/flag", opts.dir)
	assert.Equal(t, 3, opts.workers)
	assert.Equal(t, uint64(10), opts.size)
}

func TestRuntime(t *testing.T) {
	t.Cleanup(func() { plugin.SetRuntime(nil, nil) })
	logger, reg := plugin.Runtime()
	assert.Nil(t, logger)
	assert.Nil(t, reg)
	registry := prometheus.NewRegistry()
	plugin.SetRuntime(slog.Default(), registry)
	logger, reg = plugin.Runtime()
	assert.Equal(t, slog.Default(), logger)
	assert.Equal(t, registry, reg)
}
