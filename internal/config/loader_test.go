// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aemstarter.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_Load_HJSON(t *testing.T) {
	path := writeConfig(t, `{
  // comments are allowed
  project: {
    id: myproject
    name: My Project
    folder: /srv/aem
  }
  author: {
    port: 14502
    runmode: author,local,nosamplecontent
    jvm_opts: [-Xmx6g]
  }
}`)

	loader := NewLoader()
	cfg, err := loader.Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "myproject", cfg.Project.ID)
	assert.Equal(t, "My Project", cfg.Project.Name)
	assert.Equal(t, "/srv/aem", cfg.Project.Folder)
	assert.Equal(t, 14502, cfg.Author.Port)
	assert.Equal(t, "author,local,nosamplecontent", cfg.Author.Runmode)
	assert.Equal(t, []string{"-Xmx6g"}, cfg.Author.JVMOpts)
}

func TestLoader_Load_MissingFile(t *testing.T) {
	loader := NewLoader()
	_, err := loader.Load(context.Background(), "/does/not/exist.hjson")
	assert.Error(t, err)
}

func TestLoader_Load_InvalidSyntax(t *testing.T) {
	path := writeConfig(t, `{ project: { id: broken`)

	loader := NewLoader()
	_, err := loader.Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoader_LoadWithDefaults(t *testing.T) {
	path := writeConfig(t, `{ project: { id: local } }`)

	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 7362, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 4502, cfg.Author.Port)
	assert.Equal(t, "author,local", cfg.Author.Runmode)
	assert.Equal(t, 4503, cfg.Publish.Port)
	assert.Equal(t, "publish,local", cfg.Publish.Runmode)
	assert.Equal(t, 8080, cfg.Dispatcher.Port)
	assert.Equal(t, 20000, cfg.Author.DebugPortOffset)
	assert.Equal(t, []string{"error.log"}, cfg.Author.LogFiles)
	assert.Equal(t, []string{"dispatcher.log", "httpd_access.log"}, cfg.Dispatcher.LogFiles)
	assert.Equal(t, "30s", cfg.Health.Interval)
	assert.Equal(t, "admin", cfg.Health.User)
	assert.Equal(t, "backups", cfg.Backup.Dir)
	assert.Equal(t, "8g", cfg.Backup.CompactionHeap)
	assert.Equal(t, 443, cfg.Proxy.Port)
	assert.Equal(t, 10000, cfg.Events.History.MaxEvents)
	assert.Equal(t, "1h", cfg.Events.History.MaxAge)

	// Folder defaults to the config file's directory.
	assert.Equal(t, filepath.Dir(path), cfg.Project.Folder)
}

func TestLoader_LoadWithDefaults_KeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
  project: { id: local, folder: /srv/aem }
  author: { port: 14502 }
  health: { interval: 10s }
}`)

	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/aem", cfg.Project.Folder)
	assert.Equal(t, 14502, cfg.Author.Port)
	assert.Equal(t, "10s", cfg.Health.Interval)
}

func TestLoader_FindConfig(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	loader := NewLoader()

	_, err = loader.FindConfig()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "aemstarter.hjson"), []byte("{}"), 0o644))
	found, err := loader.FindConfig()
	require.NoError(t, err)
	assert.Equal(t, "aemstarter.hjson", filepath.Base(found))
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseDuration("30s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("bogus", time.Minute))
}
