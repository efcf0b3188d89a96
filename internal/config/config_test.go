// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFileOverridesDefaults(t *testing.T) {
	// given
	t.Setenv("CONFIG_FILE", "testdata/conf.yaml")

	// when
	c, err := ReadConfig()

	// then
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Server.Addr)
	assert.Equal(t, "test-engine", c.Name)
	assert.Equal(t, StorageBolt, c.Storage.Type)
	assert.Equal(t, time.Second, c.Storage.Timeout)
	assert.Equal(t, CacheLRU, c.Engine.DeploymentCache)
	assert.Equal(t, 5, c.Engine.DeploymentCacheLimit)
	assert.Equal(t, 2, c.AsyncExecutor.ExecutorConfig().PoolSize)
	assert.Equal(t, 250*time.Millisecond, c.AsyncExecutor.AcquisitionInterval)
	assert.True(t, c.AsyncExecutor.Enabled)
	policy := c.Retry.RetryPolicy()
	assert.Equal(t, 5, policy.Retries)
	assert.Equal(t, 2*time.Minute, policy.Backoff(2))
	assert.Equal(t, 10*time.Minute, policy.Backoff(10))
}

func TestRenderedConfigurationCanBeReadBack(t *testing.T) {
	// given
	t.Setenv("CONFIG_FILE", "testdata/conf.yaml")
	c, err := ReadConfig()
	require.NoError(t, err)
	out, err := c.Yaml()
	require.NoError(t, err)
	file := t.TempDir() + "/conf.yaml"
	require.NoError(t, os.WriteFile(file, []byte(out), 0o600))
	t.Setenv("CONFIG_FILE", file)

	// when
	again, err := ReadConfig()

	// then
	require.NoError(t, err)
	assert.Equal(t, c, again)
	assert.Contains(t, out, "deploymentCache: lru")
}

func TestEnvironmentIsReadWithoutConfigFile(t *testing.T) {
	// given
	t.Setenv("CONFIG_FILE", "testdata/missing.yaml")
	t.Setenv("STORAGE_TYPE", "inmemory")
	t.Setenv("RETRY_RETRIES", "1")

	// when
	c, err := ReadConfig()

	// then
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, 1, c.Retry.Retries)
	assert.Equal(t, 10*time.Second, c.Retry.Wait)
	assert.Equal(t, CacheFIFO, c.Engine.DeploymentCache)
}

func TestUnknownStorageIsRejected(t *testing.T) {
	// given
	t.Setenv("CONFIG_FILE", "testdata/missing.yaml")
	t.Setenv("STORAGE_TYPE", "postgres")

	// when
	_, err := ReadConfig()

	// then
	assert.ErrorContains(t, err, "unknown storage type")
}
