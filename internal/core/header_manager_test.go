package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/Repagination/internal/models"
)

func headerFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "headers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestHeaderManager_Defaults(t *testing.T) {
	hm, err := NewHeaderManager(filepath.Join(t.TempDir(), "headers.yaml"), nil)
	require.NoError(t, err)

	headers, err := hm.GetHeaders()
	require.NoError(t, err)
	assert.Equal(t, DefaultUserAgent, headers.Get("User-Agent"))
	assert.NotEmpty(t, headers.Get("Accept"))
	assert.NotEmpty(t, headers.Get("Accept-Language"))
}

func TestHeaderManager_Priority(t *testing.T) {
	path := headerFile(t, `headers:
  User-Agent: "ConfigBot/1.0"
  X-From-Config: "config"
  X-Shared: "config"
`)

	hm, err := NewHeaderManager(path, []string{
		"X-Shared: cli",
		"Authorization: Bearer token123",
	})
	require.NoError(t, err)

	headers, err := hm.GetHeaders()
	require.NoError(t, err)

	t.Run("配置文件覆盖默认", func(t *testing.T) {
		assert.Equal(t, "ConfigBot/1.0", headers.Get("User-Agent"))
		assert.Equal(t, "config", headers.Get("X-From-Config"))
	})

	t.Run("命令行覆盖配置文件", func(t *testing.T) {
		assert.Equal(t, "cli", headers.Get("X-Shared"))
		assert.Equal(t, "Bearer token123", headers.Get("Authorization"))
	})

	t.Run("返回副本", func(t *testing.T) {
		headers.Set("X-Shared", "changed")
		again, err := hm.GetHeaders()
		require.NoError(t, err)
		assert.Equal(t, "cli", again.Get("X-Shared"))
	})
}

func TestHeaderManager_GetSafeHeaders(t *testing.T) {
	hm, err := NewHeaderManager(filepath.Join(t.TempDir(), "headers.yaml"), []string{
		"User-Agent: CustomBot/1.0",
		"Authorization: Bearer secret-token-12345",
		"X-API-Key: api-key-67890",
	})
	require.NoError(t, err)

	safe := hm.GetSafeHeaders()
	assert.Equal(t, "CustomBot/1.0", safe["User-Agent"])
	assert.Equal(t, "Bearer ***", safe["Authorization"])
	assert.NotEqual(t, "api-key-67890", safe["X-Api-Key"])
	assert.Contains(t, safe["X-Api-Key"], "***")
}

func TestHeaderManager_Errors(t *testing.T) {
	t.Run("命令行格式错误", func(t *testing.T) {
		_, err := NewHeaderManager("", []string{"InvalidFormat"})
		assert.Error(t, err)
	})

	t.Run("禁止头部", func(t *testing.T) {
		for _, h := range []string{"Host: example.com", "Referer: http://example.com/"} {
			hm, err := NewHeaderManager(filepath.Join(t.TempDir(), "headers.yaml"), []string{h})
			require.NoError(t, err)

			_, err = hm.GetHeaders()
			var verr *models.ValidationError
			assert.ErrorAs(t, err, &verr, h)
			assert.Empty(t, hm.GetSafeHeaders())
		}
	})

	t.Run("配置文件无效", func(t *testing.T) {
		hm, err := NewHeaderManager(headerFile(t, "headers: [未闭合"), nil)
		require.NoError(t, err)

		err = hm.Validate()
		var cerr *models.ConfigError
		assert.ErrorAs(t, err, &cerr)

		// 错误被缓存
		_, err = hm.GetHeaders()
		assert.ErrorAs(t, err, &cerr)
	})
}

func TestHeaderManager_GeneratesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "headers.yaml")
	hm, err := NewHeaderManager(path, nil)
	require.NoError(t, err)
	require.NoError(t, hm.Validate())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
