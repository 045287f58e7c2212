package artifacts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreFromEnv_DefaultsToFS(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ARTIFACT_STORAGE_TYPE", "")
	t.Setenv("DATA_DIR", dir)

	s, err := NewStoreFromEnv(context.Background())
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "certificates"), fs.baseDir)
}

func TestNewStoreFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"unsupported", map[string]string{"ARTIFACT_STORAGE_TYPE": "tape"}, "unsupported storage type"},
		{"s3 without bucket", map[string]string{"ARTIFACT_STORAGE_TYPE": "s3", "ARTIFACT_S3_BUCKET": ""}, "ARTIFACT_S3_BUCKET"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := NewStoreFromEnv(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	addr, err := s.Store(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", addr)

	again, err := s.Store(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, addr, again)

	data, err := s.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	ok, err := s.Exists(ctx, addr)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, addr))
	require.NoError(t, s.Delete(ctx, addr))
	ok, err = s.Exists(ctx, addr)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, addr)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseAddress(t *testing.T) {
	for _, bad := range []string{"", "md5:abc", "sha256:abc", "sha256:" + string(make([]byte, 64))} {
		_, err := parseAddress(bad)
		assert.Error(t, err, bad)
	}
	_, err := parseAddress("sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	assert.NoError(t, err)
}
