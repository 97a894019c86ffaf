package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir(), false)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(ctx, "openai")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "openai", "  sk-test-1234 \n"))

	got, err := s.Get(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-1234", got)

	info, err := os.Stat(filepath.Join(s.Dir(), "openai.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	ok, err := s.Has(ctx, "openai")
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"openai"}, ids)

	require.NoError(t, s.Delete(ctx, "openai"))
	require.NoError(t, s.Delete(ctx, "openai"))

	ok, err = s.Has(ctx, "openai")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_Events(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir(), false)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(ctx, "anthropic", "key-1"))
	require.NoError(t, s.Set(ctx, "anthropic", "key-1"))
	require.NoError(t, s.Set(ctx, "anthropic", "key-2"))
	require.NoError(t, s.Delete(ctx, "anthropic"))

	want := []Event{
		{Provider: "anthropic", Op: OpAdded},
		{Provider: "anthropic", Op: OpUpdated},
		{Provider: "anthropic", Op: OpRemoved},
	}
	for _, w := range want {
		select {
		case ev := <-s.Events():
			assert.Equal(t, w, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %v", w)
		}
	}
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestFileStore_WatchExternalChange(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, true)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "gemini.key"), []byte("g-key"), 0o600))

	select {
	case ev := <-s.Events():
		assert.Equal(t, Event{Provider: "gemini", Op: OpAdded}, ev)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}
}

func TestFileStore_InsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "openai.key"), []byte("k"), 0o644))

	s, err := NewFileStore(dir, false)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Get(context.Background(), "openai")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), false)
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Set(context.Background(), "../etc", "x"))
	_, err = s.Get(context.Background(), "../etc")
	assert.Error(t, err)
}

func TestFileStore_CloseTwice(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), true)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { _ = s.Close() })
}

func TestEnvStore(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("TESTKEY_OPENAI=from-dotenv\nTESTKEY_MY_GATEWAY=gw\n"), 0o600))

	t.Setenv("TESTKEY_OPENAI", "from-env")

	s, err := NewEnvStore("TESTKEY_", dotenv, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)

	ctx := context.Background()
	got, err := s.Get(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got, "process environment wins over dotenv")

	got, err = s.Get(ctx, "my-gateway")
	require.NoError(t, err)
	assert.Equal(t, "gw", got)
	assert.Equal(t, "TESTKEY_MY_GATEWAY", s.VarName("my-gateway"))

	_, err = s.Get(ctx, "anthropic")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Set(ctx, "openai", "x"), ErrReadOnly)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"my-gateway", "openai"}, ids)
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	file, err := NewFileStore(t.TempDir(), false)
	require.NoError(t, err)
	defer file.Close()

	t.Setenv("CHAINKEY_ANTHROPIC", "env-key")
	env, err := NewEnvStore("CHAINKEY_")
	require.NoError(t, err)

	chain := Chain{file, env}

	got, err := chain.Get(ctx, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "env-key", got)

	require.NoError(t, chain.Set(ctx, "anthropic", "file-key"))
	got, err = chain.Get(ctx, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "file-key", got)

	require.NoError(t, chain.Delete(ctx, "anthropic"))
	got, err = chain.Get(ctx, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "env-key", got)

	_, err = chain.Get(ctx, "openai")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****", Mask("abc"))
	assert.Equal(t, "****wxyz", Mask("sk-abcdwxyz"))
}
