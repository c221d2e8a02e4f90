package file

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlift/buildforge/pkg/artifact"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := s.Put(ctx, "Widget.ipa", []byte("ipa-bytes"))
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	data, filename, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("ipa-bytes"), data)
	assert.Equal(t, "Widget.ipa", filename)
}

func TestPut_FreshRefPerArtifact(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref1, err := s.Put(ctx, "a.ipa", []byte("one"))
	require.NoError(t, err)
	ref2, err := s.Put(ctx, "a.ipa", []byte("two"))
	require.NoError(t, err)
	assert.NotEqual(t, ref1, ref2)
}

func TestPut_StripsPathComponents(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := s.Put(ctx, "../../etc/Widget.ipa", []byte("x"))
	require.NoError(t, err)

	_, filename, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "Widget.ipa", filename)
}

func TestGet_NotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, _, err = s.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestDelete_Idempotent(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := s.Put(ctx, "Widget.ipa", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, ref))
	require.NoError(t, s.Delete(ctx, ref))
	require.NoError(t, s.Delete(ctx, "never-existed"))
}

func TestDelete_RejectsTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, s.Delete(context.Background(), "../outside"))
}
