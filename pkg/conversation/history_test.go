package conversation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/conduit/pkg/providers"
)

func TestMemoryHistory_AppendRecent(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(0)

	for _, text := range []string{"a", "b", "c", "d"} {
		require.NoError(t, h.Append(ctx, NewMessage(providers.RoleUser, text)))
	}

	all, err := h.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "a", all[0].Content)

	last, err := h.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "c", last[0].Content)
	assert.Equal(t, "d", last[1].Content)

	// Callers get a copy.
	last[0].Content = "changed"
	again, _ := h.Recent(ctx, 2)
	assert.Equal(t, "c", again[0].Content)
}

func TestMemoryHistory_UpdateContent(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(0)

	placeholder := NewMessage(providers.RoleAssistant, "")
	require.NoError(t, h.Append(ctx, placeholder))
	require.NoError(t, h.UpdateContent(ctx, placeholder.ID, "partial"))
	require.NoError(t, h.UpdateContent(ctx, placeholder.ID, "partial reply"))

	msgs, _ := h.Recent(ctx, 1)
	assert.Equal(t, "partial reply", msgs[0].Content)

	assert.ErrorIs(t, h.UpdateContent(ctx, "missing", "x"), ErrMessageNotFound)
	assert.ErrorIs(t, h.Update(ctx, Message{ID: "missing"}), ErrMessageNotFound)
}

func TestMemoryHistory_MaxAndClear(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(3)

	var ids []string
	for _, text := range []string{"1", "2", "3", "4", "5"} {
		m := NewMessage(providers.RoleUser, text)
		ids = append(ids, m.ID)
		require.NoError(t, h.Append(ctx, m))
	}
	assert.Equal(t, 3, h.Len())
	assert.ErrorIs(t, h.UpdateContent(ctx, ids[0], "x"), ErrMessageNotFound)
	require.NoError(t, h.UpdateContent(ctx, ids[4], "five"))

	msgs, _ := h.Recent(ctx, 0)
	assert.Equal(t, []string{"3", "4", "five"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})

	require.NoError(t, h.Clear(ctx))
	assert.Zero(t, h.Len())
}

func TestMemoryHistory_Concurrent(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Append(ctx, NewMessage(providers.RoleUser, "x"))
			_, _ = h.Recent(ctx, 5)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, h.Len())
}

func TestProviderMessages_DropsEmptyPlaceholder(t *testing.T) {
	msgs := []Message{
		NewMessage(providers.RoleUser, "hi"),
		NewMessage(providers.RoleAssistant, ""),
	}
	out := ProviderMessages(msgs)
	require.Len(t, out, 1)
	assert.Equal(t, providers.Message{Role: providers.RoleUser, Content: "hi"}, out[0])
}
