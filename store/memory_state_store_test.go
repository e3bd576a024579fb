package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/bat-bot-video/types"
)

func TestMemoryStateStore(t *testing.T) {
	s := NewMemoryStateStore()

	st, err := s.GetState(1)
	require.NoError(t, err)
	require.Equal(t, types.StateIdle, st.Kind())

	want := types.AwaitingQualityChoice{
		SessionID: "s1",
		FilePath:  "/tmp/video_s1/a.mp4",
		FileSize:  80 << 20,
		Options:   []types.QualityOption{{Height: 480, EstimatedBytes: 30 << 20}},
	}
	require.NoError(t, s.SetState(1, want))
	got, err := s.GetState(1)
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, s.SetState(1, nil))
	got, err = s.GetState(1)
	require.NoError(t, err)
	require.Equal(t, types.StateIdle, got.Kind())
	require.NoError(t, s.Ping())
}

func TestMemoryStateStore_Concurrent(t *testing.T) {
	s := NewMemoryStateStore()
	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = s.SetState(id, types.AwaitingURL{PromptMessageID: int(id)})
			_, _ = s.GetState(id)
			_ = s.ClearState(id)
		}(i)
	}
	wg.Wait()
	require.Empty(t, s.states)
}
