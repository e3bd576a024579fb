package formats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BatmanBruc/bat-bot-video/types"
)

func TestPresetBitrate(t *testing.T) {
	require.Equal(t, 1.5, PresetBitrateMbps(DefaultPreset))
	require.Equal(t, 1.5, PresetBitrateMbps("fast mobile 720P30"))
	require.Equal(t, UnknownPresetMbps, PresetBitrateMbps("Something Else"))
	require.True(t, PresetExists(" Fast 480p30 "))
	require.False(t, PresetExists(""))
}

func TestQualityCallbacksRoundTrip(t *testing.T) {
	buttons := QualityButtons([]types.QualityOption{
		{Height: 720, EstimatedBytes: 15 * 1024 * 1024},
		{Height: 480, EstimatedBytes: 8 * 1024 * 1024},
	}, true)
	require.Len(t, buttons, 3)
	require.Equal(t, "720p ~15.0 MB", buttons[0].Text)

	h, skip, ok := ParseQualityCallback(buttons[1].CallbackData)
	require.True(t, ok)
	require.False(t, skip)
	require.Equal(t, 480, h)

	_, skip, ok = ParseQualityCallback(buttons[2].CallbackData)
	require.True(t, ok)
	require.True(t, skip)

	_, _, ok = ParseQualityCallback("quality:abc")
	require.False(t, ok)
	_, _, ok = ParseQualityCallback("confirm:yes")
	require.False(t, ok)

	require.Len(t, QualityButtons(nil, false), 0)
}

func TestPresetCallbacks(t *testing.T) {
	buttons := PresetButtons("Fast 720p30")
	require.Len(t, buttons, len(Presets))
	for i, b := range buttons {
		name, ok := ParsePresetCallback(b.CallbackData)
		require.True(t, ok)
		require.Equal(t, Presets[i].Name, name)
		require.LessOrEqual(t, len(b.CallbackData), 64)
	}
	require.Equal(t, "✅ Fast 720p30", buttons[3].Text)

	_, ok := ParsePresetCallback("preset:99")
	require.False(t, ok)
}

func TestHelpMentionsLimit(t *testing.T) {
	msg := GetHelpMessage(50, DefaultPreset)
	require.Contains(t, msg, "50 MB")
	require.Contains(t, msg, "Fast Mobile 720p30")
}
