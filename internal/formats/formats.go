package formats

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BatmanBruc/bat-bot-video/internal/messages"
	"github.com/BatmanBruc/bat-bot-video/types"
)

type FormatButton struct {
	Text         string
	CallbackData string
}

const (
	CallbackDownload      = "menu:download"
	CallbackSettings      = "menu:settings"
	CallbackHelp          = "menu:help"
	CallbackBack          = "menu:back"
	CallbackConfirmYes    = "confirm:yes"
	CallbackConfirmNo     = "confirm:no"
	CallbackQualityPrefix = "quality:"
	CallbackQualitySkip   = "quality:skip"
	CallbackPresetPrefix  = "preset:"
)

// Preset is a HandBrake preset together with the average video bitrate it
// was observed to produce. The bitrate feeds the pre-download estimate only.
type Preset struct {
	Name        string
	BitrateMbps float64
}

const (
	DefaultPreset = "Fast Mobile 720p30"
	// UnknownPresetMbps is assumed for presets missing from the table.
	UnknownPresetMbps = 2.0
)

var Presets = []Preset{
	{Name: "Very Fast 480p30", BitrateMbps: 1.0},
	{Name: "Fast 480p30", BitrateMbps: 1.2},
	{Name: "Fast Mobile 720p30", BitrateMbps: 1.5},
	{Name: "Fast 720p30", BitrateMbps: 2.5},
	{Name: "Fast 1080p30", BitrateMbps: 4.5},
}

// Resolution is a quality option offered after download. MBPerMinute is an
// empirical output size per minute of video at that height.
type Resolution struct {
	Height      int
	Label       string
	MBPerMinute float64
}

var Resolutions = []Resolution{
	{Height: 1080, Label: "1080p", MBPerMinute: 30},
	{Height: 720, Label: "720p", MBPerMinute: 15},
	{Height: 480, Label: "480p", MBPerMinute: 8},
	{Height: 360, Label: "360p", MBPerMinute: 5},
}

func PresetExists(name string) bool {
	_, ok := presetIndex(name)
	return ok
}

func PresetBitrateMbps(name string) float64 {
	if i, ok := presetIndex(name); ok {
		return Presets[i].BitrateMbps
	}
	return UnknownPresetMbps
}

func presetIndex(name string) (int, bool) {
	name = strings.TrimSpace(name)
	for i, p := range Presets {
		if strings.EqualFold(p.Name, name) {
			return i, true
		}
	}
	return -1, false
}

func ResolutionByHeight(height int) (Resolution, bool) {
	for _, r := range Resolutions {
		if r.Height == height {
			return r, true
		}
	}
	return Resolution{}, false
}

func ResolutionLabel(height int) string {
	if r, ok := ResolutionByHeight(height); ok {
		return r.Label
	}
	return fmt.Sprintf("%dp", height)
}

func MenuButtons() []FormatButton {
	return []FormatButton{
		{Text: "⬇️ Download Video", CallbackData: CallbackDownload},
		{Text: "⚙️ Settings", CallbackData: CallbackSettings},
		{Text: "ℹ️ Help", CallbackData: CallbackHelp},
	}
}

func BackButton() FormatButton {
	return FormatButton{Text: "← Back", CallbackData: CallbackBack}
}

func CancelButton() FormatButton {
	return FormatButton{Text: "❌ Cancel", CallbackData: CallbackBack}
}

func ConfirmButtons() []FormatButton {
	return []FormatButton{
		{Text: "✅ Yes, download", CallbackData: CallbackConfirmYes},
		{Text: "❌ No", CallbackData: CallbackConfirmNo},
	}
}

// QualityButtons renders one button per offered option, largest first.
func QualityButtons(options []types.QualityOption, allowSkip bool) []FormatButton {
	buttons := make([]FormatButton, 0, len(options)+1)
	for _, o := range options {
		text := ResolutionLabel(o.Height)
		if o.EstimatedBytes > 0 {
			text = fmt.Sprintf("%s ~%s", text, messages.FormatMB(o.EstimatedBytes))
		}
		buttons = append(buttons, FormatButton{
			Text:         text,
			CallbackData: CallbackQualityPrefix + strconv.Itoa(o.Height),
		})
	}
	if allowSkip {
		buttons = append(buttons, FormatButton{Text: "⏭ Skip", CallbackData: CallbackQualitySkip})
	}
	return buttons
}

// ParseQualityCallback returns the height from "quality:<h>". skip is set
// for the skip button.
func ParseQualityCallback(data string) (height int, skip bool, ok bool) {
	if data == CallbackQualitySkip {
		return 0, true, true
	}
	raw, found := strings.CutPrefix(data, CallbackQualityPrefix)
	if !found {
		return 0, false, false
	}
	h, err := strconv.Atoi(raw)
	if err != nil || h <= 0 {
		return 0, false, false
	}
	return h, false, true
}

// PresetButtons marks the current preset. Callback data carries the table
// index so it stays within the 64-byte limit.
func PresetButtons(current string) []FormatButton {
	buttons := make([]FormatButton, 0, len(Presets))
	for i, p := range Presets {
		text := p.Name
		if strings.EqualFold(p.Name, current) {
			text = "✅ " + text
		}
		buttons = append(buttons, FormatButton{
			Text:         text,
			CallbackData: CallbackPresetPrefix + strconv.Itoa(i),
		})
	}
	return buttons
}

func ParsePresetCallback(data string) (string, bool) {
	raw, found := strings.CutPrefix(data, CallbackPresetPrefix)
	if !found {
		return "", false
	}
	i, err := strconv.Atoi(raw)
	if err != nil || i < 0 || i >= len(Presets) {
		return "", false
	}
	return Presets[i].Name, true
}

func GetHelpMessage(limitMB int, defaultPreset string) string {
	var msg strings.Builder
	msg.WriteString(messages.HelpHeader())
	msg.WriteString("\n")
	msg.WriteString("1) Press <b>Download Video</b> or just send a link\n")
	msg.WriteString("2) Confirm if the video looks too large\n")
	msg.WriteString("3) Pick a quality if compression is needed\n\n")

	msg.WriteString("⚙️ <b>Supported platforms</b>\n")
	for _, p := range []string{"YouTube", "TikTok", "X (Twitter)", "Instagram", "Facebook"} {
		msg.WriteString("• " + p + "\n")
	}
	msg.WriteString("• And 1000+ more via yt-dlp\n\n")

	msg.WriteString(fmt.Sprintf("📊 <b>File size limit:</b> %d MB\n", limitMB))
	msg.WriteString(fmt.Sprintf("🎬 <b>Output:</b> H.264 MP4, <code>%s</code>\n\n", messages.Escape(defaultPreset)))

	msg.WriteString("🎞 <b>Qualities</b>\n")
	for _, r := range Resolutions {
		msg.WriteString(fmt.Sprintf("• %s ≈ %.0f MB/min\n", r.Label, r.MBPerMinute))
	}
	return msg.String()
}
