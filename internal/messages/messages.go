package messages

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const ParseModeHTML = "HTML"

// SnippetLimit bounds raw error text shown to users.
const SnippetLimit = 100

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

// Snippet returns at most SnippetLimit runes of err, escaped.
func Snippet(err error) string {
	if err == nil {
		return ""
	}
	s := strings.TrimSpace(err.Error())
	if utf8.RuneCountInString(s) > SnippetLimit {
		r := []rune(s)
		s = string(r[:SnippetLimit-1]) + "…"
	}
	return Escape(s)
}

func FormatMB(bytes int64) string {
	return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
}

func Title(text string) string {
	return fmt.Sprintf("✨ <b>%s</b>", Escape(text))
}

func withSnippet(msg string, err error) string {
	if s := Snippet(err); s != "" {
		msg += "\n\n" + fmt.Sprintf("<code>%s</code>", s)
	}
	return msg
}

func ErrorDefault() string {
	return "🚫 <b>Error</b>\nPlease try again."
}

func ErrorUnauthorized() string {
	return "❌ You are not authorized to use this bot."
}

func ErrorUnauthorizedShort() string {
	return "❌ Unauthorized"
}

func ErrorUnsupportedMessageType() string {
	return "🤖 <b>I can't handle that</b>\nSend me a video link."
}

func ErrorUnknownCommand() string {
	return "❓ <b>Unknown command</b>"
}

func ErrorInvalidState() string {
	return "⚠️ <b>Invalid state, please restart</b>\nUse /start to open the menu."
}

func ErrorStillWorking() string {
	return "⏳ <b>Still working on your previous video</b>\nPlease wait until it finishes."
}

func ErrorInvalidURL(reason string) string {
	return "🚫 <b>That doesn't look like a valid link</b>\n" + Escape(reason)
}

func ErrorStorage() string {
	return "🚫 <b>Storage is unavailable</b>\nPlease try again later."
}

func StartWelcome() string {
	return "🎬 <b>Video Download Bot</b>\n\n" +
		"Send me a video URL from YouTube, TikTok, X, or any supported platform " +
		"and I'll download and encode it for you.\n\n" +
		"Use the buttons below to get started."
}

func MainMenu() string {
	return "🎬 <b>Video Download Bot</b>\n\n" +
		"Send me a video URL from YouTube, TikTok, X, or any supported platform " +
		"and I'll download and encode it for you."
}

func HelpHeader() string {
	return "📖 <b>How to use</b>\n"
}

func AskURL() string {
	return "📎 <b>Send me a video URL</b>\n\n" +
		"Examples:\n" +
		"• https://www.youtube.com/watch?v=...\n" +
		"• https://www.tiktok.com/@.../video/...\n" +
		"• https://x.com/.../status/..."
}

func Cancelled() string {
	return "↩️ Cancelled."
}

func Checking() string {
	return "🔎 Checking video..."
}

func TooLarge(estimated, limit int64) string {
	return "❌ <b>Video too large!</b>\n\n" +
		fmt.Sprintf("Estimated size: %s\nMax size: %s\n\n", FormatMB(estimated), FormatMB(limit)) +
		"Please choose a shorter video."
}

func ConfirmLarge(estimated, limit int64) string {
	return "⚠️ <b>This video may exceed the limit</b>\n\n" +
		fmt.Sprintf("Estimated size: %s\nMax size: %s\n\n", FormatMB(estimated), FormatMB(limit)) +
		"I can download it and offer compression. Continue?"
}

func Queued() string {
	return "⏳ Your previous video is still in progress. This link will start right after it."
}

func ConfirmationAborted() string {
	return "↩️ Download not confirmed, nothing was downloaded.\nSend a new link whenever you are ready."
}

func Downloading() string {
	return "⬇️ Downloading..."
}

func DownloadProgress(percent, speed, eta string) string {
	return fmt.Sprintf("⬇️ Downloading...\n%s | Speed: %s | ETA: %s", Escape(percent), Escape(speed), Escape(eta))
}

func ErrorFetch(err error) string {
	return withSnippet("❌ <b>Download failed</b>\nCheck the link and try again later.", err)
}

func ChooseQuality(size, limit int64, delivered bool) string {
	if delivered {
		return "✅ <b>Sent!</b>\n\n" +
			fmt.Sprintf("Size: %s\n\n", FormatMB(size)) +
			"Want a smaller copy? Pick a quality or skip."
	}
	return "📦 <b>The video is too large to send as is</b>\n\n" +
		fmt.Sprintf("Size: %s\nMax size: %s\n\n", FormatMB(size), FormatMB(limit)) +
		"Pick a quality to compress it:"
}

func ErrorTooLargeEvenCompressed(size, limit int64) string {
	return "❌ <b>Video too large even after compression</b>\n\n" +
		fmt.Sprintf("Size: %s\nMax size: %s\n\n", FormatMB(size), FormatMB(limit)) +
		"Try a shorter video."
}

func Encoding(label string) string {
	return fmt.Sprintf("⚙️ Encoding to %s...", Escape(label))
}

func ErrorEncode(err error) string {
	return withSnippet("❌ <b>Encoding failed</b>", err)
}

func EncodedTooLarge(size, limit int64) string {
	return "❌ <b>Encoded file is too large!</b>\n\n" +
		fmt.Sprintf("Encoded size: %s (max %s)\n\n", FormatMB(size), FormatMB(limit)) +
		"Try a lower quality or a shorter video."
}

// CompressionFailed follows a failed encode or upload of a copy when the
// original video was already sent.
func CompressionFailed(err error) string {
	return withSnippet("⚠️ Could not send a smaller copy. The original video above is unchanged.", err)
}

func Uploading() string {
	return "⬆️ Uploading..."
}

func ErrorUpload(err error) string {
	return withSnippet("❌ <b>Upload failed</b>\nPlease try again later.", err)
}

func ErrorUnexpected(err error) string {
	return withSnippet("❌ <b>Error</b>", err)
}

func Done() string {
	return "✅ Done!"
}

func Caption(fileName string) string {
	name := strings.TrimSpace(fileName)
	if name == "" {
		return ""
	}
	return "🎬 " + Escape(name)
}

func ErrorExpired() string {
	return "⌛ This video is no longer available. Please send the link again."
}

func Settings(current string) string {
	return "⚙️ <b>Settings</b>\n\n" +
		fmt.Sprintf("Encoding preset: <code>%s</code>\n\n", Escape(current)) +
		"Pick a preset used for compression:"
}

func PresetSaved(name string) string {
	return fmt.Sprintf("✅ Preset saved: %s", name)
}
