package domain

// Stickers fixed catalog offered by the composer picker
var Stickers = []string{
	"😂", "🥰", "😎", "😭", "🔥", "👍", "🙏", "🎉",
	"😡", "🤯", "🥳", "💀", "❤️", "💔", "😴", "🫡",
}

// QuickEmojis short row shown above the keyboard
var QuickEmojis = []string{"😀", "😂", "❤️", "👍", "🙏", "😮", "😢", "🔥"}

// IsSticker the glyph belongs to the catalog
func IsSticker(glyph string) bool {
	for _, s := range Stickers {
		if s == glyph {
			return true
		}
	}
	return false
}
