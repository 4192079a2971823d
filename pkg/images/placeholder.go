package images

import (
	"fmt"
	"unicode/utf16"
)

const placeholderBase = 1500000000000

// Placeholder maps a name onto a stable synthetic portrait URL. It is a
// pure function: the same name always yields the same URL.
func Placeholder(name string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(name)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return fmt.Sprintf("https://images.unsplash.com/photo-%d?w=400&h=400&fit=crop&crop=face&auto=format&q=80",
		v%1000+placeholderBase)
}
