package automation

import (
	"github.com/chromedp/chromedp/kb"
)

// keySpec carries the DOM identity of a key so down and up events agree on
// key, code and virtual key codes.
type keySpec struct {
	key        string
	code       string
	text       string
	unmodified string
	native     int64
	windows    int64
	shift      bool
	print      bool
}

// specForKey resolves a rune against the chromedp key table. Runes outside
// the table are sent as bare printable text, which Chrome accepts for char
// events even without a key code.
func specForKey(r rune) keySpec {
	if r == '\n' {
		r = '\r'
	}
	if k, ok := kb.Keys[r]; ok {
		return keySpec{
			key:        k.Key,
			code:       k.Code,
			text:       k.Text,
			unmodified: k.Unmodified,
			native:     k.Native,
			windows:    k.Windows,
			shift:      k.Shift,
			print:      k.Print,
		}
	}
	s := string(r)
	return keySpec{key: s, text: s, unmodified: s, print: true}
}
