package viewer

import "strings"

// KeyEvent — нажатие клавиши в окне просмотра.
type KeyEvent struct {
	Key  string
	Ctrl bool
	Meta bool
}

// captureLetters — Ctrl/Meta + P (печать), S (сохранение), U (исходник).
var captureLetters = map[string]bool{"p": true, "s": true, "u": true}

// IsCapture — комбинация захвата экрана, печати, сохранения или просмотра исходника.
func (k KeyEvent) IsCapture() bool {
	if k.Key == "PrintScreen" {
		return true
	}
	return (k.Ctrl || k.Meta) && captureLetters[strings.ToLower(k.Key)]
}

func (k KeyEvent) String() string {
	var b strings.Builder
	if k.Ctrl {
		b.WriteString("Ctrl+")
	}
	if k.Meta {
		b.WriteString("Meta+")
	}
	b.WriteString(k.Key)
	return b.String()
}
