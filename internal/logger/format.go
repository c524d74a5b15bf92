package logger

import "strings"

// stripAnsiCodes removes CSI escape sequences (ESC '[' ... final-byte) from
// s. fastReplaceAttr applies it to string attribute values in every handler,
// so styled text does not leave escape codes in JSON or file output.
func stripAnsiCodes(s string) string {
	if !strings.ContainsRune(s, '\x1b') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] != '\x1b' || i+1 >= len(s) || s[i+1] != '[' {
			b.WriteByte(s[i])
			continue
		}

		// Skip the CSI introducer and everything up to and including the
		// final byte, a letter, which terminates the sequence.
		i += 2
		for i < len(s) && !isAnsiFinalByte(s[i]) {
			i++
		}
	}

	return b.String()
}

func isAnsiFinalByte(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
