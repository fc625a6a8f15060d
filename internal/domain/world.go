package domain

import "unicode/utf8"

type WorldName string

const (
	DefaultWorld    WorldName = "main"
	MaxWorldNameLen           = 36
)

// Clamp cuts the name to at most MaxWorldNameLen bytes without splitting
// a rune.
func (n WorldName) Clamp() WorldName {
	if len(n) <= MaxWorldNameLen {
		return n
	}
	cut := MaxWorldNameLen
	for cut > 0 && !utf8.RuneStart(n[cut]) {
		cut--
	}
	return n[:cut]
}

type World struct {
	Name       WorldName
	VoiceRange float64
}
