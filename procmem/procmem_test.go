package procmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchName(t *testing.T) {
	tests := []struct {
		candidate string
		name      string
		want      bool
	}{
		{"NR2003.exe", "NR2003.exe", true},
		{"nr2003.EXE", "NR2003.exe", true},
		{`C:\Papyrus\NASCAR Racing 2003 Season\NR2003.exe`, "NR2003.exe", true},
		{"/home/u/.wine/drive_c/Papyrus/NR2003.exe", "nr2003.exe", true},
		{"NR2003.exe\n", "nr2003", true},
		{"nr2003", "NR2003.exe", true},
		{"/usr/bin/wine64-preloader", "NR2003.exe", false},
		{"NR2003launcher.exe", "NR2003.exe", false},
		{"", "NR2003.exe", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchName(tt.candidate, tt.name), "%q vs %q", tt.candidate, tt.name)
	}
}

func TestFindEmptyName(t *testing.T) {
	_, err := Find("")
	assert.ErrorIs(t, err, ErrProcessNotFound)
}
