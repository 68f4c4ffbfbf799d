package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubdirForContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"two words", "vacation photos from spain", "vacation_photos"},
		{"single word", "hello", "hello"},
		{"empty", "", "no_content"},
		{"whitespace only", "   \n\t ", "no_content"},
		{"path separators", "../../etc passwd", "_.._etc_passwd"},
		{"unsafe characters", `a:b c*d`, "a_b_c_d"},
		{"dots trimmed", ".. ..", "_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubdirForContent(tt.content))
		})
	}
}

func TestSanitizeFragmentCapsLength(t *testing.T) {
	long := strings.Repeat("a", 500)
	got := SanitizeFragment(long)
	assert.LessOrEqual(t, len([]rune(got)), maxFragmentLen)
	assert.NotEmpty(t, got)
}

func TestSanitizeFragmentControlCharacters(t *testing.T) {
	got := SanitizeFragment("a\x00b\nc")
	assert.Equal(t, "a_b_c", got)
}
