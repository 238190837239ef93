package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStyle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"final declaration without semicolon", "width: 3px", "width: 3px;"},
		{"uppercase and important", "COLOR: red !important; width: 3px", "color: red !important; width: 3px;"},
		{"important without space", "color: red!IMPORTANT;", "color: red !important;"},
		{"malformed falls back", "a: b;; c: d", "a: b; c: d;"},
		{"stray text is skipped", "width:100%; Height : 20px;;bogus", "width: 100%; height: 20px;"},
		{"later value wins", "x: 1; x: 2", "x: 2;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseStyle(tt.in).String())
		})
	}
}

func TestDeclarationsSetClearsPriority(t *testing.T) {
	ds := parseStyle("color: red !important")
	assert.Equal(t, "important", ds.priority("color"))

	ds = ds.set("color", "blue")
	assert.Equal(t, "blue", ds.get("color"))
	assert.Empty(t, ds.priority("color"))

	ds = ds.set("color", "")
	assert.Empty(t, ds)
}

func TestKebab(t *testing.T) {
	assert.Equal(t, "background-color", kebab("backgroundColor"))
	assert.Equal(t, "font-size", kebab("font-size"))
	assert.Equal(t, "fill", kebab("fill"))
}
