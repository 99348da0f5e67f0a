package termview

import (
	"strconv"

	"pkt.systems/vtview/schema"
)

type rgb struct {
	r int
	g int
	b int
}

func rgbFromHex(v uint32) rgb {
	return rgb{r: int(v>>16) & 0xFF, g: int(v>>8) & 0xFF, b: int(v) & 0xFF}
}

// Theme holds the colours the painter resolves for role-based run colours
// and the status line.
type Theme struct {
	Name        schema.ThemeName
	DefaultFG   rgb
	DefaultBG   rgb
	SelectionFG rgb
	SelectionBG rgb
	StatusBG    rgb
	StatusFG    rgb
	OpenFG      rgb
	WarnFG      rgb
	ErrorFG     rgb
	MetaFG      rgb
}

const (
	ansiReset      = "\x1b[0m"
	ansiHideCursor = "\x1b[?25l"
	ansiShowCursor = "\x1b[?25h"
	ansiHome       = "\x1b[H"
	ansiClear      = "\x1b[2J"
	ansiEraseLine  = "\x1b[K"
	ansiEraseDown  = "\x1b[J"
)

var themes = map[schema.ThemeName]Theme{
	"outrun": {
		Name:        "outrun",
		DefaultFG:   rgb{r: 240, g: 241, b: 255},
		DefaultBG:   rgb{r: 10, g: 13, b: 23},
		SelectionFG: rgb{r: 10, g: 13, b: 23},
		SelectionBG: rgb{r: 0, g: 229, b: 255},
		StatusBG:    rgb{r: 32, g: 8, b: 56},
		StatusFG:    rgb{r: 240, g: 241, b: 255},
		OpenFG:      rgb{r: 0, g: 229, b: 255},
		WarnFG:      rgb{r: 255, g: 91, b: 189},
		ErrorFG:     rgb{r: 255, g: 107, b: 107},
		MetaFG:      rgb{r: 154, g: 163, b: 178},
	},
	"gruvbox": {
		Name:        "gruvbox",
		DefaultFG:   rgb{r: 235, g: 219, b: 178},
		DefaultBG:   rgb{r: 40, g: 40, b: 40},
		SelectionFG: rgb{r: 40, g: 40, b: 40},
		SelectionBG: rgb{r: 250, g: 189, b: 47},
		StatusBG:    rgb{r: 60, g: 56, b: 54},
		StatusFG:    rgb{r: 235, g: 219, b: 178},
		OpenFG:      rgb{r: 184, g: 187, b: 38},
		WarnFG:      rgb{r: 214, g: 93, b: 14},
		ErrorFG:     rgb{r: 251, g: 73, b: 52},
		MetaFG:      rgb{r: 146, g: 131, b: 116},
	},
	"tokyo-midnight": {
		Name:        "tokyo-midnight",
		DefaultFG:   rgb{r: 192, g: 202, b: 245},
		DefaultBG:   rgb{r: 26, g: 27, b: 38},
		SelectionFG: rgb{r: 26, g: 27, b: 38},
		SelectionBG: rgb{r: 122, g: 162, b: 247},
		StatusBG:    rgb{r: 36, g: 40, b: 59},
		StatusFG:    rgb{r: 192, g: 202, b: 245},
		OpenFG:      rgb{r: 158, g: 206, b: 106},
		WarnFG:      rgb{r: 187, g: 154, b: 247},
		ErrorFG:     rgb{r: 247, g: 118, b: 142},
		MetaFG:      rgb{r: 127, g: 133, b: 163},
	},
}

// ThemeFor returns the named theme, falling back to the default one.
func ThemeFor(name schema.ThemeName) Theme {
	if normalized, ok := schema.NormalizeThemeName(string(name)); ok {
		name = normalized
	}
	if theme, ok := themes[name]; ok {
		return theme
	}
	return themes[schema.DefaultTheme]
}

func ansiFgRGB(c rgb) string {
	return "\x1b[38;2;" + rgbParams(c) + "m"
}

func ansiBgRGB(c rgb) string {
	return "\x1b[48;2;" + rgbParams(c) + "m"
}

func rgbParams(c rgb) string {
	return strconv.Itoa(c.r) + ";" + strconv.Itoa(c.g) + ";" + strconv.Itoa(c.b)
}
