// Package canvas is the shared pixel board the art commands operate on.
package canvas

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrOutOfBounds = errors.New("coordinates out of bounds")
	ErrBadColor    = errors.New("color must be a known name or #RRGGBB")
)

const DefaultColor = "#FFFFFF"

var named = map[string]string{
	"red": "#FF0000", "green": "#00FF00", "blue": "#0000FF", "yellow": "#FFFF00",
	"orange": "#FFA500", "purple": "#800080", "pink": "#FFC0CB", "brown": "#A52A2A",
	"black": "#000000", "white": "#FFFFFF", "gray": "#808080", "grey": "#808080",
	"cyan": "#00FFFF", "magenta": "#FF00FF", "lime": "#00FF00", "navy": "#000080",
	"teal": "#008080", "maroon": "#800000", "olive": "#808000", "silver": "#C0C0C0",
	"gold": "#FFD700", "coral": "#FF7F50", "salmon": "#FA8072", "khaki": "#F0E68C",
	"violet": "#EE82EE", "indigo": "#4B0082", "turquoise": "#40E0D0", "crimson": "#DC143C",
}

// ParseColor accepts a palette name or #RRGGBB and returns upper-case hex.
func ParseColor(s string) (string, error) {
	s = strings.TrimSpace(s)
	if hex, ok := named[strings.ToLower(s)]; ok {
		return hex, nil
	}
	if len(s) != 7 || s[0] != '#' {
		return "", fmt.Errorf("%w: %q", ErrBadColor, s)
	}
	if _, err := strconv.ParseUint(s[1:], 16, 32); err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadColor, s)
	}
	return strings.ToUpper(s), nil
}

// Palette lists the named colors, sorted by name.
func Palette() []NamedColor {
	out := make([]NamedColor, 0, len(named))
	for n, h := range named {
		out = append(out, NamedColor{Name: n, Hex: h})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type NamedColor struct {
	Name string `json:"name"`
	Hex  string `json:"hex"`
}

type Pixel struct {
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Color     string    `json:"color"`
	UserID    string    `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	EditCount int       `json:"edit_count"`
}

// SetResult describes the effect of one Set.
type SetResult struct {
	Pixel    Pixel
	Previous string
	Changed  bool
}

// State is the authoritative board as clients refresh it.
type State struct {
	Size         int               `json:"size"`
	Pixels       map[string]string `json:"pixels"`
	TotalPixels  int               `json:"total_pixels"`
	Contributors int               `json:"contributors"`
	LastUpdate   time.Time         `json:"last_update,omitempty"`
}

// Key names a pixel in State.Pixels.
func Key(x, y int) string { return strconv.Itoa(x) + "," + strconv.Itoa(y) }

type Board struct {
	mu           sync.RWMutex
	size         int
	pixels       map[[2]int]Pixel
	contributors map[string]struct{}
	lastUpdate   time.Time
	now          func() time.Time
}

func New(size int) *Board {
	if size <= 0 {
		size = 48
	}
	return &Board{
		size:         size,
		pixels:       make(map[[2]int]Pixel),
		contributors: make(map[string]struct{}),
		now:          time.Now,
	}
}

func (b *Board) Size() int { return b.size }

func (b *Board) inBounds(x, y int) error {
	if x < 0 || y < 0 || x >= b.size || y >= b.size {
		return fmt.Errorf("%w: (%d,%d) not in 0-%d", ErrOutOfBounds, x, y, b.size-1)
	}
	return nil
}

// Set paints one pixel. Painting the color a pixel already has leaves the
// board unchanged and reports Changed=false.
func (b *Board) Set(x, y int, colorSpec, userID, username string) (SetResult, error) {
	if err := b.inBounds(x, y); err != nil {
		return SetResult{}, err
	}
	hex, err := ParseColor(colorSpec)
	if err != nil {
		return SetResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := [2]int{x, y}
	prev, existed := b.pixels[key]
	previous := DefaultColor
	if existed {
		previous = prev.Color
	}
	if existed && prev.Color == hex {
		return SetResult{Pixel: prev, Previous: previous}, nil
	}
	px := Pixel{
		X: x, Y: y, Color: hex,
		UserID: userID, Username: username,
		UpdatedAt: b.now(),
		EditCount: prev.EditCount + 1,
	}
	b.pixels[key] = px
	if userID != "" {
		b.contributors[userID] = struct{}{}
	}
	b.lastUpdate = px.UpdatedAt
	return SetResult{Pixel: px, Previous: previous, Changed: true}, nil
}

// Get returns the pixel at (x, y). Unpainted pixels carry DefaultColor.
func (b *Board) Get(x, y int) (Pixel, bool, error) {
	if err := b.inBounds(x, y); err != nil {
		return Pixel{}, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	px, ok := b.pixels[[2]int{x, y}]
	if !ok {
		return Pixel{X: x, Y: y, Color: DefaultColor}, false, nil
	}
	return px, true, nil
}

func (b *Board) Snapshot() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := State{
		Size:         b.size,
		Pixels:       make(map[string]string, len(b.pixels)),
		TotalPixels:  len(b.pixels),
		Contributors: len(b.contributors),
		LastUpdate:   b.lastUpdate,
	}
	for k, px := range b.pixels {
		st.Pixels[Key(k[0], k[1])] = px.Color
	}
	return st
}

// PNG renders the board with each pixel scaled to scale×scale.
func (b *Board) PNG(scale int) ([]byte, error) {
	if scale <= 0 {
		scale = 10
	}
	b.mu.RLock()
	img := image.NewRGBA(image.Rect(0, 0, b.size*scale, b.size*scale))
	bg := mustRGBA(DefaultColor)
	for y := 0; y < b.size; y++ {
		for x := 0; x < b.size; x++ {
			c := bg
			if px, ok := b.pixels[[2]int{x, y}]; ok {
				c = mustRGBA(px.Color)
			}
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.SetRGBA(x*scale+dx, y*scale+dy, c)
				}
			}
		}
	}
	b.mu.RUnlock()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// mustRGBA expects a value that already passed ParseColor.
func mustRGBA(hex string) color.RGBA {
	v, _ := strconv.ParseUint(hex[1:], 16, 32)
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}
}
