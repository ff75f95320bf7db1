package shape

import (
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Measurer reports the advance width of a string rendered at a font size.
type Measurer interface {
	Measure(text string, fontSize float64) float64
}

// FixedMeasurer treats every rune as Advance × fontSize wide.
type FixedMeasurer struct {
	Advance float64
}

func (f FixedMeasurer) Measure(text string, fontSize float64) float64 {
	return float64(len([]rune(text))) * f.Advance * fontSize
}

// FontMeasurer measures with the Go Regular TrueType font, keeping one face per size.
// Faces are not safe for concurrent use so every access holds mu.
type FontMeasurer struct {
	font  *truetype.Font
	mu    sync.Mutex
	faces map[float64]font.Face
}

func NewFontMeasurer() (*FontMeasurer, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	return &FontMeasurer{font: f, faces: make(map[float64]font.Face)}, nil
}

func (m *FontMeasurer) face(size float64) font.Face {
	f, ok := m.faces[size]
	if !ok {
		f = truetype.NewFace(m.font, &truetype.Options{Size: size, DPI: 72})
		m.faces[size] = f
	}
	return f
}

// Face returns a dedicated face for drawing text at size. Callers own the result.
func (m *FontMeasurer) Face(size float64) font.Face {
	return truetype.NewFace(m.font, &truetype.Options{Size: size, DPI: 72})
}

func (m *FontMeasurer) Measure(text string, fontSize float64) float64 {
	if fontSize <= 0 || text == "" {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	adv := font.MeasureString(m.face(fontSize), text)
	return float64(adv) / 64
}

var (
	defaultMeasurer     Measurer
	defaultMeasurerOnce sync.Once
)

// DefaultMeasurer returns the shared font measurer, falling back to a fixed advance if the
// embedded font cannot be parsed.
func DefaultMeasurer() Measurer {
	defaultMeasurerOnce.Do(func() {
		m, err := NewFontMeasurer()
		if err != nil {
			defaultMeasurer = FixedMeasurer{Advance: 0.6}
			return
		}
		defaultMeasurer = m
	})
	return defaultMeasurer
}
