package capture

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Preview size selection bounds. The target is a portrait 9:16 stream.
const (
	MaxPreviewWidth  = 1080
	MaxPreviewHeight = 1920

	TargetAspectRatio = 9.0 / 16.0
	AspectTolerance   = 0.1
	TargetWidth       = 720
)

// TargetHeight is derived from TargetWidth and the target ratio (1280).
var TargetHeight = int(TargetWidth / TargetAspectRatio)

// Size is a device output resolution.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(s string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Size{}, fmt.Errorf("invalid size %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	return Size{Width: width, Height: height}, nil
}

func (s Size) withinBounds() bool {
	return s.Width <= MaxPreviewWidth && s.Height <= MaxPreviewHeight
}

// ChooseOptimalSize picks the preview size for a device.
//
// Among sizes within the maximum bound whose aspect ratio is within
// AspectTolerance of 9:16, the one closest to 720x1280 (by summed absolute
// difference) wins. Without such a candidate the tallest size within the
// bound is used, and if nothing fits the bound the first choice is returned.
// An empty list yields the zero Size.
func ChooseOptimalSize(choices []Size) Size {
	if len(choices) == 0 {
		return Size{}
	}

	var best Size
	bestDist := -1
	for _, c := range choices {
		if !c.withinBounds() || c.Height == 0 {
			continue
		}
		ratio := float64(c.Width) / float64(c.Height)
		if math.Abs(ratio-TargetAspectRatio) >= AspectTolerance {
			continue
		}
		dist := abs(c.Width-TargetWidth) + abs(c.Height-TargetHeight)
		if bestDist < 0 || dist < bestDist {
			best, bestDist = c, dist
		}
	}
	if bestDist >= 0 {
		return best
	}

	found := false
	for _, c := range choices {
		if !c.withinBounds() {
			continue
		}
		if !found || c.Height > best.Height {
			best, found = c, true
		}
	}
	if found {
		return best
	}
	return choices[0]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
