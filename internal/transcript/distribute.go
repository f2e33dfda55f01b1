package transcript

import (
	"fmt"

	"storyreel/internal/services"
)

// Distribution is the result of image placement.
type Distribution struct {
	Scenes             []Scene
	EarlyImages        int
	RemainderImages    int
	EarlyShortfall     int
	RemainderShortfall int
}

// TotalImages returns the number of scenes carrying an image.
func (d Distribution) TotalImages() int {
	return d.EarlyImages + d.RemainderImages
}

// Shortfall returns how many requested images could not be placed.
func (d Distribution) Shortfall() int {
	return d.EarlyShortfall + d.RemainderShortfall
}

// Distribute marks image scenes at stride E/Te within the early window and R/Tr
// within the remainder. Targets larger than their window are clamped and the
// difference is reported as shortfall. Image indices run 1..N in scene order.
func Distribute(scenes []Scene, earlyTarget, remainderTarget int) (Distribution, error) {
	out := make([]Scene, len(scenes))
	copy(out, scenes)

	var earlyIdx, remainderIdx []int
	for i := range out {
		out[i].HasImage = false
		out[i].ImageIndex = 0
		if out[i].EarlyWindow {
			earlyIdx = append(earlyIdx, i)
		} else {
			remainderIdx = append(remainderIdx, i)
		}
	}

	earlyPlaced, earlyShort := place(out, earlyIdx, earlyTarget)
	remainderPlaced, remainderShort := place(out, remainderIdx, remainderTarget)

	next := 1
	assigned := 0
	for i := range out {
		if out[i].HasImage {
			out[i].ImageIndex = next
			next++
			assigned++
		}
	}
	if assigned != earlyPlaced+remainderPlaced {
		return Distribution{}, services.Wrap(
			services.ErrValidation,
			"",
			"distribute images",
			fmt.Sprintf("assigned %d images, expected %d", assigned, earlyPlaced+remainderPlaced),
			nil,
		)
	}
	return Distribution{
		Scenes:             out,
		EarlyImages:        earlyPlaced,
		RemainderImages:    remainderPlaced,
		EarlyShortfall:     earlyShort,
		RemainderShortfall: remainderShort,
	}, nil
}

func place(scenes []Scene, window []int, target int) (placed, shortfall int) {
	if target <= 0 {
		return 0, 0
	}
	clamped := min(target, len(window))
	for i := 0; i < clamped; i++ {
		pos := i * len(window) / clamped
		scenes[window[pos]].HasImage = true
	}
	return clamped, target - clamped
}
