package uimem

import (
	"fmt"
	"strings"
)

const (
	// GridCols and GridRows fix the size of the spatial summary grid.
	GridCols = 100
	GridRows = 30

	gridEmpty = '.'
)

// markerSet is the ordered pool of cell markers. Elements beyond the
// pool share the overflow marker but still get their own legend line.
const markerSet = "123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const overflowMarker = '#'

// GridElement is a detected element's label plus pixel bounding box,
// used only as input to grid rendering.
type GridElement struct {
	Label  string `json:"label"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// RenderGrid maps detected elements onto a fixed GridCols×GridRows text
// grid, a cheap spatial summary of the screen for the LLM. Each element's
// bounding-box center lands in one cell, clamped to the grid. Collisions
// are first-wins: the first element placed keeps the cell, later ones
// appear only in the legend. Output is deterministic for a given input.
func RenderGrid(elements []GridElement, screenWidth, screenHeight int) string {
	grid := make([][]rune, GridRows)
	for row := range grid {
		grid[row] = make([]rune, GridCols)
		for col := range grid[row] {
			grid[row][col] = gridEmpty
		}
	}

	var legend strings.Builder
	legend.WriteString("Legend:\n")

	scaleX := float64(GridCols) / float64(max(screenWidth, 1))
	scaleY := float64(GridRows) / float64(max(screenHeight, 1))

	for i, el := range elements {
		marker := overflowMarker
		if i < len(markerSet) {
			marker = rune(markerSet[i])
		}

		centerX := el.X + el.Width/2
		centerY := el.Y + el.Height/2
		col := clamp(int(float64(centerX)*scaleX), 0, GridCols-1)
		row := clamp(int(float64(centerY)*scaleY), 0, GridRows-1)

		placed := ""
		if screenWidth > 0 && screenHeight > 0 && grid[row][col] == gridEmpty {
			grid[row][col] = marker
		} else {
			placed = " (not placed)"
		}

		fmt.Fprintf(&legend, "  %c: %s at (%d,%d)%s\n", marker, el.Label, centerX, centerY, placed)
	}

	var sb strings.Builder
	for _, row := range grid {
		sb.WriteString(string(row))
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	sb.WriteString(legend.String())
	return sb.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
