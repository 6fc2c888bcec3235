package uimem

import (
	"strings"
	"testing"
)

func gridRows(t *testing.T, rendered string) []string {
	t.Helper()
	lines := strings.Split(rendered, "\n")
	if len(lines) < GridRows {
		t.Fatalf("rendered grid has %d lines, want at least %d", len(lines), GridRows)
	}
	for i := 0; i < GridRows; i++ {
		if len(lines[i]) != GridCols {
			t.Fatalf("row %d has width %d, want %d", i, len(lines[i]), GridCols)
		}
	}
	return lines[:GridRows]
}

func TestRenderGrid_Deterministic(t *testing.T) {
	elements := []GridElement{
		{Label: "OK button", X: 100, Y: 200, Width: 60, Height: 20},
		{Label: "Cancel", X: 300, Y: 200, Width: 60, Height: 20},
		{Label: "Menu", X: 5, Y: 5, Width: 30, Height: 30},
	}

	a := RenderGrid(elements, 1920, 1080)
	b := RenderGrid(elements, 1920, 1080)
	if a != b {
		t.Fatal("grid rendering is not deterministic")
	}
}

func TestRenderGrid_CenterMapping(t *testing.T) {
	// Screen 1000x300 scales to 0.1 per axis: center (500,150) lands
	// in cell (50,15).
	el := GridElement{Label: "target", X: 495, Y: 145, Width: 10, Height: 10}
	rendered := RenderGrid([]GridElement{el}, 1000, 300)

	rows := gridRows(t, rendered)
	if rows[15][50] != '1' {
		t.Fatalf("cell (15,50) = %q, want '1'", rows[15][50])
	}
	if !strings.Contains(rendered, "1: target at (500,150)") {
		t.Fatalf("legend missing entry:\n%s", rendered)
	}
}

func TestRenderGrid_ClampsOutOfBounds(t *testing.T) {
	elements := []GridElement{
		{Label: "offscreen", X: 5000, Y: 5000, Width: 10, Height: 10},
		{Label: "negative", X: -50, Y: -50, Width: 10, Height: 10},
	}
	rendered := RenderGrid(elements, 1000, 300)

	rows := gridRows(t, rendered)
	if rows[GridRows-1][GridCols-1] != '1' {
		t.Fatalf("far corner = %q, want '1'", rows[GridRows-1][GridCols-1])
	}
	if rows[0][0] != '2' {
		t.Fatalf("origin = %q, want '2'", rows[0][0])
	}
}

func TestRenderGrid_CollisionFirstWins(t *testing.T) {
	// Both elements share the same center, so the same cell.
	elements := []GridElement{
		{Label: "first", X: 100, Y: 100, Width: 10, Height: 10},
		{Label: "second", X: 100, Y: 100, Width: 10, Height: 10},
	}
	rendered := RenderGrid(elements, 1000, 300)

	rows := gridRows(t, rendered)
	center := float64(105)
	col := int(center * float64(GridCols) / 1000)
	row := int(center * float64(GridRows) / 300)
	if rows[row][col] != '1' {
		t.Fatalf("cell = %q, first element should win", rows[row][col])
	}
	// The loser still shows up in the legend.
	if !strings.Contains(rendered, "2: second at (105,105) (not placed)") {
		t.Fatalf("legend missing displaced element:\n%s", rendered)
	}
}

func TestRenderGrid_EmptyInput(t *testing.T) {
	rendered := RenderGrid(nil, 1920, 1080)
	rows := gridRows(t, rendered)
	for _, row := range rows {
		if strings.Trim(row, string(gridEmpty)) != "" {
			t.Fatalf("empty input produced markers: %q", row)
		}
	}
}

func TestRenderGrid_ZeroScreenPlacesNothing(t *testing.T) {
	elements := []GridElement{{Label: "x", X: 10, Y: 10, Width: 2, Height: 2}}
	rendered := RenderGrid(elements, 0, 0)

	rows := gridRows(t, rendered)
	for _, row := range rows {
		if strings.Trim(row, string(gridEmpty)) != "" {
			t.Fatalf("zero-size screen placed markers: %q", row)
		}
	}
	if !strings.Contains(rendered, "1: x") {
		t.Fatal("element missing from legend")
	}
}

func TestRenderGrid_MarkerOverflow(t *testing.T) {
	var elements []GridElement
	for i := 0; i < len(markerSet)+3; i++ {
		elements = append(elements, GridElement{
			Label: "el", X: (i * 13) % 1900, Y: (i * 29) % 1000, Width: 4, Height: 4,
		})
	}
	rendered := RenderGrid(elements, 1920, 1080)
	if !strings.Contains(rendered, string(overflowMarker)+": el") {
		t.Fatal("overflow elements should use the shared overflow marker in the legend")
	}
}
