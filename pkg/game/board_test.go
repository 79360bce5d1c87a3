package game

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placedBoard(t *testing.T) *Board {
	t.Helper()
	b := NewBoard(BoardSize)
	b.PlaceFleetRandomly(rand.New(rand.NewSource(1)), Fleet)
	return b
}

func fleetCells() int {
	total := 0
	for _, s := range Fleet {
		total += s.Size
	}
	return total
}

func TestPlaceFleetRandomly(t *testing.T) {
	b := placedBoard(t)

	ships := strings.Count(b.Render(true), string(CellShip))
	assert.Equal(t, fleetCells(), ships)

	// The opponent view reveals nothing before any shots.
	assert.NotContains(t, b.Render(false), string(CellShip))
}

func TestFireOutcomes(t *testing.T) {
	b := placedBoard(t)

	// Find one ship cell and one water cell from the owner view.
	rows := strings.Split(b.Render(true), "\n")
	var shipR, shipC, waterR, waterC = -1, -1, -1, -1
	for r, row := range rows {
		for c, cell := range row {
			if cell == CellShip && shipR < 0 {
				shipR, shipC = r, c
			}
			if cell == CellWater && waterR < 0 {
				waterR, waterC = r, c
			}
		}
	}
	require.GreaterOrEqual(t, shipR, 0)
	require.GreaterOrEqual(t, waterR, 0)

	result, _ := b.Fire(waterR, waterC)
	assert.Equal(t, Miss, result)

	result, _ = b.Fire(shipR, shipC)
	assert.Contains(t, []FireResult{Hit, Sunk}, result)

	// Re-firing a revealed cell is flagged, not resolved again.
	result, _ = b.Fire(shipR, shipC)
	assert.Equal(t, AlreadyShot, result)
	result, _ = b.Fire(waterR, waterC)
	assert.Equal(t, AlreadyShot, result)

	// Out-of-range shots are rejected the same way.
	result, _ = b.Fire(-1, 0)
	assert.Equal(t, AlreadyShot, result)
}

func TestSinkAndWin(t *testing.T) {
	b := placedBoard(t)
	require.False(t, b.AllSunk())

	sunkShips := 0
	rows := strings.Split(b.Render(true), "\n")
	for r, row := range rows {
		for c, cell := range row {
			if cell != CellShip {
				continue
			}
			result, name := b.Fire(r, c)
			if result == Sunk {
				sunkShips++
				assert.NotEmpty(t, name)
			}
		}
	}

	assert.Equal(t, len(Fleet), sunkShips)
	assert.True(t, b.AllSunk())
}

func TestAllSunkEmptyBoard(t *testing.T) {
	// A board with no fleet placed can never report a win.
	assert.False(t, NewBoard(BoardSize).AllSunk())
}

func TestRenderViews(t *testing.T) {
	b := placedBoard(t)

	rows := strings.Split(b.Render(true), "\n")
	require.Len(t, rows, BoardSize)
	for _, row := range rows {
		assert.Len(t, row, BoardSize)
	}

	// Hits and misses show up in the opponent view.
	shipRows := strings.Split(b.Render(true), "\n")
outer:
	for r, row := range shipRows {
		for c, cell := range row {
			if cell == CellShip {
				b.Fire(r, c)
				break outer
			}
		}
	}
	assert.Contains(t, b.Render(false), string(CellHit))
}

func TestParseCoordinate(t *testing.T) {
	cases := []struct {
		in   string
		r, c int
	}{
		{"A1", 0, 0},
		{"B5", 1, 4},
		{"j10", 9, 9},
		{" c3 ", 2, 2},
	}
	for _, tc := range cases {
		r, c, err := ParseCoordinate(tc.in)
		require.NoError(t, err, "coordinate %q", tc.in)
		assert.Equal(t, tc.r, r)
		assert.Equal(t, tc.c, c)
	}

	for _, bad := range []string{"", "5", "A", "A0", "A11", "Z3", "1A", "B!"} {
		_, _, err := ParseCoordinate(bad)
		assert.Error(t, err, "coordinate %q", bad)
	}
}

func TestFormatCoordinate(t *testing.T) {
	assert.Equal(t, "B5", FormatCoordinate(1, 4))

	r, c, err := ParseCoordinate(FormatCoordinate(7, 7))
	require.NoError(t, err)
	assert.Equal(t, 7, r)
	assert.Equal(t, 7, c)
}
