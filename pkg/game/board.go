// Package game implements the battleship rules consumed by the server and
// client: board state, ship placement, fire resolution, and win detection.
// It knows nothing about the wire protocol.
package game

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
)

// BoardSize is the side length of the square grid.
const BoardSize = 10

// Cell markers as rendered on a grid.
const (
	CellWater rune = '.'
	CellShip  rune = 'S'
	CellHit   rune = 'X'
	CellMiss  rune = 'o'
)

// Fleet is the standard five-ship fleet.
var Fleet = []Ship{
	{Name: "Carrier", Size: 5},
	{Name: "Battleship", Size: 4},
	{Name: "Cruiser", Size: 3},
	{Name: "Submarine", Size: 3},
	{Name: "Destroyer", Size: 2},
}

// Ship describes one fleet member.
type Ship struct {
	Name string
	Size int
}

// FireResult is the outcome of firing at a cell.
type FireResult int

const (
	Miss FireResult = iota
	Hit
	Sunk
	AlreadyShot
)

func (r FireResult) String() string {
	switch r {
	case Miss:
		return "miss"
	case Hit:
		return "hit"
	case Sunk:
		return "sunk"
	case AlreadyShot:
		return "already_shot"
	default:
		return "unknown"
	}
}

type placedShip struct {
	name      string
	remaining map[[2]int]struct{}
}

// Board holds one player's grid: the hidden grid with real ship positions
// and the display grid revealed to the opponent and observers. Safe for
// concurrent use; the server mutates boards from per-peer goroutines.
type Board struct {
	mu      sync.Mutex
	size    int
	hidden  [][]rune
	display [][]rune
	ships   []*placedShip
}

// NewBoard creates an empty board.
func NewBoard(size int) *Board {
	if size <= 0 {
		size = BoardSize
	}
	b := &Board{size: size}
	for r := 0; r < size; r++ {
		b.hidden = append(b.hidden, row(size))
		b.display = append(b.display, row(size))
	}
	return b
}

func row(size int) []rune {
	cells := make([]rune, size)
	for i := range cells {
		cells[i] = CellWater
	}
	return cells
}

// Size returns the grid side length.
func (b *Board) Size() int { return b.size }

// PlaceFleetRandomly places each fleet ship at a random free position,
// retrying until every ship fits.
func (b *Board) PlaceFleetRandomly(rng *rand.Rand, fleet []Ship) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ship := range fleet {
		for {
			r := rng.Intn(b.size)
			c := rng.Intn(b.size)
			horizontal := rng.Intn(2) == 0
			if !b.canPlace(r, c, ship.Size, horizontal) {
				continue
			}
			b.place(r, c, ship, horizontal)
			break
		}
	}
}

func (b *Board) canPlace(r, c, size int, horizontal bool) bool {
	if horizontal {
		if c+size > b.size {
			return false
		}
		for i := c; i < c+size; i++ {
			if b.hidden[r][i] != CellWater {
				return false
			}
		}
		return true
	}
	if r+size > b.size {
		return false
	}
	for i := r; i < r+size; i++ {
		if b.hidden[i][c] != CellWater {
			return false
		}
	}
	return true
}

func (b *Board) place(r, c int, ship Ship, horizontal bool) {
	placed := &placedShip{name: ship.Name, remaining: make(map[[2]int]struct{})}
	for i := 0; i < ship.Size; i++ {
		rr, cc := r, c
		if horizontal {
			cc += i
		} else {
			rr += i
		}
		b.hidden[rr][cc] = CellShip
		placed.remaining[[2]int{rr, cc}] = struct{}{}
	}
	b.ships = append(b.ships, placed)
}

// Fire resolves a shot at (r, c). The second return is the ship name when
// the shot sinks it.
func (b *Board) Fire(r, c int) (FireResult, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r < 0 || r >= b.size || c < 0 || c >= b.size {
		return AlreadyShot, ""
	}

	switch b.hidden[r][c] {
	case CellShip:
		b.hidden[r][c] = CellHit
		b.display[r][c] = CellHit
		if name := b.sinkCheck(r, c); name != "" {
			return Sunk, name
		}
		return Hit, ""
	case CellWater:
		b.hidden[r][c] = CellMiss
		b.display[r][c] = CellMiss
		return Miss, ""
	default:
		return AlreadyShot, ""
	}
}

func (b *Board) sinkCheck(r, c int) string {
	for _, ship := range b.ships {
		if _, ok := ship.remaining[[2]int{r, c}]; ok {
			delete(ship.remaining, [2]int{r, c})
			if len(ship.remaining) == 0 {
				return ship.name
			}
			break
		}
	}
	return ""
}

// AllSunk reports whether every placed ship has been fully hit.
func (b *Board) AllSunk() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ships) == 0 {
		return false
	}
	for _, ship := range b.ships {
		if len(ship.remaining) > 0 {
			return false
		}
	}
	return true
}

// Render returns the grid as newline-separated rows of cell markers. The
// owner view includes ship positions; the attacker/observer view hides them.
func (b *Board) Render(ownerView bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	grid := b.display
	if ownerView {
		grid = b.hidden
	}

	var sb strings.Builder
	for r, cells := range grid {
		if r > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(string(cells))
	}
	return sb.String()
}

// ParseCoordinate translates a coordinate like "B5" into (row, col), where
// rows are letters and columns are 1-based numbers.
func ParseCoordinate(coord string) (int, int, error) {
	coord = strings.ToUpper(strings.TrimSpace(coord))
	if len(coord) < 2 {
		return 0, 0, fmt.Errorf("invalid coordinate %q", coord)
	}

	r := int(coord[0] - 'A')
	c, err := strconv.Atoi(coord[1:])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid coordinate %q", coord)
	}
	c--

	if r < 0 || r >= BoardSize || c < 0 || c >= BoardSize {
		return 0, 0, fmt.Errorf("coordinate %q out of range", coord)
	}
	return r, c, nil
}

// FormatCoordinate is the inverse of ParseCoordinate.
func FormatCoordinate(r, c int) string {
	return fmt.Sprintf("%c%d", 'A'+r, c+1)
}
