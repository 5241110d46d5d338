package terrain

// Mesh summarizes the render geometry of a chunk: one quad per block face
// that borders a non-opaque block.
type Mesh struct {
	Faces   int            `json:"faces"`
	Solid   int            `json:"solid"`
	ByBlock map[uint16]int `json:"by_block,omitempty"`
}

var faceDirs = [6][3]int{
	{0, 0, 1}, {0, 0, -1},
	{-1, 0, 0}, {1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
}

// buildMesh counts exposed faces. outside answers for positions beyond the
// chunk boundary, in local coordinates.
func buildMesh(blocks []uint16, size int, outside func(x, y, z int) uint16) Mesh {
	m := Mesh{ByBlock: map[uint16]int{}}
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				b := blocks[index(size, x, y, z)]
				if !Opaque(b) {
					continue
				}
				m.Solid++
				for _, d := range faceDirs {
					nx, ny, nz := x+d[0], y+d[1], z+d[2]
					var nb uint16
					if nx < 0 || ny < 0 || nz < 0 || nx >= size || ny >= size || nz >= size {
						nb = outside(nx, ny, nz)
					} else {
						nb = blocks[index(size, nx, ny, nz)]
					}
					if !Opaque(nb) {
						m.Faces++
						m.ByBlock[b]++
					}
				}
			}
		}
	}
	return m
}
