package affects

import "sort"

// Sparse is a boolean matrix in compressed sparse column form. Row indices within a column are
// ascending.
type Sparse struct {
	Rows   int
	Cols   int
	ColPtr []int
	RowIdx []int
}

// newSparse builds a matrix from per column row lists, which must already be sorted.
func newSparse(rows int, columns [][]int) *Sparse {
	s := &Sparse{Rows: rows, Cols: len(columns), ColPtr: make([]int, len(columns)+1)}
	for j, col := range columns {
		s.RowIdx = append(s.RowIdx, col...)
		s.ColPtr[j+1] = len(s.RowIdx)
	}
	return s
}

// At reports whether (row, col) is set.
func (s *Sparse) At(row, col int) bool {
	rows := s.Column(col)
	i := sort.SearchInts(rows, row)
	return i < len(rows) && rows[i] == row
}

// Column returns the set rows of a column. The slice must not be modified.
func (s *Sparse) Column(col int) []int {
	return s.RowIdx[s.ColPtr[col]:s.ColPtr[col+1]]
}

// NNZ is the number of set entries.
func (s *Sparse) NNZ() int {
	return len(s.RowIdx)
}

// RowColumns returns, for every row, the ascending list of columns set in it.
func (s *Sparse) RowColumns() [][]int {
	out := make([][]int, s.Rows)
	for j := 0; j < s.Cols; j++ {
		for _, r := range s.Column(j) {
			out[r] = append(out[r], j)
		}
	}
	return out
}
