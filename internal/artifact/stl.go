package artifact

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	stlHeaderSize   = 80
	stlTriangleSize = 50
)

// ErrNotSTL reports data that is neither binary nor ASCII STL.
var ErrNotSTL = errors.New("not an STL mesh")

// Dimensions is the extent of a mesh along each axis.
type Dimensions struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MeshSummary describes the geometry of an STL mesh.
type MeshSummary struct {
	Triangles int
	Min       [3]float64
	Max       [3]float64
}

func (m MeshSummary) Dimensions() Dimensions {
	return Dimensions{X: m.Max[0] - m.Min[0], Y: m.Max[1] - m.Min[1], Z: m.Max[2] - m.Min[2]}
}

// SummarizeSTL counts the triangles of a binary or ASCII STL and computes
// its bounding box.
func SummarizeSTL(data []byte) (MeshSummary, error) {
	if len(data) >= stlHeaderSize+4 {
		count := binary.LittleEndian.Uint32(data[stlHeaderSize:])
		if uint64(len(data)) == stlHeaderSize+4+uint64(count)*stlTriangleSize {
			return summarizeBinary(data[stlHeaderSize+4:], int(count)), nil
		}
	}
	if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("solid")) {
		return summarizeASCII(data)
	}
	return MeshSummary{}, ErrNotSTL
}

func summarizeBinary(body []byte, count int) MeshSummary {
	summary := newSummary()
	for i := 0; i < count; i++ {
		triangle := body[i*stlTriangleSize:]
		// 12 bytes of normal, then three vertices of three float32.
		for v := 0; v < 3; v++ {
			var point [3]float64
			for axis := 0; axis < 3; axis++ {
				offset := 12 + v*12 + axis*4
				point[axis] = float64(math.Float32frombits(binary.LittleEndian.Uint32(triangle[offset:])))
			}
			summary.include(point)
		}
	}
	summary.Triangles = count
	return summary.finish()
}

func summarizeASCII(data []byte) (MeshSummary, error) {
	summary := newSummary()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "facet":
			summary.Triangles++
		case "vertex":
			if len(fields) != 4 {
				return MeshSummary{}, fmt.Errorf("%w: line %d: malformed vertex", ErrNotSTL, line)
			}
			var point [3]float64
			for axis := 0; axis < 3; axis++ {
				value, err := strconv.ParseFloat(fields[axis+1], 64)
				if err != nil {
					return MeshSummary{}, fmt.Errorf("%w: line %d: %v", ErrNotSTL, line, err)
				}
				point[axis] = value
			}
			summary.include(point)
		}
	}
	if err := scanner.Err(); err != nil {
		return MeshSummary{}, err
	}
	return summary.finish(), nil
}

func newSummary() MeshSummary {
	inf := math.Inf(1)
	return MeshSummary{
		Min: [3]float64{inf, inf, inf},
		Max: [3]float64{-inf, -inf, -inf},
	}
}

func (m *MeshSummary) include(point [3]float64) {
	for axis := 0; axis < 3; axis++ {
		m.Min[axis] = math.Min(m.Min[axis], point[axis])
		m.Max[axis] = math.Max(m.Max[axis], point[axis])
	}
}

// finish zeroes the bounds of a mesh with no vertices.
func (m MeshSummary) finish() MeshSummary {
	if math.IsInf(m.Min[0], 1) {
		m.Min = [3]float64{}
		m.Max = [3]float64{}
	}
	return m
}
