package artifact

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func binarySTL(triangles [][3][3]float32) []byte {
	data := make([]byte, stlHeaderSize+4+len(triangles)*stlTriangleSize)
	binary.LittleEndian.PutUint32(data[stlHeaderSize:], uint32(len(triangles)))
	for i, triangle := range triangles {
		offset := stlHeaderSize + 4 + i*stlTriangleSize + 12
		for _, vertex := range triangle {
			for _, value := range vertex {
				binary.LittleEndian.PutUint32(data[offset:], math.Float32bits(value))
				offset += 4
			}
		}
	}
	return data
}

func TestSummarizeBinarySTL(t *testing.T) {
	data := binarySTL([][3][3]float32{
		{{0, 0, 0}, {10, 0, 0}, {0, 20, 0}},
		{{0, 0, 0}, {10, 0, 0}, {0, 0, 5}},
	})

	summary, err := SummarizeSTL(data)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Triangles != 2 {
		t.Fatalf("expected 2 triangles, got %d", summary.Triangles)
	}
	if got := summary.Dimensions(); got != (Dimensions{X: 10, Y: 20, Z: 5}) {
		t.Fatalf("unexpected dimensions %+v", got)
	}
}

func TestSummarizeASCIISTL(t *testing.T) {
	data := []byte(`solid part
  facet normal 0 0 1
    outer loop
      vertex -1 -2 0
      vertex 3 -2 0
      vertex -1 4 0.5
    endloop
  endfacet
endsolid part
`)
	summary, err := SummarizeSTL(data)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Triangles != 1 {
		t.Fatalf("expected 1 triangle, got %d", summary.Triangles)
	}
	if got := summary.Dimensions(); got != (Dimensions{X: 4, Y: 6, Z: 0.5}) {
		t.Fatalf("unexpected dimensions %+v", got)
	}
}

func TestSummarizeEmptyASCIISTL(t *testing.T) {
	summary, err := SummarizeSTL([]byte("solid empty\nendsolid empty\n"))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Triangles != 0 || summary.Dimensions() != (Dimensions{}) {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSummarizeRejectsNonSTL(t *testing.T) {
	if _, err := SummarizeSTL([]byte("result = 1\n")); !errors.Is(err, ErrNotSTL) {
		t.Fatalf("expected ErrNotSTL, got %v", err)
	}
	if _, err := SummarizeSTL([]byte("solid x\nvertex 1 2\n")); !errors.Is(err, ErrNotSTL) {
		t.Fatalf("expected ErrNotSTL for a malformed vertex, got %v", err)
	}
}
