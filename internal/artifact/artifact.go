// Package artifact is the boundary to the external modeling toolchain that
// turns the artifact script into a mesh, checks it and repairs it.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Quality string

const (
	QualityDraft    Quality = "draft"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualityUltra    Quality = "ultra"
)

// ErrToolchain wraps failures reported by the external toolchain.
var ErrToolchain = errors.New("modeling toolchain failed")

func ParseQuality(value string) (Quality, error) {
	switch quality := Quality(strings.ToLower(strings.TrimSpace(value))); quality {
	case QualityDraft, QualityStandard, QualityHigh, QualityUltra:
		return quality, nil
	case "":
		return QualityStandard, nil
	default:
		return "", fmt.Errorf("unknown quality %q", value)
	}
}

// Issue is one finding of a mesh validation.
type Issue struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// Report is the outcome of a mesh validation.
type Report struct {
	IsValid       bool    `json:"is_valid"`
	IsWatertight  bool    `json:"is_watertight"`
	IsPrintable   bool    `json:"is_printable"`
	TriangleCount int     `json:"triangle_count"`
	VertexCount   int     `json:"vertex_count"`
	Volume        float64 `json:"volume"`
	SurfaceArea   float64 `json:"surface_area"`
	Issues        []Issue `json:"issues"`
}

// Exporter renders an artifact script into STL bytes.
type Exporter interface {
	Export(ctx context.Context, artifactPath string, quality Quality) ([]byte, error)
}

// Validator checks a mesh or artifact script for printability.
type Validator interface {
	Validate(ctx context.Context, path string) (Report, error)
}

// Repairer fixes mesh defects in place.
type Repairer interface {
	Repair(ctx context.Context, path string, aggressive bool) error
}
