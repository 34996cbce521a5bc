// Package clix parses shared command-line parameters into domain types.
package clix

import (
	"github.com/spf13/pflag"

	"semgroup/internal/models"
)

// ParseJobParams overlays the grouping flags present in flags onto defaults.
// Flags left at their zero value keep the configured default.
func ParseJobParams(flags *pflag.FlagSet, defaults models.JobParams) models.JobParams {
	params := defaults

	if v, err := flags.GetString("algorithm"); err == nil && v != "" {
		params.Algorithm = v
	}
	if v, err := flags.GetFloat64("threshold"); err == nil && v > 0 {
		params.Threshold = v
	}
	if v, err := flags.GetFloat64("eps"); err == nil && v > 0 {
		params.Eps = v
	}
	if v, err := flags.GetInt("min-pts"); err == nil && v > 0 {
		params.MinPts = v
	}
	if v, err := flags.GetFloat64("duplicate-threshold"); err == nil && v > 0 {
		params.DuplicateThreshold = v
	}
	if v, err := flags.GetFloat64("min-similarity"); err == nil && v > 0 {
		params.MinSimilarity = v
	}
	return params
}
