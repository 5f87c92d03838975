package filter

import (
	"strings"

	"go.uber.org/zap"
)

// Diagnostic is one configuration problem.
type Diagnostic struct {
	// Path locates the offending field, like
	// "filter-sets.hostile.filters[0].min-x".
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (d Diagnostic) Error() string {
	if d.Path == "" {
		return d.Message
	}
	return d.Path + ": " + d.Message
}

// Diagnostics collects every problem found in a document rather than
// stopping at the first one.
type Diagnostics []Diagnostic

func (ds Diagnostics) Error() string {
	acc := make([]string, len(ds))
	for i, d := range ds {
		acc[i] = d.Error()
	}
	return strings.Join(acc, "; ")
}

// Err returns nil if there are no diagnostics.
func (ds Diagnostics) Err() error {
	if 0 == len(ds) {
		return nil
	}
	return ds
}

func (ds *Diagnostics) add(path, msg string) {
	*ds = append(*ds, Diagnostic{Path: path, Message: msg})
}

// Log writes each diagnostic as its own error.
func (ds Diagnostics) Log(logger *zap.Logger, fields ...zap.Field) {
	for _, d := range ds {
		fs := append(fields[:len(fields):len(fields)], zap.String("path", d.Path))
		logger.Error(d.Message, fs...)
	}
}

func join(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
