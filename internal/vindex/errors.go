package vindex

import "errors"

var (
	// ErrDimensionMismatch indicates a vector whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrLengthMismatch indicates a different number of vectors and chunks in one append.
	ErrLengthMismatch = errors.New("vector and chunk counts differ")

	// ErrStructuralCorruption indicates a persisted pair whose halves disagree.
	ErrStructuralCorruption = errors.New("index structure corrupted")
)
