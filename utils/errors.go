package utils

import "errors"

var (
	// ErrLength reports a vector whose length disagrees with its descriptor
	ErrLength = errors.New("vector length mismatch")
	// ErrOffset reports a box offset or slot outside the valid range
	ErrOffset = errors.New("offset out of range")
)
