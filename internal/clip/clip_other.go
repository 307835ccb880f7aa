//go:build !linux && !darwin && !windows

package clip

import "context"

// New returns a headless writer; there is no supported clipboard here.
func New(context.Context, string) Writer { return NewRecorder() }
