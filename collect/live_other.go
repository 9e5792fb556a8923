//go:build !windows

package collect

import "context"

type unsupportedLiveSource struct{}

// NewLiveSource returns a source that fails with ErrUnsupported.
func NewLiveSource() LiveSource { return unsupportedLiveSource{} }

func (unsupportedLiveSource) Run(context.Context, string, func(LiveEvent) error) error {
	return ErrUnsupported
}

func processImageName(uint32) string { return "" }
