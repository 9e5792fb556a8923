//go:build !windows

package collect

import "context"

type unsupportedKernelSource struct{}

// NewKernelSource returns a source that fails with ErrUnsupported.
func NewKernelSource() KernelSource { return unsupportedKernelSource{} }

func (unsupportedKernelSource) Run(context.Context, func(KernelEvent) error) error {
	return ErrUnsupported
}
