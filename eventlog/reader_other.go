//go:build !windows

package eventlog

// Open fails with ErrUnsupported outside Windows.
func Open(channel, query string) (Reader, error) {
	return nil, ErrUnsupported
}
