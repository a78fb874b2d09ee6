//go:build !linux

package media

// NewSession creates a new platform-specific media session
// This is the fallback for platforms without one
func NewSession(string) (Session, error) {
	return nil, ErrUnsupported
}
