package identity

import (
	"context"
	"errors"
)

// Static is a fixed-viewer provider for development and tests.
type Static struct {
	Viewer string
}

// ViewerID returns the configured viewer.
func (s Static) ViewerID(context.Context) (string, error) {
	if s.Viewer == "" {
		return "", errors.New("identity: no viewer configured")
	}
	return s.Viewer, nil
}

// IsAuthenticated reports whether a viewer is configured.
func (s Static) IsAuthenticated(context.Context) bool { return s.Viewer != "" }
