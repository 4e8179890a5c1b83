//go:build !linux

package reactor

import "errors"

// newPoller has no implementation outside Linux, mirroring the teacher's
// reactor_stub.go: the epoll-based reactor core this package implements is
// explicitly scoped to Linux (spec.md never asks for portability beyond
// the production target the original runs on).
func newPoller() (Poller, error) {
	return nil, errors.New("reactor: epoll poller unavailable on this platform")
}
