//go:build !dwf

package device

import "codeberg.org/mutker/ad2ctl/internal/errors"

func newDWFBackend() (backend, error) {
	return nil, errors.New().WithMessage(ErrUnsupportedBuild, "built without the dwf tag")
}
