//go:build unix

package proxy

import (
	"errors"

	"golang.org/x/sys/unix"
)

var transientAcceptErrnos = []unix.Errno{
	unix.ECONNABORTED,
	unix.EINTR,
	unix.EMFILE,
	unix.ENFILE,
	unix.ENOBUFS,
	unix.ENOMEM,
}

func isTransientErrno(err error) bool {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	for _, e := range transientAcceptErrnos {
		if errno == e {
			return true
		}
	}
	return false
}
