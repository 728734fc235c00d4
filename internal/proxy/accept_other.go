//go:build !unix

package proxy

func isTransientErrno(error) bool { return false }
