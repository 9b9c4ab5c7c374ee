//go:build !linux && !darwin

package rtp

func setSockOptReusePort(fd uintptr) error {
	return nil
}

func setSockOptBindToDevice(fd uintptr, device string) error {
	return nil
}

func setSockOptPriority(fd uintptr, dscp int) {}

func setSockOptDSCP(fd uintptr, dscp int) error {
	return nil
}
