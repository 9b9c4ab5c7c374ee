//go:build darwin

package rtp

import (
	"golang.org/x/sys/unix"
)

// setSockOptReusePort включает переиспользование адреса для macOS
func setSockOptReusePort(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	return nil
}

// setSockOptBindToDevice на macOS нет аналога SO_BINDTODEVICE,
// интерфейс выбирается локальным адресом
func setSockOptBindToDevice(fd uintptr, device string) error {
	return nil
}

// setSockOptPriority на macOS отключает SIGPIPE, приоритета сокета нет
func setSockOptPriority(fd uintptr, dscp int) {
	_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
}

// setSockOptDSCP устанавливает DSCP маркировку (старшие 6 бит TOS)
func setSockOptDSCP(fd uintptr, dscp int) error {
	tos := dscp << 2
	if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		return unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	}
	return nil
}
