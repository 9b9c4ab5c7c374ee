//go:build linux

package rtp

import (
	"golang.org/x/sys/unix"
)

// setSockOptReusePort включает SO_REUSEPORT для нескольких сокетов на одном порту
func setSockOptReusePort(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// setSockOptBindToDevice привязывает сокет к сетевому интерфейсу
func setSockOptBindToDevice(fd uintptr, device string) error {
	return unix.SetsockoptString(int(fd), unix.SOL_SOCKET, unix.SO_BINDTODEVICE, device)
}

// setSockOptPriority выставляет SO_PRIORITY по классу трафика.
// Ошибка игнорируется: в контейнерах опция может быть недоступна.
func setSockOptPriority(fd uintptr, dscp int) {
	priority := 0
	switch dscp {
	case DSCPExpeditedForwarding:
		priority = 6 // интерактивное аудио
	case DSCPAssuredForwarding:
		priority = 5 // видео
	}
	if priority > 0 {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, priority)
	}
}

// setSockOptDSCP устанавливает DSCP маркировку (старшие 6 бит TOS)
func setSockOptDSCP(fd uintptr, dscp int) error {
	tos := dscp << 2

	if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos); err != nil {
		// IPv6 сокет без IPv4 отображения
		return unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	}

	_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	return nil
}
