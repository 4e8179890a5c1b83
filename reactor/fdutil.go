package reactor

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/nitrodb/rpcreactor/api"
)

// fdFromConn extracts the raw, already-nonblocking file descriptor backing
// conn. The reactor thread drives all reads and writes on that fd directly
// with golang.org/x/sys/unix, bypassing net.Conn's own Read/Write so a
// single raw socket is never multiplexed by two independent pollers; conn
// itself is kept for the negotiator's handshake (which reads and writes
// through conn before the fd is registered with the poller) and for
// Close, LocalAddr, RemoteAddr and SetNoDelay, mirroring the way the teacher's epollReactor takes bare
// uintptr fds rather than net.Conn values.
func fdFromConn(conn net.Conn) (uintptr, *api.Status) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, api.IOError("connection type %T does not expose a raw file descriptor", conn)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, api.IOError("SyscallConn: %v", err)
	}
	var fd uintptr
	if err := rc.Control(func(f uintptr) { fd = f }); err != nil {
		return 0, api.IOError("SyscallConn.Control: %v", err)
	}
	return fd, nil
}

// rawRead performs one non-blocking read(2) into buf. A zero-length,
// nil-error result means "would block" (EAGAIN), not EOF.
func rawRead(fd uintptr, buf []byte) (int, *api.Status) {
	n, err := unix.Read(int(fd), buf)
	if err == nil {
		return n, nil
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
		return 0, nil
	}
	return 0, api.NetworkError("read: %v", err)
}

// rawWrite performs one non-blocking write(2) of buf.
func rawWrite(fd uintptr, buf []byte) (int, *api.Status) {
	n, err := unix.Write(int(fd), buf)
	if err == nil {
		return n, nil
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
		return 0, nil
	}
	return 0, api.NetworkError("write: %v", err)
}
