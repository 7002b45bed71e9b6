package main

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// rawSocket is the daemon's ingress and egress: an unconnected L2TP IP
// encapsulation socket bound to the daemon's local address.  The
// kernel strips the IP header on receive, so datagrams start at the
// L2TP session ID.
type rawSocket struct {
	fd   int
	file *os.File
	rc   syscall.RawConn
}

func newRawSocket(bindIP net.IP) (*rawSocket, error) {
	ip4 := bindIP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("bind address %v is not IPv4", bindIP)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_L2TP)
	if err != nil {
		return nil, fmt.Errorf("socket: %v", err)
	}

	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set socket nonblocking: %v", err)
	}

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fcntl(F_GETFD): %v", err)
	}
	if _, err = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags|unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fcntl(F_SETFD, FD_CLOEXEC): %v", err)
	}

	sa := &unix.SockaddrL2TPIP{}
	copy(sa.Addr[:], ip4)
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %v: %v", bindIP, err)
	}

	file := os.NewFile(uintptr(fd), "l2tpip")
	rc, err := file.SyscallConn()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &rawSocket{fd: fd, file: file, rc: rc}, nil
}

// recvFrom blocks until a datagram arrives and returns it along with
// the sender's address.
func (s *rawSocket) recvFrom(p []byte) (n int, addr net.Addr, err error) {
	var sa unix.Sockaddr
	cerr := s.rc.Read(func(fd uintptr) bool {
		n, sa, err = unix.Recvfrom(int(fd), p, unix.MSG_NOSIGNAL)
		return err != unix.EAGAIN && err != unix.EWOULDBLOCK
	})
	if err == nil {
		err = cerr
	}
	if err != nil {
		return 0, nil, err
	}
	return n, sockaddrToAddr(sa), nil
}

// WriteTo transmits a datagram towards the given peer.
// Implements the engine's PacketWriter interface.
func (s *rawSocket) WriteTo(b []byte, addr net.Addr) (int, error) {
	sa, err := addrToSockaddr(addr)
	if err != nil {
		return 0, err
	}
	cerr := s.rc.Write(func(fd uintptr) bool {
		err = unix.Sendto(int(fd), b, unix.MSG_NOSIGNAL, sa)
		return err != unix.EAGAIN && err != unix.EWOULDBLOCK
	})
	if err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (s *rawSocket) close() error {
	return s.file.Close()
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrL2TPIP:
		return &net.IPAddr{IP: append(net.IP(nil), v.Addr[:]...)}
	case *unix.SockaddrInet4:
		return &net.IPAddr{IP: append(net.IP(nil), v.Addr[:]...)}
	}
	return nil
}

func addrToSockaddr(addr net.Addr) (unix.Sockaddr, error) {
	ipAddr, ok := addr.(*net.IPAddr)
	if !ok {
		return nil, fmt.Errorf("unsupported peer address type %T", addr)
	}
	ip4 := ipAddr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("peer address %v is not IPv4", ipAddr)
	}
	sa := &unix.SockaddrL2TPIP{}
	copy(sa.Addr[:], ip4)
	return sa, nil
}
