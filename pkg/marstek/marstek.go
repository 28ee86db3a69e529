package marstek

import (
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Marstek Venus batteries answer the local Open API on UDP 30000 and send
// their replies back to the same port on the requesting host.

const (
	DefaultIP        = "192.168.1.227"
	DefaultPort      = 30000
	DefaultLocalPort = 30000

	DefaultTimeout    = 1500 * time.Millisecond
	DefaultRetries    = 2
	DefaultMaxPackets = 16

	// Largest possible UDP payload
	readBufferSize = 65535
)

var (
	ErrEncodePayload = errors.New("payload is not JSON serializable")
	ErrInvalidBind   = errors.New("invalid bind address, expected host:port")
	ErrNoReply       = errors.New("no reply from device")
)

// NewEndpoint returns the UDP address of a device.
func NewEndpoint(ip string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s:%d", ip, port)
	}
	return addr, nil
}

// ParseBind parses a local host:port bind override. An empty string yields a
// nil address, which means the default local port.
func ParseBind(bind string) (*net.UDPAddr, error) {
	if bind == "" {
		return nil, nil
	}

	host, portStr, err := net.SplitHostPort(bind)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidBind, err.Error())
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, errors.Wrapf(ErrInvalidBind, "bad port %q", portStr)
	}

	if host == "" {
		return &net.UDPAddr{IP: net.IPv4zero, Port: port}, nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, errors.Wrapf(ErrInvalidBind, "bad host %q", host)
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

func defaultLocalAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4zero, Port: DefaultLocalPort}
}
