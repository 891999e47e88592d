package escvp

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
)

// Handshake request sent on every new connection
// 4553432F56502E6E6574100300000000

// Handshake accepted
// 4553432F56502E6E6574100300002000

// Power query and response
// "PWR?\r" -> "PWR=01\r:"

type Property string

const (
	// Properties understood by GetProperty
	PropertyPower        Property = "PWR"
	PropertySource       Property = "SOURCE"
	PropertyVolume       Property = "VOL"
	PropertyMute         Property = "MUTE"
	PropertySerialNumber Property = "SNO"
	PropertyLampHours    Property = "LAMP"
	PropertyError        Property = "ERR"
)

const (
	// Power status codes reported for PropertyPower
	PowerStandby        = "00"
	PowerOn             = "01"
	PowerWarmUp         = "02"
	PowerCoolDown       = "03"
	PowerStandbyNetwork = "04"
	PowerAbnormal       = "05"
	PowerAVStandby      = "09"

	// StateUnavailable is returned when the projector answers but rejects the query,
	// which it does for most properties while in standby.
	StateUnavailable = "unavailable"

	// TransportTCP is the only transport this client speaks.
	TransportTCP = "tcp"

	// DefaultPort is the ESC/VP.net control port
	DefaultPort = 3629
)

const (
	headerSize    = 16
	headerVersion = 0x10

	// Each trailing handshake header is an identifier, an attribute and 16 bytes of data
	extraHeaderSize = 18

	typeConnect = 0x03

	statusRequest  = 0x00
	statusOK       = 0x20
	statusBusy     = 0x53
	statusDenied   = 0x41
	statusNoAccess = 0x43

	commandTerminator = '\r'
	replyTerminator   = ':'

	errorReply = "ERR"
)

var headerMagic = [10]byte{'E', 'S', 'C', '/', 'V', 'P', '.', 'n', 'e', 't'}

var (
	ErrInvalidHost       = errors.New("invalid projector host")
	ErrInvalidHeader     = errors.New("invalid ESC/VP.net header")
	ErrHandshakeRejected = errors.New("projector rejected connection")
	ErrCommandRejected   = errors.New("projector rejected command")
	ErrUnexpectedReply   = errors.New("unexpected reply")
	ErrClosed            = errors.New("projector session closed")
)

// Header is the fixed ESC/VP.net frame exchanged once per connection
type Header struct {
	Magic       [10]byte
	Version     uint8
	Type        uint8
	Reserved    uint16
	Status      uint8
	HeaderCount uint8
}

func connectHeader() Header {
	return Header{
		Magic:   headerMagic,
		Version: headerVersion,
		Type:    typeConnect,
		Status:  statusRequest,
	}
}

func marshalHeader(h Header) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, h)
	return buf.Bytes()
}

func UnmarshalHeader(packet []byte) (*Header, error) {
	if len(packet) != headerSize {
		return nil, ErrInvalidHeader
	}

	h := new(Header)
	err := binary.Read(bytes.NewReader(packet), binary.BigEndian, h)
	if err != nil {
		return nil, err
	}

	if h.Magic != headerMagic {
		return nil, ErrInvalidHeader
	}
	return h, nil
}

func checkHandshake(h *Header) error {
	if h.Type != typeConnect {
		return errors.Wrapf(ErrInvalidHeader, "type 0x%02x", h.Type)
	}

	switch h.Status {
	case statusOK:
		return nil
	case statusBusy:
		return errors.Wrap(ErrHandshakeRejected, "projector busy")
	case statusDenied, statusNoAccess:
		return errors.Wrap(ErrHandshakeRejected, "access denied")
	}
	return errors.Wrapf(ErrHandshakeRejected, "status 0x%02x", h.Status)
}

func marshalQuery(p Property) []byte {
	return []byte(string(p) + "?" + string(commandTerminator))
}

func marshalCommand(p Property, arg string) []byte {
	return []byte(string(p) + " " + arg + string(commandTerminator))
}

// parseQueryReply extracts the value from a reply such as "PWR=01\r:"
func parseQueryReply(p Property, reply string) (string, error) {
	body := trimReply(reply)
	if body == errorReply {
		return StateUnavailable, nil
	}

	key, value, ok := strings.Cut(body, "=")
	if !ok || key != string(p) {
		return "", errors.Wrapf(ErrUnexpectedReply, "%q", reply)
	}
	return value, nil
}

// parseCommandReply checks an acknowledgement, which is a bare ":"
func parseCommandReply(reply string) error {
	body := trimReply(reply)
	switch body {
	case "":
		return nil
	case errorReply:
		return ErrCommandRejected
	}
	return errors.Wrapf(ErrUnexpectedReply, "%q", reply)
}

func trimReply(reply string) string {
	reply = strings.TrimSuffix(reply, string(replyTerminator))
	return strings.TrimSpace(reply)
}

// IsPoweredOn reports whether a power code means the lamp is lit or coming up
func IsPoweredOn(code string) bool {
	return code == PowerOn || code == PowerWarmUp
}
