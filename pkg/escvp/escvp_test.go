package escvp

import (
	"encoding/hex"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestMarshalHeader(t *testing.T) {
	a := assert.New(t)

	packet := marshalHeader(connectHeader())
	a.Len(packet, headerSize)
	a.EqualValues(mustDecode("4553432F56502E6E6574100300000000"), packet)
}

func TestUnmarshalHeader(t *testing.T) {
	a := assert.New(t)

	h, err := UnmarshalHeader(mustDecode("4553432F56502E6E6574100300002000"))
	a.NoError(err)
	a.EqualValues(uint8(statusOK), h.Status)
	a.NoError(checkHandshake(h))

	_, err = UnmarshalHeader(mustDecode("4553432F56502E6E65741003000020"))
	a.ErrorIs(err, ErrInvalidHeader)

	_, err = UnmarshalHeader(mustDecode("4553432F56502E6E6575100300002000"))
	a.ErrorIs(err, ErrInvalidHeader)
}

func TestCheckHandshake(t *testing.T) {
	a := assert.New(t)

	tests := []struct {
		packet string
		err    error
	}{
		{packet: "4553432F56502E6E6574100300002000"},
		{packet: "4553432F56502E6E6574100300005300", err: ErrHandshakeRejected},
		{packet: "4553432F56502E6E6574100300004100", err: ErrHandshakeRejected},
		{packet: "4553432F56502E6E6574100300004500", err: ErrHandshakeRejected},
		{packet: "4553432F56502E6E6574100100002000", err: ErrInvalidHeader},
	}

	for _, test := range tests {
		h, err := UnmarshalHeader(mustDecode(test.packet))
		a.NoError(err)

		err = checkHandshake(h)
		if test.err == nil {
			a.NoError(err, test.packet)
			continue
		}
		a.True(errors.Is(err, test.err), test.packet)
	}
}

func TestMarshalRequests(t *testing.T) {
	a := assert.New(t)

	a.Equal([]byte("PWR?\r"), marshalQuery(PropertyPower))
	a.Equal([]byte("SNO?\r"), marshalQuery(PropertySerialNumber))
	a.Equal([]byte("PWR ON\r"), marshalCommand(PropertyPower, "ON"))
}

func TestParseQueryReply(t *testing.T) {
	a := assert.New(t)

	value, err := parseQueryReply(PropertyPower, "PWR=01\r:")
	a.NoError(err)
	a.Equal(PowerOn, value)

	value, err = parseQueryReply(PropertyPower, "ERR\r:")
	a.NoError(err)
	a.Equal(StateUnavailable, value)

	value, err = parseQueryReply(PropertySerialNumber, "SNO=X4ZK8300123\r:")
	a.NoError(err)
	a.Equal("X4ZK8300123", value)

	_, err = parseQueryReply(PropertyPower, "SNO=X4ZK8300123\r:")
	a.ErrorIs(err, ErrUnexpectedReply)

	_, err = parseQueryReply(PropertyPower, "garbage:")
	a.ErrorIs(err, ErrUnexpectedReply)
}

func TestParseCommandReply(t *testing.T) {
	a := assert.New(t)

	a.NoError(parseCommandReply(":"))
	a.ErrorIs(parseCommandReply("ERR\r:"), ErrCommandRejected)
	a.ErrorIs(parseCommandReply("PWR=01\r:"), ErrUnexpectedReply)
}

func TestIsPoweredOn(t *testing.T) {
	a := assert.New(t)

	a.True(IsPoweredOn(PowerOn))
	a.True(IsPoweredOn(PowerWarmUp))
	a.False(IsPoweredOn(PowerCoolDown))
	a.False(IsPoweredOn(PowerStandbyNetwork))
	a.False(IsPoweredOn(StateUnavailable))
}

func mustDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
