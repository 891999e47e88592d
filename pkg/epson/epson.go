// Package epson wires Epson projectors into the platform: it validates a
// projector before use, keeps one session per configured entry and runs the
// setup wizard that creates those entries.
package epson

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ivanvanderbyl/epson-projector/pkg/escvp"
)

const (
	Domain = "epson"

	// PowerOffCode is the power status reported by a projector in network standby
	PowerOffCode = escvp.PowerStandbyNetwork
)

var (
	ErrCannotConnect = errors.New("cannot connect to projector")
	ErrPoweredOff    = errors.New("projector is powered off")
)

// Session is an open logical connection to one projector
type Session interface {
	Host() string
	GetProperty(ctx context.Context, prop escvp.Property) (string, error)
	GetSerialNumber(ctx context.Context) (string, error)
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	Close() error
}

// Opener creates a session for host. It must not perform I/O that depends
// on the projector being reachable.
type Opener func(host string) (Session, error)

// OpenTCP opens an ESC/VP.net session over TCP
func OpenTCP(host string) (Session, error) {
	p, err := escvp.Open(host)
	if err != nil {
		return nil, err
	}
	return p, nil
}
