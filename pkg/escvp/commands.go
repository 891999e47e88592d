package escvp

import (
	"context"

	"github.com/pkg/errors"
)

// GetProperty queries a single property. StateUnavailable is returned when the
// projector refuses the query in its current state.
func (p *Projector) GetProperty(ctx context.Context, prop Property) (string, error) {
	reply, err := p.rpc(ctx, marshalQuery(prop))
	if err != nil {
		return "", err
	}

	return parseQueryReply(prop, reply)
}

func (p *Projector) GetSerialNumber(ctx context.Context) (string, error) {
	serial, err := p.GetProperty(ctx, PropertySerialNumber)
	if err != nil {
		return "", errors.Wrap(err, "reading serial number")
	}

	if serial == StateUnavailable || serial == "" {
		return "", errors.Wrap(ErrCommandRejected, "serial number unavailable")
	}

	return serial, nil
}

func (p *Projector) PowerOn(ctx context.Context) error {
	return p.send(ctx, PropertyPower, "ON")
}

func (p *Projector) PowerOff(ctx context.Context) error {
	return p.send(ctx, PropertyPower, "OFF")
}

func (p *Projector) send(ctx context.Context, prop Property, arg string) error {
	reply, err := p.rpc(ctx, marshalCommand(prop, arg))
	if err != nil {
		return err
	}

	err = parseCommandReply(reply)
	if err != nil {
		return errors.Wrapf(err, "%s %s", prop, arg)
	}

	return nil
}
