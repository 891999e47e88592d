package homekit

import (
	"context"
	"log/slog"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/pkg/errors"

	"github.com/ivanvanderbyl/epson-projector/pkg/entries"
	"github.com/ivanvanderbyl/epson-projector/pkg/epson"
	"github.com/ivanvanderbyl/epson-projector/pkg/escvp"
)

const refreshInterval = 30 * time.Second

type serveFunc func(ctx context.Context, a *accessory.A) error

// ProjectorController exposes one projector entry as a HomeKit television
type ProjectorController struct {
	entry     entries.Entry
	session   epson.Session
	accessory *accessory.Television
	serve     serveFunc
	interval  time.Duration
}

func NewProjectorController(entry entries.Entry, session epson.Session, serve serveFunc) *ProjectorController {
	return &ProjectorController{
		entry:    entry,
		session:  session,
		serve:    serve,
		interval: refreshInterval,
	}
}

// Start refreshes the accessory periodically and serves it until ctx is done.
// createAccessory must have been called first.
func (pc *ProjectorController) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "Starting projector controller")

	if pc.accessory == nil {
		return errors.New("accessory not created")
	}

	err := pc.refreshStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to refresh projector", "error", err)
	}

	// The refresh loop stops when serving does.
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pc.refreshLoop(loopCtx)

	err = pc.serve(ctx, pc.accessory.A)
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "serving accessory")
	}

	return nil
}

func (pc *ProjectorController) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(pc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := pc.refreshStatus(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to refresh projector", "error", err)
				continue
			}

			slog.DebugContext(ctx, "Refreshed projector", "active", pc.accessory.Television.Active.Value())
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping projector controller")
			return
		}
	}
}

func (pc *ProjectorController) createAccessory(ctx context.Context) error {
	serial, err := pc.session.GetSerialNumber(ctx)
	if err != nil {
		slog.DebugContext(ctx, "Serial number unavailable, using entry unique ID", "error", err)
		serial = pc.entry.UniqueID
	}

	acc := accessory.NewTelevision(accessory.Info{
		Name:         pc.entry.Title,
		SerialNumber: serial,
		Manufacturer: "Epson",
		Model:        "ESC/VP.net",
	})

	acc.Television.Active.OnSetRemoteValue(func(v int) error {
		switch v {
		case characteristic.ActiveActive:
			slog.InfoContext(ctx, "Active: On")

			err := pc.session.PowerOn(ctx)
			if err != nil {
				return errors.Wrap(err, "turning on projector")
			}
		case characteristic.ActiveInactive:
			slog.InfoContext(ctx, "Active: Off")

			err := pc.session.PowerOff(ctx)
			if err != nil {
				return errors.Wrap(err, "turning off projector")
			}
		}

		return nil
	})

	pc.accessory = acc
	return nil
}

func (pc *ProjectorController) refreshStatus(ctx context.Context) error {
	power, err := pc.session.GetProperty(ctx, escvp.PropertyPower)
	if err != nil {
		return errors.Wrap(err, "reading power")
	}

	err = pc.accessory.Television.Active.SetValue(activeValue(power))
	if err != nil {
		return errors.Wrap(err, "setting active state")
	}

	return nil
}

func activeValue(power string) int {
	if escvp.IsPoweredOn(power) {
		return characteristic.ActiveActive
	}
	return characteristic.ActiveInactive
}
