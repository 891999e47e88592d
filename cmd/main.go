package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	slogctx "github.com/veqryn/slog-context"

	"github.com/ivanvanderbyl/epson-projector/pkg/config"
	"github.com/ivanvanderbyl/epson-projector/pkg/entries"
	"github.com/ivanvanderbyl/epson-projector/pkg/epson"
	"github.com/ivanvanderbyl/epson-projector/pkg/escvp"
	"github.com/ivanvanderbyl/epson-projector/pkg/homekit"
	"github.com/ivanvanderbyl/epson-projector/pkg/logging"
	"github.com/ivanvanderbyl/epson-projector/pkg/mqttstate"
)

const unloadTimeout = 15 * time.Second

func main() {
	var cfg config.Config

	commonFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     "host",
			Usage:    "Host name or IP address of the projector",
			Required: true,
			EnvVars:  []string{"EPSON_HOST"},
		},
	}

	app := &cli.App{
		Name:  "epsonctl",
		Usage: "Remote control and HomeKit bridge for Epson projectors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"EPSON_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			cfg, err = config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.IsSet("log-level") {
				cfg.Logging.Level = c.String("log-level")
			}
			logging.Setup(os.Stderr, cfg.Logging)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Check that a projector is reachable and powered on",
				Flags: commonFlags,
				Action: func(c *cli.Context) error {
					host := c.String("host")

					res := epson.NewValidator(epson.OpenTCP).Validate(c.Context, host, true)
					if res.OK() {
						defer res.Session.Close()
					}

					fmt.Printf("Projector: %s\n\tStatus: %s\n\tPower: %s\n", host, res.Status, formatPower(res.Power))
					return res.Err()
				},
			},
			{
				Name:  "serial",
				Usage: "Print the serial number of a projector",
				Flags: commonFlags,
				Action: func(c *cli.Context) error {
					p, err := escvp.Open(c.String("host"))
					if err != nil {
						return err
					}
					defer p.Close()

					serial, err := p.GetSerialNumber(c.Context)
					if err != nil {
						slog.Error("Failed to read serial number", "error", err)
						return err
					}

					fmt.Println(serial)
					return nil
				},
			},
			{
				Name:  "power-on",
				Usage: "Power on the projector",
				Flags: commonFlags,
				Action: func(c *cli.Context) error {
					return sendPower(c, true)
				},
			},
			{
				Name:  "power-off",
				Usage: "Power off the projector",
				Flags: commonFlags,
				Action: func(c *cli.Context) error {
					return sendPower(c, false)
				},
			},
			{
				Name:  "setup",
				Usage: "Add a projector, keyed on its serial number",
				Flags: append(commonFlags, &cli.StringFlag{
					Name:  "name",
					Usage: "Display name of the projector",
					Value: epson.Domain,
				}),
				Action: func(c *cli.Context) error {
					store, err := loadStore(cfg)
					if err != nil {
						return err
					}

					flow := epson.NewConfigFlow(epson.NewValidator(epson.OpenTCP), store)
					res := flow.StepUser(c.Context, &entries.Data{Host: c.String("host"), Name: c.String("name")})
					return finishFlow(store, res)
				},
			},
			{
				Name:  "import",
				Usage: "Add every projector listed under 'epson' in the configuration file",
				Action: func(c *cli.Context) error {
					store, err := loadStore(cfg)
					if err != nil {
						return err
					}

					flow := epson.NewConfigFlow(epson.NewValidator(epson.OpenTCP), store)

					var failed int
					for _, p := range cfg.Projectors {
						res := flow.StepImport(c.Context, p)
						if err := finishFlow(store, res); err != nil {
							slog.Error("Failed to import projector", "host", p.Host, "error", err)
							failed++
						}
					}

					if failed > 0 {
						return errors.Errorf("%d of %d projectors failed to import", failed, len(cfg.Projectors))
					}
					return nil
				},
			},
			{
				Name:  "entries",
				Usage: "List configured projectors",
				Action: func(c *cli.Context) error {
					store, err := loadStore(cfg)
					if err != nil {
						return err
					}

					for _, e := range store.List(epson.Domain) {
						fmt.Printf("%s\t%s\t%s\t%s\t%s\n", e.ID, e.Title, e.Data.Host, e.UniqueID, e.Source)
					}
					return nil
				},
			},
			{
				Name:  "remove",
				Usage: "Remove a configured projector",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "Entry ID as printed by 'entries'",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					store, err := loadStore(cfg)
					if err != nil {
						return err
					}

					if err := store.Remove(c.String("id")); err != nil {
						return err
					}
					return store.Save()
				},
			},
			{
				Name:  "run",
				Usage: "Serve every configured projector until interrupted",
				Action: func(c *cli.Context) error {
					return run(c.Context, cfg)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	store, err := loadStore(cfg)
	if err != nil {
		return err
	}

	// Setup a listener for interrupts and SIGTERM signals
	// to stop serving.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var platforms []epson.Platform
	if cfg.HomeKit.Enabled {
		var opts []homekit.Option
		if logging.ParseLevel(cfg.Logging.Level) == slog.LevelDebug {
			opts = append(opts, homekit.WithDebug())
		}
		platforms = append(platforms, homekit.NewPlatform(cfg.HomeKit.StorePath, cfg.HomeKit.Pin, opts...))
	}
	if cfg.MQTT.Enabled {
		client, err := mqttstate.Connect(cfg.MQTT)
		if err != nil {
			return errors.Wrap(err, "connecting to MQTT broker")
		}
		defer client.Close()
		platforms = append(platforms, mqttstate.NewPlatform(client, mqttstate.Topics{Prefix: cfg.MQTT.TopicPrefix}))
	}

	manager := epson.NewManager(epson.NewValidator(epson.OpenTCP), epson.NewRegistry(), platforms...)

	loaded := make([]entries.Entry, 0)
	for _, entry := range store.List(epson.Domain) {
		entryCtx := slogctx.Append(ctx, "entry_id", entry.ID, "title", entry.Title)

		task, ok := manager.Setup(entryCtx, entry)
		if !ok {
			continue
		}
		loaded = append(loaded, entry)

		go func() {
			if err := task.Wait(); err != nil {
				slog.ErrorContext(entryCtx, "Projector setup incomplete", "error", err)
				return
			}
			slog.InfoContext(entryCtx, "Projector ready", "platforms", manager.Platforms())
		}()
	}

	slog.InfoContext(ctx, "Serving projectors", "loaded", len(loaded), "configured", len(store.List(epson.Domain)))

	<-ctx.Done()
	slog.Info("Interrupt signal received")

	unloadCtx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()

	var failed int
	for _, entry := range loaded {
		if !manager.Unload(unloadCtx, entry) {
			slog.Warn("Projector did not unload cleanly", "entry_id", entry.ID)
			failed++
		}
	}

	if failed > 0 {
		return errors.Errorf("%d projectors did not unload cleanly", failed)
	}
	return nil
}

func loadStore(cfg config.Config) (*entries.Store, error) {
	store := entries.NewStore(cfg.EntriesPath)
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

// finishFlow persists a created entry or turns a form or abort into an error
func finishFlow(store *entries.Store, res epson.FlowResult) error {
	switch res.Type {
	case epson.ResultTypeCreateEntry:
		entry, err := store.Add(res.Entry())
		if err != nil {
			return err
		}
		if err := store.Save(); err != nil {
			return err
		}
		slog.Info("Projector added", "entry_id", entry.ID, "title", entry.Title, "unique_id", entry.UniqueID)
		return nil

	case epson.ResultTypeAbort:
		return errors.New(res.Reason)
	}

	return errors.Errorf("setup failed: %s", formatErrors(res.Errors))
}

func formatErrors(errs map[string]string) string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += k + "=" + errs[k]
	}
	return out
}

func sendPower(c *cli.Context, on bool) error {
	host := c.String("host")

	p, err := escvp.Open(host)
	if err != nil {
		return err
	}
	defer p.Close()

	if on {
		fmt.Println("Powering on the projector...")
		err = p.PowerOn(c.Context)
	} else {
		fmt.Println("Powering off the projector...")
		err = p.PowerOff(c.Context)
	}
	if err != nil {
		slog.Error("Failed to change projector power", "error", err, "host", host)
		return err
	}

	slog.Info("Projector power changed", "host", host, "on", on)
	return nil
}

func formatPower(code string) string {
	switch code {
	case "":
		return "unknown"
	case escvp.PowerStandby, escvp.PowerStandbyNetwork, escvp.PowerAVStandby:
		return "Off (" + code + ")"
	case escvp.PowerOn:
		return "On"
	case escvp.PowerWarmUp:
		return "Warming up"
	case escvp.PowerCoolDown:
		return "Cooling down"
	case escvp.PowerAbnormal:
		return "Abnormal standby"
	}
	return code
}
