// Package synlabctl is a command line client for a SynLab board and its gateway.
package synlabctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
	"github.com/LeonardoBeccarini/synlab/internal/model/messages"
	"github.com/LeonardoBeccarini/synlab/internal/services/gateway/app"
	"github.com/LeonardoBeccarini/synlab/internal/services/monitor"
	"github.com/LeonardoBeccarini/synlab/pkg/device"
	"github.com/LeonardoBeccarini/synlab/pkg/logging"
	"github.com/LeonardoBeccarini/synlab/pkg/rabbitmq"
)

const (
	// Flags.
	flagDevice    = "device"
	flagTimeout   = "timeout"
	flagDebug     = "debug"
	flagJSON      = "json"
	flagInterval  = "interval"
	flagCount     = "count"
	flagName      = "name"
	flagObjective = "objective"
	flagTemp      = "temp"
	flagDuration  = "duration"
	flagDeviceID  = "device-id"
	flagMQTTHost  = "mqtt-host"
	flagMQTTPort  = "mqtt-port"
)

// Dialer opens the MQTT connection used by the command action.
type Dialer func(ctx context.Context, cfg *rabbitmq.RabbitMQConfig, logger logging.Logger) (mqtt.Client, error)

// NewApp builds the synlabctl application writing to out. dial may be nil.
func NewApp(out io.Writer, dial Dialer) *cli.App {
	if dial == nil {
		dial = rabbitmq.NewRabbitMQConn
	}
	return &cli.App{
		Name:            "synlabctl",
		Usage:           "talk to a SynLab board",
		Writer:          out,
		ErrWriter:       out,
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagDevice,
				EnvVars: []string{"DEVICE_URL"},
				Value:   device.DefaultBaseURL,
				Usage:   "base `URL` of the board",
			},
			&cli.DurationFlag{
				Name:  flagTimeout,
				Value: device.DefaultTimeout,
				Usage: "bound of a single device call",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "read",
				Usage: "read the sensors once",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagJSON, Usage: "print the raw reading"},
				},
				Action: ReadAction,
			},
			{
				Name:  "watch",
				Usage: "poll the board and print the sensor tiles on every attempt",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: flagInterval, Value: monitor.DefaultInterval, Usage: "poll interval"},
					&cli.IntFlag{Name: flagCount, Usage: "stop after `N` attempts (0 runs until interrupted)"},
				},
				Action: WatchAction,
			},
			{
				Name:  "start",
				Usage: "start an experiment",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagName, Required: true, Usage: "experiment name"},
					&cli.StringFlag{Name: flagObjective, Value: "manual run", Usage: "experiment objective"},
					&cli.Float64Flag{Name: flagTemp, Value: entities.DefaultTargetTempC, Usage: "target temperature in °C"},
					&cli.IntFlag{Name: flagDuration, Value: entities.DefaultDurationMin, Usage: "duration in minutes"},
				},
				Action: StartAction,
			},
			{
				Name:   "stop",
				Usage:  "stop the running experiment",
				Action: StopAction,
			},
			{
				Name:      "pump",
				Usage:     "switch the water pump",
				ArgsUsage: "on|off",
				Action:    PumpAction,
			},
			{
				Name:      "command",
				Usage:     "send a remote command to a gateway over MQTT",
				ArgsUsage: strings.Join([]string{messages.ActionPumpOn, messages.ActionPumpOff, messages.ActionStop}, "|"),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagDeviceID, EnvVars: []string{"DEVICE_ID"}, Value: "esp32", Usage: "target gateway device id"},
					&cli.StringFlag{Name: flagMQTTHost, EnvVars: []string{"RABBITMQ_HOST"}, Value: "localhost", Usage: "broker host"},
					&cli.IntFlag{Name: flagMQTTPort, EnvVars: []string{"RABBITMQ_PORT"}, Value: 1883, Usage: "broker port"},
				},
				Action: func(c *cli.Context) error {
					return commandAction(c, dial)
				},
			},
		},
	}
}

// newLogger returns a debug logger named after the component when --debug is set.
func newLogger(c *cli.Context, name string) logging.Logger {
	var l logging.Logger = logging.NullLogger{}
	if c.Bool(flagDebug) {
		l = logging.NewDefault(true)
	}
	return logging.Named(l, name)
}

func newClient(c *cli.Context) *device.Client {
	return device.New(c.String(flagDevice),
		device.WithTimeout(c.Duration(flagTimeout)),
		device.WithLogger(newLogger(c, "device")))
}

func printf(w io.Writer, format string, a ...interface{}) {
	_, _ = fmt.Fprintf(w, format+"\n", a...)
}

// ReadAction prints one reading.
func ReadAction(c *cli.Context) error {
	r, err := newClient(c).ReadSensors(c.Context)
	if err != nil {
		return err
	}
	if c.Bool(flagJSON) {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	printf(c.App.Writer, "%s", r)
	return nil
}

// WatchAction runs a poller against the board and prints the tiles of every snapshot.
func WatchAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mon := monitor.New(newClient(c),
		monitor.WithInterval(c.Duration(flagInterval)),
		monitor.WithLogger(newLogger(c, "monitor")))
	snapshots, unsubscribe := mon.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.Run(ctx)
	}()
	defer func() {
		stop()
		<-done
	}()

	limit := c.Int(flagCount)
	for seen := 0; limit <= 0 || seen < limit; {
		select {
		case <-ctx.Done():
			return nil
		case s := <-snapshots:
			if s.Seq == 0 {
				continue
			}
			seen++
			printTiles(c.App.Writer, s)
		}
	}
	return nil
}

func printTiles(w io.Writer, s entities.Snapshot) {
	tiles := app.BuildTiles(s)
	line := tiles.Header
	if s.Stale() {
		line += fmt.Sprintf(" (last data %s ago)", s.CheckedAt.Sub(s.UpdatedAt).Round(time.Second))
	}
	printf(w, "#%d %s", s.Seq, line)
	for _, t := range tiles.Tiles {
		printf(w, "  %-22s %-14s %s", t.Name, t.StatusLabel, t.Value)
	}
}

// StartAction validates the experiment locally and asks the board to run it.
func StartAction(c *cli.Context) error {
	cfg := entities.DefaultExperimentConfig()
	cfg.Name = c.String(flagName)
	cfg.Objective = c.String(flagObjective)
	cfg.TargetTemperature = c.Float64(flagTemp)
	cfg.DurationMin = c.Int(flagDuration)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := newClient(c).StartExperiment(c.Context, strings.TrimSpace(cfg.Name), cfg.TargetTemperature, cfg.DurationMin); err != nil {
		return err
	}
	printf(c.App.Writer, "experiment %q started: %g°C for %d min", cfg.Name, cfg.TargetTemperature, cfg.DurationMin)
	return nil
}

// StopAction stops the running experiment.
func StopAction(c *cli.Context) error {
	if err := newClient(c).StopExperiment(c.Context); err != nil {
		return err
	}
	printf(c.App.Writer, "experiment stopped")
	return nil
}

// PumpAction switches the pump.
func PumpAction(c *cli.Context) error {
	state, err := entities.ParsePumpState(c.Args().First())
	if err != nil {
		return err
	}
	if err := newClient(c).SetPumpState(c.Context, state); err != nil {
		return err
	}
	printf(c.App.Writer, "pump %s", state)
	return nil
}

func commandAction(c *cli.Context, dial Dialer) error {
	action := c.Args().First()
	switch action {
	case messages.ActionPumpOn, messages.ActionPumpOff, messages.ActionStop:
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	logger := newLogger(c, "mqtt")
	cfg := &rabbitmq.RabbitMQConfig{
		Host:       c.String(flagMQTTHost),
		Port:       c.Int(flagMQTTPort),
		ClientID:   "synlabctl-" + uuid.NewString()[:8],
		MaxRetries: 3,
	}
	client, err := dial(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rabbitmq.CloseRabbitMQConn(client, logger)

	cmd := messages.DeviceCommand{ID: uuid.NewString(), Action: action}
	deviceID := c.String(flagDeviceID)
	if err := rabbitmq.NewPublisher(client, app.CommandTopic(deviceID), 1).PublishMessage(cmd); err != nil {
		return err
	}
	printf(c.App.Writer, "sent %s to %s (id %s)", action, deviceID, cmd.ID)
	return nil
}
