package homekit

import (
	"context"
	"fmt"
	syslog "log"
	"os"
	"strconv"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/log"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	slogctx "github.com/veqryn/slog-context"

	"github.com/ivanvanderbyl/marstek/pkg/marstek"
)

// BatteryReader is the part of a device the bridge polls.
type BatteryReader interface {
	Info(ctx context.Context) (*marstek.DeviceInfo, error)
	BatteryStatus(ctx context.Context) (*marstek.BatteryStatus, error)
}

type Options struct {
	PIN             string
	StorePath       string
	RefreshInterval time.Duration
	Debug           bool
}

// BatteryController publishes a battery's pack temperature as a HomeKit
// temperature sensor.
type BatteryController struct {
	device    BatteryReader
	opts      Options
	accessory *accessory.Thermometer
	status    *marstek.BatteryStatus
}

func NewBatteryController(device BatteryReader, opts Options) *BatteryController {
	return &BatteryController{device: device, opts: opts}
}

// Run serves the accessory until ctx is cancelled.
func (bc *BatteryController) Run(ctx context.Context, addr string) error {
	ctx = slogctx.Append(ctx, "ip", addr)
	slogctx.Info(ctx, "Starting HomeKit bridge")

	info, err := bc.device.Info(ctx)
	if err != nil {
		return errors.Wrap(err, "fetching device info")
	}

	ctx = slogctx.Append(ctx, "device", info.Device)
	bc.createAccessory(info)

	if err := bc.refreshStatus(ctx); err != nil {
		slogctx.Error(ctx, "Failed to refresh battery", "error", err)
	}

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	p.Go(bc.refreshLoop)
	p.Go(bc.startServer)

	err = p.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (bc *BatteryController) refreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(bc.opts.RefreshInterval)
	defer ticker.Stop()

	slogctx.Info(ctx, "Starting battery refresh loop", "interval", bc.opts.RefreshInterval)
	for {
		select {
		case <-ticker.C:
			if err := bc.refreshStatus(ctx); err != nil {
				slogctx.Error(ctx, "Failed to refresh battery", "error", err)
				continue
			}

			slogctx.Info(ctx, "Refreshed battery",
				"soc", bc.status.SOC,
				"temperature", bc.status.Temperature,
				"charging", formatBoolean(bc.status.ChargeAllowed),
			)
		case <-ctx.Done():
			slogctx.Info(ctx, "Stopping battery refresh loop")
			return nil
		}
	}
}

func (bc *BatteryController) createAccessory(info *marstek.DeviceInfo) {
	bc.accessory = accessory.NewTemperatureSensor(accessory.Info{
		Name:         "Battery",
		Manufacturer: "Marstek",
		Model:        info.Device,
		SerialNumber: serialNumber(info),
		Firmware:     strconv.Itoa(info.Version),
	})
}

func (bc *BatteryController) refreshStatus(ctx context.Context) error {
	status, err := bc.device.BatteryStatus(ctx)
	if err != nil {
		return errors.Wrap(err, "refreshing battery")
	}

	bc.status = status
	bc.accessory.TempSensor.CurrentTemperature.SetValue(status.Temperature)
	return nil
}

func (bc *BatteryController) startServer(ctx context.Context) error {
	slogctx.Info(ctx, "Starting HomeKit server")

	fs := hap.NewFsStore(bc.opts.StorePath)

	if bc.opts.Debug {
		newLogger := syslog.New(os.Stderr, "HAP ", syslog.LstdFlags|syslog.Lshortfile)
		log.Debug = &log.Logger{Logger: newLogger}
	}

	server, err := hap.NewServer(fs, bc.accessory.A)
	if err != nil {
		return errors.Wrap(err, "creating server")
	}
	server.Pin = bc.opts.PIN

	return server.ListenAndServe(ctx)
}

func serialNumber(info *marstek.DeviceInfo) string {
	if info.BLEMac != "" {
		return info.BLEMac
	}
	return fmt.Sprintf("MST-%s", info.WifiMac)
}

func formatBoolean(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}
