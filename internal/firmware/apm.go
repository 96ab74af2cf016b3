package firmware

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/events"
	"github.com/smazurov/hald/internal/store"
	"github.com/smazurov/hald/internal/sysfs"
)

// APMBackend polls the single-line /proc/apm status file on a fast cadence
//. There is exactly one object: the
// system battery APM reports a summary for.
type APMBackend struct {
	PollInterval time.Duration
}

// NewAPMBackend returns an APMBackend with the spec's default 2s cadence.
func NewAPMBackend() *APMBackend {
	return &APMBackend{PollInterval: 2 * time.Second}
}

func (b *APMBackend) Name() string            { return "apm" }
func (b *APMBackend) Namespace() string       { return "/apm" }
func (b *APMBackend) Interval() time.Duration { return b.PollInterval }

func (b *APMBackend) Discover(fs sysfs.Tree) []ObjectSpec {
	if !fs.Exists("/apm") {
		return nil
	}
	return []ObjectSpec{{Subsystem: "battery", Path: "/apm"}}
}

func (b *APMBackend) Poll(fs sysfs.Tree, gdl *store.Store, bus *events.Bus, log *slog.Logger) {
	dev, ok := gdl.MatchFirst("linux.sysfs_path", "/apm")
	if !ok {
		return
	}
	reading, ok := ReadAPM(fs)
	if !ok {
		return
	}
	dev.SetProperty("ac_adapter.present", device.Bool(reading.ACOnline))
	dev.SetProperty("battery.present", device.Bool(reading.BatteryPresent))
	dev.SetProperty("battery.charge_level.percentage", device.Double(reading.PercentageRemaining))
	dev.SetProperty("battery.remaining_time", device.Int64(reading.RemainingMinutes))
}

// APMReading is the parsed content of /proc/apm's single status line:
// "driver_ver bios_ver apm_flags ac_line_status battery_status
// battery_flag battery_percentage battery_time battery_time_units".
type APMReading struct {
	ACOnline            bool
	BatteryPresent      bool
	PercentageRemaining float64
	RemainingMinutes    int64
}

// ReadAPM parses /proc/apm. ok is false if the file is absent or malformed.
func ReadAPM(fs sysfs.Tree) (APMReading, bool) {
	data, ok := fs.ReadAttr("/apm")
	if !ok {
		return APMReading{}, false
	}
	fields := strings.Fields(data)
	if len(fields) < 9 {
		return APMReading{}, false
	}

	var reading APMReading
	reading.ACOnline = fields[3] == "0x01"
	reading.BatteryPresent = fields[5] != "0xff"

	pct := strings.TrimSuffix(fields[6], "%")
	if pct != "?" {
		if v, err := strconv.ParseFloat(pct, 64); err == nil {
			reading.PercentageRemaining = v
		}
	}

	if fields[7] != "-1" && fields[7] != "?" {
		if v, err := strconv.ParseInt(fields[7], 10, 64); err == nil {
			if len(fields) > 8 && fields[8] == "sec" {
				v /= 60
			}
			reading.RemainingMinutes = v
		}
	}
	return reading, true
}
