package uevent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jochenvg/go-udev"
	"github.com/smazurov/hald/internal/hotplug"
)

// Sink receives each decoded kernel event. The daemon points this at the
// hotplug queue (enqueue, then pump).
type Sink func(*hotplug.Event)

// Source subscribes to the kernel's udev netlink group and feeds every
// device event into the hotplug queue. Unlike a plain datagram socket read,
// the monitor's netlink socket is only joinable by uid 0, which is the
// sender-credential restriction the wire protocol demands.
type Source struct {
	sink   Sink
	logger *slog.Logger

	// OnReceive, when set, is invoked with the raw action string before the
	// event is handed to the sink. Used for the uevent counter.
	OnReceive func(action string)

	cancel context.CancelFunc
}

// NewSource returns a Source delivering decoded events to sink. A nil
// logger falls back to slog.Default().
func NewSource(sink Sink, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{sink: sink, logger: logger.With("component", "uevent")}
}

// Start opens the netlink monitor with no subsystem filter (every subsystem
// is interesting to the device graph, unlike a single-purpose consumer) and
// launches the receive loop. Call Stop to tear it down.
func (s *Source) Start() error {
	u := udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if mon == nil {
		return fmt.Errorf("failed to create udev netlink monitor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	deviceCh, errCh, err := mon.DeviceChan(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open udev device channel: %w", err)
	}

	go func() {
		for err := range errCh {
			s.logger.Warn("netlink monitor error", "error", err)
		}
	}()

	go func() {
		s.logger.Info("uevent netlink source started")
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("uevent netlink source stopped")
				return
			case dev, ok := <-deviceCh:
				if !ok {
					s.logger.Warn("udev device channel closed")
					return
				}
				s.handle(dev)
			}
		}
	}()

	return nil
}

// Stop cancels the receive loop.
func (s *Source) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// handle translates one udev device notification into a hotplug event.
func (s *Source) handle(dev *udev.Device) {
	if s.OnReceive != nil {
		s.OnReceive(dev.Action())
	}

	kv := map[string]string{
		"ACTION":    dev.Action(),
		"SUBSYSTEM": dev.Subsystem(),
		"DEVPATH":   devpathOf(dev),
		"DEVNAME":   dev.Devnode(),
	}
	for _, key := range []string{
		"SEQNUM", "DEVPATH_OLD", "IFINDEX", "DM_NAME",
		"ID_VENDOR", "ID_MODEL", "ID_REVISION", "ID_SERIAL",
		"ID_FS_USAGE", "ID_FS_TYPE", "ID_FS_VERSION", "ID_FS_UUID",
		"ID_FS_LABEL_ENC",
	} {
		if v := dev.PropertyValue(key); v != "" {
			kv[key] = sanitizeValue(v)
		}
	}
	if kv["SEQNUM"] == "" {
		kv["SEQNUM"] = "0"
	}

	ev, err := EventFromKeyValues(kv)
	if err != nil {
		s.logger.Warn("dropping malformed uevent", "syspath", dev.Syspath(), "error", err)
		return
	}

	s.logger.Debug("uevent", "action", ev.Action, "path", ev.SysfsPath, "subsystem", ev.Subsystem, "seq", ev.Seq)
	s.sink(ev)
}

// devpathOf prefers the kernel's own DEVPATH property, falling back to the
// syspath with its /sys prefix stripped so queue paths stay tree-relative,
// matching what the coldplug walker emits.
func devpathOf(dev *udev.Device) string {
	if dp := dev.PropertyValue("DEVPATH"); dp != "" {
		return dp
	}
	return strings.TrimPrefix(dev.Syspath(), "/sys")
}
