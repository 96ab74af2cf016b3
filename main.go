package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/hald/cmd"
	"github.com/smazurov/hald/internal/config"
	"github.com/smazurov/hald/internal/daemon"
	"github.com/smazurov/hald/internal/logging"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"/etc/hald/config.toml"`

	// Server settings
	Port string `help:"Query API listen address" short:"p" default:":8088" toml:"server.port" env:"SERVER_PORT"`

	// Core settings
	SysfsRoot string `help:"Sysfs root directory" default:"/sys" toml:"core.sysfs_root" env:"CORE_SYSFS_ROOT"`
	ProcRoot  string `help:"Proc root directory" default:"/proc" toml:"core.proc_root" env:"CORE_PROC_ROOT"`
	RuleDir   string `help:"FDI rule directory prefix" default:"/usr/share/hal/fdi" toml:"core.rule_dir" env:"CORE_RULE_DIR"`
	Coldplug  bool   `help:"Run the startup sysfs enumeration" default:"true" toml:"core.coldplug" env:"CORE_COLDPLUG"`
	Hotplug   bool   `help:"Attach the uevent netlink source" default:"true" toml:"core.hotplug" env:"CORE_HOTPLUG"`

	// Helper settings
	HelperTimeout string `help:"Probe helper timeout" default:"10s" toml:"helpers.timeout" env:"HELPERS_TIMEOUT"`
	SlowProbers   string `help:"Comma-separated probers granted the slow 60s timeout" default:"hald-probe-storage,hald-probe-volume" toml:"helpers.slow_probers" env:"HELPERS_SLOW_PROBERS"`

	// Mount monitor settings
	MountStateFile string `help:"Daemon-performed mount state file" default:"/var/run/hald/mtab.hald" toml:"mounts.state_file" env:"MOUNTS_STATE_FILE"`
	MountIgnoreFS  string `help:"Comma-separated filesystem types skipped during mount-table matching" default:"nfs,nfs4,cifs,smbfs,ncpfs,autofs" toml:"mounts.ignore_fstypes" env:"MOUNTS_IGNORE_FSTYPES"`
	CleanupHelper  string `help:"Helper run when a daemon-performed mount disappears" default:"hald-cleanup-mountpoint" toml:"mounts.cleanup_helper" env:"MOUNTS_CLEANUP_HELPER"`

	// Firmware settings
	ACPIPoll string `help:"ACPI poll cadence" default:"30s" toml:"firmware.acpi_poll" env:"FIRMWARE_ACPI_POLL"`
	APMPoll  string `help:"APM poll cadence" default:"2s" toml:"firmware.apm_poll" env:"FIRMWARE_APM_POLL"`
	PMUPoll  string `help:"PMU poll cadence" default:"2s" toml:"firmware.pmu_poll" env:"FIRMWARE_PMU_POLL"`

	// Auth settings
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingPipeline string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingQueue    string `help:"Hotplug queue logging level" default:"info" toml:"logging.queue" env:"LOGGING_QUEUE"`
	LoggingFirmware string `help:"Firmware backend logging level" default:"info" toml:"logging.firmware" env:"LOGGING_FIRMWARE"`
	LoggingMount    string `help:"Mount monitor logging level" default:"info" toml:"logging.mount" env:"LOGGING_MOUNT"`
	LoggingRules    string `help:"Rule engine logging level" default:"info" toml:"logging.rules" env:"LOGGING_RULES"`
	LoggingUevent   string `help:"Uevent source logging level" default:"info" toml:"logging.uevent" env:"LOGGING_UEVENT"`
	LoggingIPC      string `help:"Query API logging level" default:"info" toml:"logging.ipc" env:"LOGGING_IPC"`

	// NATS settings
	NATSEnabled bool `help:"Enable embedded NATS server" default:"true" toml:"nats.enabled" env:"NATS_ENABLED"`
	NATSPort    int  `help:"NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

func main() {
	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"pipeline": opts.LoggingPipeline,
				"queue":    opts.LoggingQueue,
				"firmware": opts.LoggingFirmware,
				"mount":    opts.LoggingMount,
				"rules":    opts.LoggingRules,
				"uevent":   opts.LoggingUevent,
				"ipc":      opts.LoggingIPC,
			},
		})

		logger := logging.GetLogger("main")

		daemonOpts := daemon.DefaultOptions()
		daemonOpts.SysfsRoot = opts.SysfsRoot
		daemonOpts.ProcRoot = opts.ProcRoot
		daemonOpts.RuleDir = opts.RuleDir
		daemonOpts.Coldplug = opts.Coldplug
		daemonOpts.UeventSource = opts.Hotplug
		daemonOpts.HelperTimeout = parseDurationOr(opts.HelperTimeout, 10*time.Second)
		daemonOpts.SlowProbers = splitList(opts.SlowProbers)
		daemonOpts.MountStateFile = opts.MountStateFile
		daemonOpts.MountIgnoreFSTypes = splitList(opts.MountIgnoreFS)
		daemonOpts.CleanupHelper = opts.CleanupHelper
		daemonOpts.ACPIPollInterval = parseDurationOr(opts.ACPIPoll, 30*time.Second)
		daemonOpts.APMPollInterval = parseDurationOr(opts.APMPoll, 2*time.Second)
		daemonOpts.PMUPollInterval = parseDurationOr(opts.PMUPoll, 2*time.Second)
		daemonOpts.HTTPAddr = opts.Port
		daemonOpts.AuthUsername = opts.AuthUsername
		daemonOpts.AuthPassword = opts.AuthPassword
		daemonOpts.NATSEnabled = opts.NATSEnabled
		daemonOpts.NATSPort = opts.NATSPort

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			d := daemon.New(daemonOpts)
			if runErr := d.Run(ctx); runErr != nil {
				logger.Error("daemon failed", "error", runErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down daemon")
			cancel()
		})
	})

	// Add operator subcommands
	cli.Root().Use = "hald"
	cli.Root().AddCommand(cmd.CreateQueryCmd())
	cli.Root().AddCommand(cmd.CreateListCmd())
	cli.Root().AddCommand(cmd.CreateValidateRulesCmd())

	// Run the CLI
	cli.Run()
}

// splitList parses a comma-separated flag value into its trimmed elements.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
