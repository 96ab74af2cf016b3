// Package ipc exposes the daemon's synchronous query surface over HTTP
// (huma): GDL queries, rescan/reprobe commands, and lock advertisement.
// Fire-and-forget lifecycle signals ride NATS instead (internal/nats); the
// hotplug core itself never sees either transport, only the hook layer.
package ipc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/hald/internal/hal"
	"github.com/smazurov/hald/internal/store"
)

// Commands are the daemon-side implementations of the rescan and reprobe
// operations the query API consumes.
type Commands struct {
	Rescan  func(udi string) error
	Reprobe func(udi string) error
}

// Options configures the query API server.
type Options struct {
	AuthUsername string
	AuthPassword string

	GDL      *store.Store
	Commands Commands

	// MetricsHandler, when set, is mounted at /metrics outside the huma API.
	MetricsHandler http.Handler

	Logger *slog.Logger
}

// Server is the HTTP query API over the GDL.
type Server struct {
	api     huma.API
	mux     *http.ServeMux
	httpSrv *http.Server
	opts    *Options
	logger  *slog.Logger
}

// NewServer builds the server and registers all routes.
func NewServer(opts *Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	config := huma.DefaultConfig("hald API", "1.0.0")
	config.Info.Description = "Hardware abstraction daemon device graph queries"
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {Type: "http", Scheme: "basic"},
	}
	api := humago.New(mux, config)

	s := &Server{
		api:    api,
		mux:    mux,
		opts:   opts,
		logger: logger.With("component", "ipc"),
	}

	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(s.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}
	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}

	s.registerRoutes()
	return s
}

// basicAuthMiddleware guards every operation that declares a security
// requirement; operations with empty Security (health) pass through.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		const prefix = "Basic "
		authHeader := ctx.Header("Authorization")
		if !strings.HasPrefix(authHeader, prefix) {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="hald API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Authentication required")
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(authHeader[len(prefix):])
		if err != nil {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="hald API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials format", err)
			return
		}
		parts := strings.SplitN(string(decoded), ":", 2)
		if len(parts) != 2 || parts[0] != username || parts[1] != password {
			ctx.SetHeader("WWW-Authenticate", `Basic realm="hald API"`)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		next(ctx)
	}
}

var secured = []map[string][]string{{"basicAuth": {}}}

// HealthResponse is the health-check payload.
type HealthResponse struct {
	Body struct {
		Status  string `json:"status" example:"ok"`
		Devices int    `json:"devices" doc:"Number of published devices"`
	}
}

// DeviceListInput filters the device listing.
type DeviceListInput struct {
	Key        string `query:"key" example:"linux.subsystem" doc:"Optional property key to filter on"`
	Value      string `query:"value" example:"usb_device" doc:"Property value the key must match"`
	Capability string `query:"capability" example:"volume" doc:"Optional capability tag to filter on"`
}

// DeviceListResponse is a device listing payload.
type DeviceListResponse struct {
	Body struct {
		Devices []DeviceModel `json:"devices"`
	}
}

// DeviceInput addresses one device by UDI. UDIs are path-shaped and carry
// '/', so they travel as a query parameter rather than a path segment.
type DeviceInput struct {
	UDI string `query:"udi" example:"/org/freedesktop/Hal/devices/computer" doc:"Unique device identifier"`
}

// DeviceResponse is a single-device payload.
type DeviceResponse struct {
	Body DeviceModel
}

// CommandBody addresses a device for rescan/reprobe.
type CommandBody struct {
	UDI string `json:"udi" example:"/org/freedesktop/Hal/devices/computer" doc:"Unique device identifier"`
}

// CommandInput wraps CommandBody.
type CommandInput struct {
	Body CommandBody
}

// CommandResponse acknowledges a rescan/reprobe command.
type CommandResponse struct {
	Body struct {
		UDI      string `json:"udi"`
		Accepted bool   `json:"accepted"`
	}
}

// LockBody names a lock operation's target.
type LockBody struct {
	UDI   string `json:"udi" doc:"Device to lock"`
	Name  string `json:"name" example:"org.freedesktop.Hal.Device.Storage" doc:"Lock name"`
	Owner string `json:"owner" example:":1.42" doc:"Owning caller identifier"`
}

// LockInput wraps LockBody.
type LockInput struct {
	Body LockBody
}

// LockResponse reports the lock operation outcome.
type LockResponse struct {
	Body struct {
		UDI      string `json:"udi"`
		Name     string `json:"name"`
		Acquired bool   `json:"acquired"`
	}
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*HealthResponse, error) {
		resp := &HealthResponse{}
		resp.Body.Status = "ok"
		resp.Body.Devices = s.opts.GDL.Len()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List published devices",
		Description: "Lists the global device list, optionally filtered by a property match or a capability tag.",
		Tags:        []string{"devices"},
		Security:    secured,
	}, func(ctx context.Context, input *DeviceListInput) (*DeviceListResponse, error) {
		resp := &DeviceListResponse{}
		resp.Body.Devices = []DeviceModel{}

		devices := s.opts.GDL.All()
		if input.Key != "" {
			devices = s.opts.GDL.MatchMany(input.Key, input.Value)
		}
		for _, d := range devices {
			if input.Capability != "" && !d.HasCapability(input.Capability) {
				continue
			}
			resp.Body.Devices = append(resp.Body.Devices, ModelFromDevice(d))
		}
		sortModels(resp.Body.Devices)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-device",
		Method:      http.MethodGet,
		Path:        "/api/device",
		Summary:     "Get one device by UDI",
		Tags:        []string{"devices"},
		Security:    secured,
	}, func(ctx context.Context, input *DeviceInput) (*DeviceResponse, error) {
		d, ok := s.opts.GDL.Find(input.UDI)
		if !ok {
			return nil, huma.Error404NotFound(fmt.Sprintf("no device with udi %q", input.UDI))
		}
		return &DeviceResponse{Body: ModelFromDevice(d)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "rescan-device",
		Method:      http.MethodPost,
		Path:        "/api/device/rescan",
		Summary:     "Re-read a device's sysfs state",
		Tags:        []string{"commands"},
		Security:    secured,
	}, s.commandHandler("rescan", func() func(string) error { return s.opts.Commands.Rescan }))

	huma.Register(s.api, huma.Operation{
		OperationID: "reprobe-device",
		Method:      http.MethodPost,
		Path:        "/api/device/reprobe",
		Summary:     "Re-run the full probe pipeline for a device",
		Tags:        []string{"commands"},
		Security:    secured,
	}, s.commandHandler("reprobe", func() func(string) error { return s.opts.Commands.Reprobe }))

	huma.Register(s.api, huma.Operation{
		OperationID: "acquire-lock",
		Method:      http.MethodPost,
		Path:        "/api/device/lock",
		Summary:     "Record a named lock on a device",
		Description: "Locks advertise state only; the daemon does not arbitrate access.",
		Tags:        []string{"locks"},
		Security:    secured,
	}, func(ctx context.Context, input *LockInput) (*LockResponse, error) {
		d, ok := s.opts.GDL.Find(input.Body.UDI)
		if !ok {
			return nil, huma.Error404NotFound(fmt.Sprintf("no device with udi %q", input.Body.UDI))
		}
		d.AcquireLock(input.Body.Name, input.Body.Owner)
		resp := &LockResponse{}
		resp.Body.UDI = input.Body.UDI
		resp.Body.Name = input.Body.Name
		resp.Body.Acquired = true
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "release-lock",
		Method:      http.MethodPost,
		Path:        "/api/device/unlock",
		Summary:     "Release a named lock on a device",
		Tags:        []string{"locks"},
		Security:    secured,
	}, func(ctx context.Context, input *LockInput) (*LockResponse, error) {
		d, ok := s.opts.GDL.Find(input.Body.UDI)
		if !ok {
			return nil, huma.Error404NotFound(fmt.Sprintf("no device with udi %q", input.Body.UDI))
		}
		released := d.ReleaseLock(input.Body.Name, input.Body.Owner)
		if !released {
			return nil, huma.Error409Conflict(fmt.Sprintf("lock %q not held by %q", input.Body.Name, input.Body.Owner))
		}
		resp := &LockResponse{}
		resp.Body.UDI = input.Body.UDI
		resp.Body.Name = input.Body.Name
		return resp, nil
	})
}

// commandHandler adapts a Commands func into a huma operation handler. The
// command func is fetched lazily so tests can install it after NewServer.
func (s *Server) commandHandler(name string, get func() func(string) error) func(context.Context, *CommandInput) (*CommandResponse, error) {
	return func(ctx context.Context, input *CommandInput) (*CommandResponse, error) {
		fn := get()
		if fn == nil {
			return nil, huma.Error501NotImplemented(fmt.Sprintf("%s not available", name))
		}
		if err := fn(input.Body.UDI); err != nil {
			if errors.Is(err, hal.ErrNotFound) {
				return nil, huma.Error404NotFound(err.Error())
			}
			return nil, huma.Error500InternalServerError(err.Error())
		}
		resp := &CommandResponse{}
		resp.Body.UDI = input.Body.UDI
		resp.Body.Accepted = true
		return resp, nil
	}
}

// Mux returns the underlying ServeMux, used by tests to drive requests
// without a listener.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Start serves the API on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	s.logger.Info("query API listening", "addr", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
