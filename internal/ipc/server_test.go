package ipc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/hal"
	"github.com/smazurov/hald/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGDL(t *testing.T) *store.Store {
	t.Helper()
	gdl := store.New(store.KindGDL, "linux.subsystem")

	mouse := device.New("/org/freedesktop/Hal/devices/usb_device_46d_c012_ABC")
	mouse.SetProperty("linux.sysfs_path", device.String("/devices/pci0000:00/usb2/2-1"))
	mouse.SetProperty("linux.subsystem", device.String("usb_device"))
	mouse.SetProperty("usb_device.vendor_id", device.Uint64(0x46d))
	mouse.AddCapability("input")
	mouse.AddCapability("input.mouse")
	require.NoError(t, gdl.Add(mouse))

	disk := device.New("/org/freedesktop/Hal/devices/storage_serial_XYZ")
	disk.SetProperty("linux.sysfs_path", device.String("/devices/pci0000:00/ata1/sda"))
	disk.SetProperty("linux.subsystem", device.String("block"))
	disk.AddCapability("storage")
	require.NoError(t, gdl.Add(disk))

	return gdl
}

func doJSON(t *testing.T, srv *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(&Options{GDL: testGDL(t)})

	rec := doJSON(t, srv, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status  string `json:"status"`
		Devices int    `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Devices)
}

func TestListDevicesFiltering(t *testing.T) {
	srv := NewServer(&Options{GDL: testGDL(t)})

	rec := doJSON(t, srv, http.MethodGet, "/api/devices", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Devices []DeviceModel `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 2)
	assert.Equal(t, "/org/freedesktop/Hal/devices/storage_serial_XYZ", resp.Devices[0].UDI)

	rec = doJSON(t, srv, http.MethodGet, "/api/devices?key=linux.subsystem&value=usb_device", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp.Devices = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "/org/freedesktop/Hal/devices/usb_device_46d_c012_ABC", resp.Devices[0].UDI)

	rec = doJSON(t, srv, http.MethodGet, "/api/devices?capability=storage", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp.Devices = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 1)
	assert.Contains(t, resp.Devices[0].Capabilities, "storage")
}

func TestGetDeviceByUDI(t *testing.T) {
	srv := NewServer(&Options{GDL: testGDL(t)})

	rec := doJSON(t, srv, http.MethodGet,
		"/api/device?udi=/org/freedesktop/Hal/devices/usb_device_46d_c012_ABC", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var m DeviceModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "usb_device", m.Properties["linux.subsystem"])
	assert.EqualValues(t, 0x46d, m.Properties["usb_device.vendor_id"])

	rec = doJSON(t, srv, http.MethodGet, "/api/device?udi=/org/freedesktop/Hal/devices/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRescanCommand(t *testing.T) {
	var got []string
	srv := NewServer(&Options{
		GDL: testGDL(t),
		Commands: Commands{
			Rescan: func(udi string) error {
				got = append(got, udi)
				return nil
			},
			Reprobe: func(udi string) error {
				return fmt.Errorf("%w: %s", hal.ErrNotFound, udi)
			},
		},
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/device/rescan",
		`{"udi":"/org/freedesktop/Hal/devices/storage_serial_XYZ"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"/org/freedesktop/Hal/devices/storage_serial_XYZ"}, got)

	rec = doJSON(t, srv, http.MethodPost, "/api/device/reprobe",
		`{"udi":"/org/freedesktop/Hal/devices/unknown"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLockLifecycle(t *testing.T) {
	gdl := testGDL(t)
	srv := NewServer(&Options{GDL: gdl})
	const udi = "/org/freedesktop/Hal/devices/storage_serial_XYZ"

	rec := doJSON(t, srv, http.MethodPost, "/api/device/lock",
		`{"udi":"`+udi+`","name":"org.freedesktop.Hal.Device.Storage","owner":":1.42"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	d, ok := gdl.Find(udi)
	require.True(t, ok)
	locks := d.Locks()
	require.Contains(t, locks, "org.freedesktop.Hal.Device.Storage")
	assert.Equal(t, ":1.42", locks["org.freedesktop.Hal.Device.Storage"].Owner)

	// Releasing with the wrong owner conflicts; the lock stays held.
	rec = doJSON(t, srv, http.MethodPost, "/api/device/unlock",
		`{"udi":"`+udi+`","name":"org.freedesktop.Hal.Device.Storage","owner":":9.99"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/device/unlock",
		`{"udi":"`+udi+`","name":"org.freedesktop.Hal.Device.Storage","owner":":1.42"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, d.Locks())
}

func TestBasicAuthGuardsDeviceRoutes(t *testing.T) {
	srv := NewServer(&Options{
		GDL:          testGDL(t),
		AuthUsername: "admin",
		AuthPassword: "secret",
	})

	// Health is explicitly unauthenticated.
	rec := doJSON(t, srv, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/devices", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	creds := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	rec = doJSON(t, srv, http.MethodGet, "/api/devices", "", map[string]string{
		"Authorization": "Basic " + creds,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	bad := base64.StdEncoding.EncodeToString([]byte("admin:wrong"))
	rec = doJSON(t, srv, http.MethodGet, "/api/devices", "", map[string]string{
		"Authorization": "Basic " + bad,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
