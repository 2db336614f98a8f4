package main

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devicerpc/rpc2ctl/internal/config"
	"github.com/devicerpc/rpc2ctl/internal/devicetest"
	"github.com/devicerpc/rpc2ctl/internal/interfaces"
)

type harness struct {
	device *devicetest.Device
	url    string
	config string
}

func newHarness(t *testing.T, records ...map[string]any) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("RPC2CTL_PASSWORD", "")
	t.Setenv("RPC2CTL_LOG", "")
	t.Setenv("RPC2CTL_DEBUG", "")

	device := devicetest.New()
	device.Records = records
	srv := httptest.NewServer(device)
	t.Cleanup(srv.Close)

	return &harness{device: device, url: srv.URL, config: filepath.Join(dir, "profiles.yaml")}
}

func (h *harness) run(t *testing.T, password string, argv ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--host", h.url, "--password", password, "--config", h.config, "--plain"}, argv...)
	err := run(full, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run([]string{"--version"}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "rpc2ctl v") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunHelpListsCommands(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := run([]string{"help"}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	for name := range commandTable {
		if !strings.Contains(stdout.String(), name) {
			t.Errorf("usage does not mention %q", name)
		}
	}
}

func TestRunProfiles(t *testing.T) {
	h := newHarness(t)

	out, errOut, err := h.run(t, "", "profiles")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, errOut)
	}
	if !strings.Contains(out, h.config) || !strings.Contains(out, "admin@192.168.1.108") {
		t.Errorf("stdout = %q", out)
	}
	if len(h.device.Requests()) != 0 {
		t.Error("profiles contacted the device")
	}
}

func TestRunTime(t *testing.T) {
	h := newHarness(t)

	out, errOut, err := h.run(t, devicetest.DefaultPassword, "time")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, errOut)
	}
	if strings.TrimSpace(out) != devicetest.DefaultTime {
		t.Errorf("stdout = %q", out)
	}
	if n := len(h.device.RequestsFor("global.login")); n != 2 {
		t.Errorf("login requests = %d, want 2", n)
	}
}

func TestRunCall(t *testing.T) {
	h := newHarness(t)

	out, errOut, err := h.run(t, devicetest.DefaultPassword, "call", "magicBox.getProductDefinition", `{"name": "Traffic", // comment`+"\n"+`}`)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, errOut)
	}
	if !strings.Contains(out, "#3 ok") || !strings.Contains(out, "MaxLanes") {
		t.Errorf("stdout = %q", out)
	}
	req := h.device.RequestsFor("magicBox.getProductDefinition")[0]
	if req.Params()["name"] != "Traffic" {
		t.Errorf("params = %s", req.Raw)
	}
}

func TestRunCallNullParamsOmitted(t *testing.T) {
	h := newHarness(t)

	if _, errOut, err := h.run(t, devicetest.DefaultPassword, "call", "magicBox.getSerialNo", "null"); err != nil {
		t.Fatalf("run: %v\n%s", err, errOut)
	}
	if _, errOut, err := h.run(t, devicetest.DefaultPassword, "updater", "TrafficRedList", "getSchema", "null"); err != nil {
		t.Fatalf("run: %v\n%s", err, errOut)
	}
	for _, method := range []string{"magicBox.getSerialNo", "RecordUpdater.getSchema"} {
		reqs := h.device.RequestsFor(method)
		if len(reqs) != 1 {
			t.Fatalf("%s sent %d times", method, len(reqs))
		}
		if reqs[0].Has("params") {
			t.Errorf("%s carried params: %s", method, reqs[0].Raw)
		}
	}
}

func TestRunCallFalsyResult(t *testing.T) {
	h := newHarness(t)
	h.device.Respond("configManager.setConfig", func(devicetest.Request) devicetest.Reply {
		return devicetest.Reply{"result": false}
	})

	out, _, err := h.run(t, devicetest.DefaultPassword, "call", "configManager.setConfig", `{"name":"NTP"}`)
	if !errors.Is(err, errReported) {
		t.Fatalf("err = %v, want reported failure", err)
	}
	if !strings.Contains(out, "failed") {
		t.Errorf("stdout = %q", out)
	}
}

func TestRunLoginRejected(t *testing.T) {
	h := newHarness(t)

	_, errOut, err := h.run(t, "wrong", "time")
	if !errors.Is(err, errReported) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(errOut, "Login rejected") {
		t.Errorf("stderr = %q", errOut)
	}
	if n := len(h.device.RequestsFor("global.getCurrentTime")); n != 0 {
		t.Errorf("command ran after a rejected login")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	h := newHarness(t)

	_, errOut, err := h.run(t, devicetest.DefaultPassword, "bogus")
	if !errors.Is(err, errReported) || !strings.Contains(errOut, "unknown command") {
		t.Errorf("err = %v, stderr = %q", err, errOut)
	}
	if len(h.device.Requests()) != 0 {
		t.Error("unknown command reached the device")
	}
}

func TestRunDeviceCommands(t *testing.T) {
	tests := []struct {
		args   []string
		method string
		want   string
	}{
		{[]string{"keepalive"}, "global.keepAlive", "kept alive"},
		{[]string{"reboot"}, "magicBox.reboot", "reboot requested"},
		{[]string{"ntp", "pool.ntp.org", "123", "UTC+8"}, "netApp.adjustTimeWithNTP", "pool.ntp.org:123"},
		{[]string{"screen", "Welcome", "home"}, "trafficParking.setScreenDisplay", "screen updated"},
		{[]string{"voice", "Welcome"}, "trafficParking.setVoiceBroadcast", "broadcast sent"},
		{[]string{"spacelight", "2", "Green"}, "trafficParking.testSpaceLight", "light 2 set to Green"},
		{[]string{"strobe-open", "Normal", "ABC123"}, "trafficSnap.openStrobe", "barrier opened"},
		{[]string{"strobe-close"}, "trafficSnap.closeStrobe", "barrier closed"},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			h := newHarness(t)
			out, errOut, err := h.run(t, devicetest.DefaultPassword, tt.args...)
			if err != nil {
				t.Fatalf("run: %v\n%s", err, errOut)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("stdout = %q, want %q", out, tt.want)
			}
			if len(h.device.RequestsFor(tt.method)) != 1 {
				t.Errorf("%s not sent exactly once", tt.method)
			}
		})
	}
}

func TestRunMonitorOnce(t *testing.T) {
	h := newHarness(t)

	out, errOut, err := h.run(t, devicetest.DefaultPassword, "monitor", "1")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, errOut)
	}
	if !strings.Contains(out, "keep-alive: alive") || !strings.Contains(out, "1 probes, 100% alive") {
		t.Errorf("stdout = %q", out)
	}
	req := h.device.RequestsFor("global.keepAlive")[0]
	if req.Params()["timeout"] != float64(300) || req.Params()["active"] != false {
		t.Errorf("keepAlive params = %s", req.Raw)
	}
}

func TestRunScreenJoinsText(t *testing.T) {
	h := newHarness(t)
	if _, errOut, err := h.run(t, devicetest.DefaultPassword, "screen", "Welcome", "home"); err != nil {
		t.Fatalf("run: %v\n%s", err, errOut)
	}
	req := h.device.RequestsFor("trafficParking.setScreenDisplay")[0]
	if req.Params()["Custom"] != "Welcome home" {
		t.Errorf("params = %s", req.Raw)
	}
}

func TestRunFind(t *testing.T) {
	inside := time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local).Unix()
	outside := time.Date(2024, 2, 1, 12, 0, 0, 0, time.Local).Unix()
	h := newHarness(t,
		map[string]any{"Time": float64(inside), "PlateNumber": "A12345"},
		map[string]any{"Time": float64(outside), "PlateNumber": "B67890"},
	)

	out, errOut, err := h.run(t, devicetest.DefaultPassword, "find", "2024-01-01 00:00:00", "2024-01-02 00:00:00", "10")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, errOut)
	}
	if !strings.Contains(out, "A12345") || strings.Contains(out, "B67890") {
		t.Errorf("stdout = %q", out)
	}
	if !strings.Contains(out, "1 found") {
		t.Errorf("stdout = %q", out)
	}
}

func TestRunFindRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	for _, args := range [][]string{
		{"find", "yesterday", "2024-01-02"},
		{"find", "2024-01-01", "2024-01-02", "-5"},
		{"find", "2024-01-01"},
	} {
		if _, _, err := h.run(t, devicetest.DefaultPassword, args...); !errors.Is(err, errReported) {
			t.Errorf("%v: err = %v", args, err)
		}
	}
	if n := len(h.device.RequestsFor("RecordFinder.factory.create")); n != 0 {
		t.Errorf("finder created %d times for invalid input", n)
	}
}

func TestRunUpdater(t *testing.T) {
	h := newHarness(t)
	ok := func(args ...string) string {
		t.Helper()
		out, errOut, err := h.run(t, devicetest.DefaultPassword, append([]string{"updater", "TrafficRedList"}, args...)...)
		if err != nil {
			t.Fatalf("%v: %v\n%s", args, err, errOut)
		}
		return out
	}

	ok("import", `[{"PlateNumber": "A1"}, {"PlateNumber": "A2"},]`)
	ok("insert", `{"PlateNumber": "A3", "MasterOfCar": "Kim"}`)
	ok("update", "0", `{"PlateNumber": "A0"}`)
	ok("remove", "1")

	rows := h.device.Table("TrafficRedList")
	if len(rows) != 2 || rows[0]["PlateNumber"] != "A0" || rows[1]["PlateNumber"] != "A3" {
		t.Fatalf("table = %v", rows)
	}

	if out := ok("schema"); !strings.Contains(out, "MasterOfCar") {
		t.Errorf("schema = %q", out)
	}
	if out := ok("import-state"); !strings.Contains(out, "100%") || !strings.Contains(out, "Finished") {
		t.Errorf("import-state = %q", out)
	}
	ok("import-file", "/tmp/red.csv")
	req := h.device.RequestsFor("RecordUpdater.importFile")[0]
	if req.Params()["filename"] != "/tmp/red.csv" || req.Params()["format"] != "CSV" {
		t.Errorf("importFile params = %s", req.Raw)
	}

	ok("clear")
	if rows := h.device.Table("TrafficRedList"); len(rows) != 0 {
		t.Errorf("table after clear = %v", rows)
	}
}

func TestDetermineProfile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv("RPC2CTL_PASSWORD", "from-env")
	manager, err := config.NewManager(config.WithConfigPath(filepath.Join(dir, "profiles.yaml")))
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.SaveProfile(&interfaces.Profile{
		Name:     "gate",
		Host:     "10.0.0.5",
		Username: "operator",
		Password: "stored",
		Theme:    "github",
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := determineProfile(manager, CommandLineArgs{Host: "10.0.0.6", Profile: "gate"}); err == nil {
		t.Error("host and profile together accepted")
	}

	p, err := determineProfile(manager, CommandLineArgs{Profile: "gate", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if p.Username != "operator" || p.Password != "from-env" || p.Timeout != 5*time.Second {
		t.Errorf("profile = %+v", p)
	}

	p, err = determineProfile(manager, CommandLineArgs{Host: "10.0.0.6", Username: "root", Password: "flag"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "temporary" || p.Host != "10.0.0.6" || p.Username != "root" || p.Password != "flag" {
		t.Errorf("temporary profile = %+v", p)
	}
}
