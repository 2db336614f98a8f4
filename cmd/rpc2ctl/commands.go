package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/devicerpc/rpc2ctl/internal/device"
	"github.com/devicerpc/rpc2ctl/internal/monitor"
	"github.com/devicerpc/rpc2ctl/internal/object"
	"github.com/devicerpc/rpc2ctl/internal/protocol"
	"github.com/devicerpc/rpc2ctl/internal/ui/components"
	"github.com/devicerpc/rpc2ctl/internal/ui/console"
)

var commandHelp = [][2]string{
	{"console", "interactive console (default)"},
	{"profiles", "list configured profiles"},
	{"call [#handle] <method> [params]", "send one raw call and print the reply"},
	{"time", "print the device clock"},
	{"keepalive", "refresh the session once"},
	{"monitor [count]", "probe keep-alive every interval"},
	{"product <name>", "print a product definition"},
	{"reboot", "reboot the device"},
	{"ntp <address> [port] [timezone]", "synchronise the clock with an NTP server"},
	{"screen <text>", "show text on the LED screen"},
	{"voice <text>", "speak text through the speaker"},
	{"spacelight [light] [color] [state]", "test a parking space light"},
	{"strobe-open <type> [plate]", "raise the barrier"},
	{"strobe-close", "lower the barrier"},
	{"find <from> <to> [limit]", "list traffic capture records"},
	{"updater <table> <op> [args]", "edit a record table (op: schema, clear, import, insert, remove, update, import-file, export-file, import-state, export-state, import-data or a raw method suffix)"},
}

// Accepted layouts for find time bounds.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// runProfiles lists the configured profiles without contacting a device.
func runProfiles(args CommandLineArgs, out io.Writer) error {
	manager, err := newConfigManager(args)
	if err != nil {
		return err
	}
	names, err := manager.ListProfiles()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", manager.GetConfigPath())
	for _, name := range names {
		p, err := manager.LoadProfile(name)
		if err != nil {
			fmt.Fprintf(out, "  %-16s (%v)\n", name, err)
			continue
		}
		fmt.Fprintf(out, "  %-16s %s@%s\n", name, p.Username, p.Host)
	}
	return nil
}

// runCommand logs in and runs one non-interactive command.
func runCommand(ctx context.Context, deps *Dependencies, name string, args []string, out io.Writer) error {
	handler, ok := commandTable[name]
	if !ok {
		return fmt.Errorf("unknown command %q (see --help)", name)
	}
	if err := login(ctx, deps); err != nil {
		return err
	}
	return handler(ctx, deps, args, out)
}

type commandFunc func(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error

var commandTable map[string]commandFunc

func init() {
	commandTable = map[string]commandFunc{
		"call":         runCall,
		"time":         runTime,
		"keepalive":    runKeepAlive,
		"monitor":      runMonitor,
		"product":      runProduct,
		"reboot":       runReboot,
		"ntp":          runNTP,
		"screen":       runScreen,
		"voice":        runVoice,
		"spacelight":   runSpaceLight,
		"strobe-open":  runStrobeOpen,
		"strobe-close": runStrobeClose,
		"find":         runFind,
		"updater":      runUpdater,
	}
}

func needArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func printStatus(deps *Dependencies, out io.Writer, message string) {
	fmt.Fprintln(out, deps.Renderer.RenderStatus("success", message))
}

func runCall(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error {
	if err := needArgs(args, 1, "call [#handle] <method> [params]"); err != nil {
		return err
	}
	in, err := console.ParseInput(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if in.Meta != "" {
		return fmt.Errorf("%s is only available in the console", in.Meta)
	}
	resp, err := deps.Session.Send(ctx, in.Call())
	if err != nil {
		return err
	}
	rendered, err := deps.Renderer.RenderResponse(resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, rendered)
	if !resp.OK() {
		return fmt.Errorf("%s returned a failure result", in.Method)
	}
	return nil
}

func runTime(ctx context.Context, deps *Dependencies, _ []string, out io.Writer) error {
	now, err := deps.Commands.CurrentTime(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, now)
	return nil
}

func runKeepAlive(ctx context.Context, deps *Dependencies, _ []string, out io.Writer) error {
	if err := deps.Commands.KeepAlive(ctx, device.DefaultKeepAliveTimeout, true); err != nil {
		return err
	}
	printStatus(deps, out, fmt.Sprintf("session kept alive for %ds", device.DefaultKeepAliveTimeout))
	return nil
}

// runMonitor probes until interrupted, or count times when a count is given.
func runMonitor(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error {
	count := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("count must be a positive number, got %q", args[0])
		}
		count = n
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	probes := 0
	mon, err := monitor.New(deps.Commands, monitor.Config{
		Interval:         deps.Profile.KeepAliveInterval,
		Timeout:          device.DefaultKeepAliveTimeout,
		FailureThreshold: monitor.DefaultConfig().FailureThreshold,
		OnSnapshot: func(s monitor.Snapshot) {
			fmt.Fprintln(out, components.KeepAliveBadge(s, true))
			probes++
			if count > 0 && probes >= count {
				cancel()
			}
		},
	})
	if err != nil {
		return err
	}

	err = mon.Run(ctx)
	trends := mon.Trends(time.Hour)
	fmt.Fprintf(out, "%d probes, %.0f%% alive, average %s\n",
		trends.SampleCount, trends.UptimePercentage, trends.AverageResponseTime.Round(time.Millisecond))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runProduct(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error {
	if err := needArgs(args, 1, "product <name>"); err != nil {
		return err
	}
	params, err := deps.Commands.ProductDefinition(ctx, args[0])
	if err != nil {
		return err
	}
	rendered, err := deps.Renderer.RenderJSON(params)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, rendered)
	return nil
}

func runReboot(ctx context.Context, deps *Dependencies, _ []string, out io.Writer) error {
	if err := deps.Commands.Reboot(ctx); err != nil {
		return err
	}
	printStatus(deps, out, "reboot requested")
	return nil
}

func runNTP(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error {
	if err := needArgs(args, 1, "ntp <address> [port] [timezone]"); err != nil {
		return err
	}
	cfg := device.NTPConfig{Address: args[0], Port: 123}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q", args[1])
		}
		cfg.Port = port
	}
	if len(args) > 2 {
		cfg.TimeZone = args[2]
	}
	if err := deps.Commands.NTPSync(ctx, cfg); err != nil {
		return err
	}
	printStatus(deps, out, fmt.Sprintf("clock synchronised with %s:%d", cfg.Address, cfg.Port))
	return nil
}

func runScreen(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error {
	if err := needArgs(args, 1, "screen <text>"); err != nil {
		return err
	}
	if err := deps.Commands.SetScreenDisplay(ctx, strings.Join(args, " ")); err != nil {
		return err
	}
	printStatus(deps, out, "screen updated")
	return nil
}

func runVoice(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error {
	if err := needArgs(args, 1, "voice <text>"); err != nil {
		return err
	}
	if err := deps.Commands.SetVoiceBroadcast(ctx, strings.Join(args, " ")); err != nil {
		return err
	}
	printStatus(deps, out, "broadcast sent")
	return nil
}

func runSpaceLight(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error {
	light := device.DefaultSpaceLight
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid light number %q", args[0])
		}
		light.LightNo = n
	}
	if len(args) > 1 {
		light.Color = args[1]
	}
	if len(args) > 2 {
		state, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid light state %q", args[2])
		}
		light.State = state
	}
	if err := deps.Commands.TestSpaceLight(ctx, light); err != nil {
		return err
	}
	printStatus(deps, out, fmt.Sprintf("light %d set to %s", light.LightNo, light.Color))
	return nil
}

func runStrobeOpen(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error {
	if err := needArgs(args, 1, "strobe-open <type> [plate]"); err != nil {
		return err
	}
	plate := ""
	if len(args) > 1 {
		plate = args[1]
	}
	if err := deps.Commands.OpenStrobe(ctx, args[0], plate); err != nil {
		return err
	}
	printStatus(deps, out, "barrier opened")
	return nil
}

func runStrobeClose(ctx context.Context, deps *Dependencies, _ []string, out io.Writer) error {
	if err := deps.Commands.CloseStrobe(ctx); err != nil {
		return err
	}
	printStatus(deps, out, "barrier closed")
	return nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q (use \"2006-01-02 15:04:05\" or RFC 3339)", s)
}

func runFind(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error {
	if err := needArgs(args, 2, "find <from> <to> [limit]"); err != nil {
		return err
	}
	from, err := parseTime(args[0])
	if err != nil {
		return err
	}
	to, err := parseTime(args[1])
	if err != nil {
		return err
	}
	limit := device.DefaultFindCount
	if len(args) > 2 {
		if limit, err = strconv.Atoi(args[2]); err != nil || limit <= 0 {
			return fmt.Errorf("limit must be a positive number, got %q", args[2])
		}
	}

	result, err := deps.Commands.TrafficRecords(ctx, from, to, limit)
	if err != nil {
		return err
	}
	table, err := deps.Renderer.RenderRecords(result.Records)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, table)
	fmt.Fprintf(out, "%d found\n", result.Found)
	return nil
}

// jsoncArg decodes a JSONC command line argument into v.
func jsoncArg(arg string, v any) error {
	if err := json.Unmarshal(jsonc.ToJSON([]byte(arg)), v); err != nil {
		return fmt.Errorf("invalid JSON argument: %w", err)
	}
	return nil
}

func fileSpec(args []string) (object.FileSpec, error) {
	if len(args) < 1 {
		return object.FileSpec{}, fmt.Errorf("usage: <filename> [format] [code]")
	}
	spec := object.FileSpec{Filename: args[0], Format: "CSV", Code: "UTF-8"}
	if len(args) > 1 {
		spec.Format = args[1]
	}
	if len(args) > 2 {
		spec.Code = args[2]
	}
	return spec, nil
}

func runUpdater(ctx context.Context, deps *Dependencies, args []string, out io.Writer) error {
	if err := needArgs(args, 2, "updater <table> <op> [args]"); err != nil {
		return err
	}
	table, op, rest := args[0], args[1], args[2:]

	updater, err := object.OpenUpdater(ctx, deps.Session, table)
	if err != nil {
		return err
	}

	done := func(err error, what string) error {
		if err != nil {
			return err
		}
		printStatus(deps, out, fmt.Sprintf("%s: %s", table, what))
		return nil
	}

	switch op {
	case "clear":
		return done(updater.Clear(ctx), "cleared")

	case "import":
		if err := needArgs(rest, 1, "updater <table> import <records>"); err != nil {
			return err
		}
		var records []object.Record
		if err := jsoncArg(rest[0], &records); err != nil {
			return err
		}
		return done(updater.Import(ctx, records), fmt.Sprintf("%d records imported", len(records)))

	case "insert":
		if err := needArgs(rest, 1, "updater <table> insert <record>"); err != nil {
			return err
		}
		var record object.Record
		if err := jsoncArg(rest[0], &record); err != nil {
			return err
		}
		return done(updater.Insert(ctx, record), "record inserted")

	case "remove":
		if err := needArgs(rest, 1, "updater <table> remove <recno>"); err != nil {
			return err
		}
		recno, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid record number %q", rest[0])
		}
		return done(updater.Remove(ctx, recno), fmt.Sprintf("record %d removed", recno))

	case "update":
		if err := needArgs(rest, 2, "updater <table> update <recno> <record>"); err != nil {
			return err
		}
		recno, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid record number %q", rest[0])
		}
		var record object.Record
		if err := jsoncArg(rest[1], &record); err != nil {
			return err
		}
		return done(updater.Update(ctx, recno, record), fmt.Sprintf("record %d updated", recno))

	case "import-file", "export-file":
		spec, err := fileSpec(rest)
		if err != nil {
			return err
		}
		if op == "import-file" {
			return done(updater.ImportFile(ctx, spec), "import of "+spec.Filename+" started")
		}
		return done(updater.ExportFile(ctx, spec), "export to "+spec.Filename+" started")

	case "import-state", "export-state":
		state := updater.FileImportState
		if op == "export-state" {
			state = updater.FileExportState
		}
		resp, err := state(ctx)
		if err != nil {
			return err
		}
		var progress struct {
			State    string `json:"state"`
			Progress int    `json:"progress"`
		}
		if err := resp.DecodeParams(&progress); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s\n", components.RenderProgressBar(progress.Progress, 30, "█", "░"), progress.State)
		return nil
	}

	var params []byte
	if len(rest) > 0 {
		params = jsonc.ToJSON([]byte(strings.Join(rest, " ")))
	}
	var resp *protocol.Response
	switch op {
	case "schema":
		resp, err = updater.Schema(ctx)
	case "import-data":
		resp, err = updater.FileImportData(ctx)
	default:
		resp, err = updater.Op(ctx, op, params)
	}
	if err != nil {
		return err
	}
	rendered, err := deps.Renderer.RenderResponse(resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, rendered)
	return nil
}
