// Package devicetest provides an in-process fake RPC2 device. It speaks the
// challenge login, hands out object handles, keeps record finder and record
// updater state and records every envelope it receives so tests can assert on
// the wire traffic.
package devicetest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/devicerpc/rpc2ctl/internal/logging"
)

// Default credentials and challenge of a fresh Device.
const (
	DefaultUsername = "admin"
	DefaultPassword = "admin123"
	DefaultRealm    = "Login to 2M0C8F5PAG00001"
	DefaultRandom   = "123456789"
	DefaultTime     = "2019-05-27 10:00:00"
)

// Device error codes as reported by real firmware.
const (
	codeLoginChallenge = 268632079
	codeBadPassword    = 268632085
	codeInvalidSession = 287637505
	codeInvalidObject  = 268959743
	codeInvalidRecord  = 268959744
)

// Request is one envelope received by the device.
type Request struct {
	Path     string
	Envelope map[string]any
	Raw      []byte
}

// Method returns the method member.
func (r Request) Method() string {
	s, _ := r.Envelope["method"].(string)
	return s
}

// ID returns the id member.
func (r Request) ID() int64 {
	f, _ := r.Envelope["id"].(float64)
	return int64(f)
}

// Params returns the params member as a map, nil when absent.
func (r Request) Params() map[string]any {
	m, _ := r.Envelope["params"].(map[string]any)
	return m
}

// Has reports whether the envelope carries key.
func (r Request) Has(key string) bool {
	_, ok := r.Envelope[key]
	return ok
}

// Reply is a response envelope without id; the device fills it in.
type Reply map[string]any

// HandlerFunc overrides the device behaviour for one method.
type HandlerFunc func(req Request) Reply

type object struct {
	namespace string
	name      string
	condition map[string]any
}

// Device is an http.Handler emulating one RPC2 device.
type Device struct {
	Username string
	Password string
	Realm    string
	Random   string
	Time     string

	// RequireSession rejects non-login calls that do not carry the current token.
	RequireSession bool
	// FirstHandle is the value of the first object handle handed out.
	FirstHandle int

	// Records is the data set searched by RecordFinder.
	Records []map[string]any

	mu           sync.Mutex
	requests     []Request
	handlers     map[string]HandlerFunc
	token        string
	loggedIn     bool
	sessionCount int
	nextHandle   int
	objects      map[int]*object
	tables       map[string][]map[string]any
	logger       *logging.Logger
}

// New returns a device with default credentials.
func New() *Device {
	return &Device{
		Username:       DefaultUsername,
		Password:       DefaultPassword,
		Realm:          DefaultRealm,
		Random:         DefaultRandom,
		Time:           DefaultTime,
		RequireSession: true,
		FirstHandle:    7,
		handlers:       make(map[string]HandlerFunc),
		objects:        make(map[int]*object),
		tables:         make(map[string][]map[string]any),
		logger:         logging.Discard(),
	}
}

// SetLogger routes request logs to l.
func (d *Device) SetLogger(l *logging.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l != nil {
		d.logger = l
	}
}

// SetRequireSession toggles session checking while the device is serving.
func (d *Device) SetRequireSession(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RequireSession = on
}

// Respond installs a canned handler for method.
func (d *Device) Respond(method string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = fn
}

// Requests returns a copy of every envelope received so far.
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Request, len(d.requests))
	copy(out, d.requests)
	return out
}

// RequestsFor filters Requests by method.
func (d *Device) RequestsFor(method string) []Request {
	var out []Request
	for _, r := range d.Requests() {
		if r.Method() == method {
			out = append(out, r)
		}
	}
	return out
}

// Table returns the rows held by a RecordUpdater table.
func (d *Device) Table(name string) []map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows := d.tables[name]
	out := make([]map[string]any, len(rows))
	copy(out, rows)
	return out
}

// Token returns the session token currently issued.
func (d *Device) Token() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.token
}

// ServeHTTP implements http.Handler
func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/RPC2" && r.URL.Path != "/RPC2_Login" {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var env map[string]any
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, fmt.Sprintf("JSON decode error: %v", err), http.StatusBadRequest)
		return
	}

	req := Request{Path: r.URL.Path, Envelope: env, Raw: body}
	reply := d.dispatch(req)
	reply["id"] = env["id"]

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}

func (d *Device) dispatch(req Request) Reply {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req)
	method := req.Method()
	d.logger.Debug("Device request", "path", req.Path, "method", method, "id", req.ID())

	if fn, ok := d.handlers[method]; ok {
		return fn(req)
	}

	if method == "global.login" {
		return d.login(req)
	}
	if req.Path == "/RPC2_Login" {
		return failure(codeInvalidSession, "Only global.login is served on RPC2_Login")
	}
	if d.RequireSession && !d.validSession(req) {
		return failure(codeInvalidSession, "Invalid session in request data!")
	}

	switch {
	case strings.HasSuffix(method, ".factory.instance"), strings.HasSuffix(method, ".factory.create"):
		return d.instance(req)
	case strings.HasPrefix(method, "RecordFinder."):
		return d.finder(req)
	case strings.HasPrefix(method, "RecordUpdater."):
		return d.updater(req)
	case method == "global.keepAlive":
		timeout := req.Params()["timeout"]
		return d.ok(true, map[string]any{"timeout": timeout})
	case method == "global.getCurrentTime":
		return d.ok(true, map[string]any{"time": d.Time})
	case method == "magicBox.getProductDefinition":
		return d.ok(true, map[string]any{"definition": map[string]any{"Traffic": map[string]any{"MaxLanes": 4}}})
	case method == "magicBox.reboot", method == "netApp.adjustTimeWithNTP":
		if _, ok := d.scoped(req); !ok {
			return failure(codeInvalidObject, "Invalid object")
		}
		return d.ok(true, nil)
	default:
		return d.ok(true, nil)
	}
}

func (d *Device) login(req Request) Reply {
	params := req.Params()
	user, _ := params["userName"].(string)
	password, _ := params["password"].(string)

	if password == "" {
		d.sessionCount++
		d.token = fmt.Sprintf("%08x", 0x51a3c0de+d.sessionCount)
		d.loggedIn = false
		reply := failure(codeLoginChallenge, "Component error: login challenge!")
		reply["session"] = d.token
		reply["params"] = map[string]any{
			"realm":      d.Realm,
			"random":     d.Random,
			"encryption": "Default",
		}
		return reply
	}

	session, _ := req.Envelope["session"].(string)
	if user != d.Username || session != d.token || password != ExpectedPassword(d.Username, d.Password, d.Realm, d.Random) {
		d.loggedIn = false
		reply := failure(codeBadPassword, "Component error: User or password not valid!")
		reply["session"] = d.token
		return reply
	}

	d.loggedIn = true
	return Reply{
		"result":  true,
		"session": d.token,
		"params":  map[string]any{"keepAliveInterval": 60},
	}
}

func (d *Device) validSession(req Request) bool {
	session, _ := req.Envelope["session"].(string)
	return d.loggedIn && session != "" && session == d.token
}

func (d *Device) instance(req Request) Reply {
	method := req.Method()
	namespace := method[:strings.Index(method, ".factory.")]
	name, _ := req.Params()["name"].(string)

	if d.nextHandle == 0 {
		d.nextHandle = d.FirstHandle
	}
	handle := d.nextHandle
	d.nextHandle++
	d.objects[handle] = &object{namespace: namespace, name: name}
	return d.ok(handle, nil)
}

func (d *Device) scoped(req Request) (*object, bool) {
	f, ok := req.Envelope["object"].(float64)
	if !ok {
		return nil, false
	}
	obj, ok := d.objects[int(f)]
	return obj, ok
}

func (d *Device) finder(req Request) Reply {
	obj, ok := d.scoped(req)
	if !ok || obj.namespace != "RecordFinder" {
		return failure(codeInvalidObject, "Invalid object")
	}
	params := req.Params()

	switch strings.TrimPrefix(req.Method(), "RecordFinder.") {
	case "startFind":
		cond, _ := params["condition"].(map[string]any)
		obj.condition = cond
		return d.ok(true, nil)
	case "doFind":
		count := len(d.Records)
		if c, ok := params["count"].(float64); ok && int(c) < count {
			count = int(c)
		}
		var found []map[string]any
		for _, rec := range d.Records {
			if len(found) >= count {
				break
			}
			if matches(obj.condition, rec) {
				found = append(found, rec)
			}
		}
		return d.ok(true, map[string]any{"found": len(found), "records": found})
	default:
		return d.ok(true, nil)
	}
}

// matches applies a {"Time": ["<>", from, to]} style condition.
func matches(condition map[string]any, rec map[string]any) bool {
	for key, raw := range condition {
		clause, ok := raw.([]any)
		if !ok || len(clause) != 3 || clause[0] != "<>" {
			continue
		}
		lo, _ := clause[1].(float64)
		hi, _ := clause[2].(float64)
		v, _ := rec[key].(float64)
		if v < lo || v > hi {
			return false
		}
	}
	return true
}

func (d *Device) updater(req Request) Reply {
	obj, ok := d.scoped(req)
	if !ok || obj.namespace != "RecordUpdater" {
		return failure(codeInvalidObject, "Invalid object")
	}
	params := req.Params()
	rows := d.tables[obj.name]

	switch strings.TrimPrefix(req.Method(), "RecordUpdater.") {
	case "import":
		records, _ := params["records"].([]any)
		for _, r := range records {
			if m, ok := r.(map[string]any); ok {
				rows = append(rows, m)
			}
		}
		d.tables[obj.name] = rows
		return d.ok(true, nil)
	case "insert":
		rec, _ := params["record"].(map[string]any)
		d.tables[obj.name] = append(rows, rec)
		return d.ok(true, map[string]any{"recno": len(rows)})
	case "remove", "update":
		n, _ := params["recno"].(float64)
		idx := int(n)
		if idx < 0 || idx >= len(rows) {
			return failure(codeInvalidRecord, "Invalid record number")
		}
		if strings.HasSuffix(req.Method(), "remove") {
			d.tables[obj.name] = append(rows[:idx:idx], rows[idx+1:]...)
		} else {
			rec, _ := params["record"].(map[string]any)
			rows[idx] = rec
		}
		return d.ok(true, nil)
	case "clear":
		d.tables[obj.name] = nil
		return d.ok(true, nil)
	case "getSchema":
		return d.ok(true, map[string]any{"schema": schemaOf(rows)})
	case "getFileImportState", "getFileExportState":
		return d.ok(true, map[string]any{"state": "Finished", "progress": 100})
	case "getFileImportData":
		return d.ok(true, map[string]any{"records": rows})
	case "importFile", "exportFile", "exportAsyncFile":
		return d.ok(true, nil)
	default:
		return failure(codeInvalidObject, "Unknown method")
	}
}

func schemaOf(rows []map[string]any) []string {
	seen := map[string]bool{}
	var fields []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	sort.Strings(fields)
	return fields
}

func (d *Device) ok(result any, params map[string]any) Reply {
	reply := Reply{"result": result, "session": d.token}
	if params != nil {
		reply["params"] = params
	}
	return reply
}

func failure(code int, message string) Reply {
	return Reply{
		"result": false,
		"error":  map[string]any{"code": code, "message": message},
	}
}

// ExpectedPassword is the hashed password the device accepts on the second
// login round trip.
func ExpectedPassword(username, password, realm, random string) string {
	h1 := md5hex(username + ":" + realm + ":" + password)
	return md5hex(username + ":" + random + ":" + h1)
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
