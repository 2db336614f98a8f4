package console

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/devicerpc/rpc2ctl/internal/protocol"
)

// Meta commands handled by the console itself.
const (
	MetaLogin = ":login"
	MetaClear = ":clear"
	MetaHelp  = ":help"
	MetaQuit  = ":quit"
)

// Input is one parsed console line: `[#handle] <method> [params]`.
type Input struct {
	Meta   string
	Handle protocol.Handle
	Method string
	Params json.RawMessage
}

// ParseInput splits a console line. Params may be written as JSONC
// (comments and trailing commas) and are normalised to plain JSON. A handle
// that looks like a JSON number is sent as a number, anything else as a string.
func ParseInput(line string) (Input, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Input{}, fmt.Errorf("empty input")
	}

	if strings.HasPrefix(line, ":") {
		switch meta := strings.Fields(line)[0]; meta {
		case MetaLogin, MetaClear, MetaHelp, MetaQuit:
			return Input{Meta: meta}, nil
		case ":q":
			return Input{Meta: MetaQuit}, nil
		default:
			return Input{}, fmt.Errorf("unknown console command %q", meta)
		}
	}

	var in Input
	if strings.HasPrefix(line, "#") {
		token, rest := cutField(line[1:])
		if token == "" {
			return Input{}, fmt.Errorf("missing handle after #")
		}
		handle, err := parseHandle(token)
		if err != nil {
			return Input{}, err
		}
		in.Handle = handle
		line = rest
	}

	method, rest := cutField(line)
	if method == "" {
		return Input{}, fmt.Errorf("missing method")
	}
	in.Method = method

	if rest != "" {
		params := bytes.TrimSpace(jsonc.ToJSON([]byte(rest)))
		if !json.Valid(params) {
			return Input{}, fmt.Errorf("params are not valid JSON: %s", rest)
		}
		in.Params = params
	}
	return in, nil
}

func cutField(s string) (string, string) {
	s = strings.TrimSpace(s)
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx:])
}

func parseHandle(token string) (protocol.Handle, error) {
	var n json.Number
	if err := json.Unmarshal([]byte(token), &n); err == nil {
		return protocol.Handle{Opaque: protocol.RawOpaque(json.RawMessage(token))}, nil
	}
	return protocol.HandleOf(token)
}

// Call turns the input into a protocol call.
func (in Input) Call() protocol.Call {
	call := protocol.Call{Method: in.Method, Object: in.Handle}
	if len(in.Params) > 0 {
		call.Params = in.Params
	}
	return call
}
