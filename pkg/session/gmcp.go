package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mudpuppy/mudpuppy/pkg/telnet"
)

// GmcpError reports a malformed GMCP payload.
type GmcpError struct {
	Reason string
}

func (e *GmcpError) Error() string {
	return fmt.Sprintf("gmcp: %s", e.Reason)
}

// EncodeGmcp builds the subnegotiation for a GMCP message:
// "<package> <json>" under option 201, or just "<package>" when data is
// empty. IAC escaping happens at the telnet encode layer.
func EncodeGmcp(pkg, jsonData string) telnet.Subnegotiation {
	payload := pkg
	if jsonData != "" {
		payload = pkg + " " + jsonData
	}
	return telnet.Subnegotiation{Option: telnet.OptGMCP, Data: []byte(payload)}
}

// DecodeGmcp splits an incoming GMCP subnegotiation payload into package
// name and JSON data. A payload without a space is a bare package message.
func DecodeGmcp(data []byte) (pkg, jsonData string, err error) {
	raw := string(data)
	if raw == "" {
		return "", "", &GmcpError{Reason: "empty payload"}
	}
	if i := strings.IndexByte(raw, ' '); i >= 0 {
		return raw[:i], raw[i+1:], nil
	}
	return raw, "", nil
}

// gmcpHello is the Core.Hello identification sent when GMCP is enabled.
func gmcpHello(version string) telnet.Subnegotiation {
	data, _ := json.Marshal(map[string]string{
		"client":  "mudpuppy",
		"version": version,
	})
	return EncodeGmcp("Core.Hello", string(data))
}

// gmcpSupportsAdd announces interest in a package.
func gmcpSupportsAdd(pkg string) telnet.Subnegotiation {
	data, _ := json.Marshal([]string{pkg + " 1"})
	return EncodeGmcp("Core.Supports.Add", string(data))
}

// gmcpSupportsRemove retracts interest in a package.
func gmcpSupportsRemove(pkg string) telnet.Subnegotiation {
	data, _ := json.Marshal([]string{pkg + " 1"})
	return EncodeGmcp("Core.Supports.Remove", string(data))
}
