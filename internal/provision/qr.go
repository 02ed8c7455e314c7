// Package provision builds and parses the device-onboarding QR
// payload string. Rendering the string into an actual QR image is
// left to front-end tooling; this package owns only the codec.
package provision

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/camerafleet/orchestrator/internal/errs"
)

// qrPrefix and qrSuffix frame every onboarding payload. The camera's
// enrollment parser requires them verbatim.
const (
	qrPrefix = "AAIAAAAAAAAAAAAAAAAAAA==N=11"
	qrSuffix = "U1FS"
)

// Enrollment holds the connection settings a freshly unboxed camera
// needs: where the MQTT broker lives, whether to speak TLS, and the
// optional network bootstrap (static IP or Wi-Fi credentials).
type Enrollment struct {
	MQTTHost   string
	MQTTPort   int
	TLSEnabled bool
	NTPServer  string

	WifiSSID     string
	WifiPassword string
	IPAddress    string
	SubnetMask   string
	Gateway      string
	DNSServer    string
}

// String encodes e into the QR payload. Field order follows the
// console's enrollment screen; optional fields are omitted entirely
// when empty. Note the inverted TLS flag: t=0 means TLS enabled.
func (e Enrollment) String() string {
	tlsFlag := 1
	if e.TLSEnabled {
		tlsFlag = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s;E=%s;H=%d;t=%d", qrPrefix, e.MQTTHost, e.MQTTPort, tlsFlag)
	if e.WifiSSID != "" {
		fmt.Fprintf(&b, ";S=%s", e.WifiSSID)
	}
	if e.WifiPassword != "" {
		fmt.Fprintf(&b, ";P=%s", e.WifiPassword)
	}
	if e.IPAddress != "" {
		fmt.Fprintf(&b, ";I=%s", e.IPAddress)
	}
	if e.SubnetMask != "" {
		fmt.Fprintf(&b, ";K=%s", e.SubnetMask)
	}
	if e.Gateway != "" {
		fmt.Fprintf(&b, ";G=%s", e.Gateway)
	}
	if e.DNSServer != "" {
		fmt.Fprintf(&b, ";D=%s", e.DNSServer)
	}
	fmt.Fprintf(&b, ";T=%s;%s", e.NTPServer, qrSuffix)
	return b.String()
}

// Parse decodes a QR payload back into an Enrollment. It is the
// inverse of String for every payload String can produce.
func Parse(s string) (Enrollment, error) {
	var e Enrollment

	if !strings.HasPrefix(s, qrPrefix+";") {
		return e, errs.External(errs.ExternalDeploymentFailed, "qr payload missing enrollment prefix")
	}
	body := strings.TrimPrefix(s, qrPrefix+";")

	fields := strings.Split(body, ";")
	if len(fields) == 0 || fields[len(fields)-1] != qrSuffix {
		return e, errs.External(errs.ExternalDeploymentFailed, "qr payload missing %q terminator", qrSuffix)
	}
	fields = fields[:len(fields)-1]

	for _, field := range fields {
		key, value, found := strings.Cut(field, "=")
		if !found {
			return e, errs.External(errs.ExternalDeploymentFailed, "malformed qr field %q", field)
		}
		switch key {
		case "E":
			e.MQTTHost = value
		case "H":
			port, err := strconv.Atoi(value)
			if err != nil {
				return e, errs.Wrap(errs.ExternalDeploymentFailed, err, "qr port field %q", value)
			}
			e.MQTTPort = port
		case "t":
			e.TLSEnabled = value == "0"
		case "T":
			e.NTPServer = value
		case "S":
			e.WifiSSID = value
		case "P":
			e.WifiPassword = value
		case "I":
			e.IPAddress = value
		case "K":
			e.SubnetMask = value
		case "G":
			e.Gateway = value
		case "D":
			e.DNSServer = value
		default:
			// Unknown keys are tolerated so newer console builds can
			// extend the payload without breaking older parsers.
		}
	}

	if e.MQTTHost == "" {
		return e, errs.External(errs.ExternalDeploymentFailed, "qr payload missing broker host")
	}
	return e, nil
}
