package provision

import (
	"strings"
	"testing"
)

func TestEnrollment_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   Enrollment
	}{
		{"minimal", Enrollment{MQTTHost: "192.168.1.10", MQTTPort: 1883, NTPServer: "pool.ntp.org"}},
		{"tls", Enrollment{MQTTHost: "broker.local", MQTTPort: 8883, TLSEnabled: true, NTPServer: "pool.ntp.org"}},
		{"wifi", Enrollment{
			MQTTHost: "10.0.0.2", MQTTPort: 1884, NTPServer: "time.local",
			WifiSSID: "lab", WifiPassword: "hunter2",
		}},
		{"static-ip", Enrollment{
			MQTTHost: "10.0.0.2", MQTTPort: 1885, NTPServer: "time.local",
			IPAddress: "10.0.0.50", SubnetMask: "255.255.255.0", Gateway: "10.0.0.1", DNSServer: "10.0.0.1",
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Parse(c.in.String())
			if err != nil {
				t.Fatalf("Parse(%q): %v", c.in.String(), err)
			}
			if got != c.in {
				t.Fatalf("round trip mismatch:\n in  %+v\n out %+v", c.in, got)
			}
		})
	}
}

func TestEnrollment_TLSFlagInverted(t *testing.T) {
	withTLS := Enrollment{MQTTHost: "h", MQTTPort: 1, TLSEnabled: true, NTPServer: "n"}.String()
	withoutTLS := Enrollment{MQTTHost: "h", MQTTPort: 1, NTPServer: "n"}.String()

	if want := ";t=0;"; !strings.Contains(withTLS, want) {
		t.Errorf("TLS-enabled payload %q missing %q", withTLS, want)
	}
	if want := ";t=1;"; !strings.Contains(withoutTLS, want) {
		t.Errorf("TLS-disabled payload %q missing %q", withoutTLS, want)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := []string{
		"",
		"garbage",
		"AAIAAAAAAAAAAAAAAAAAAA==N=11;E=h;H=1;t=1;T=n", // no terminator
		"AAIAAAAAAAAAAAAAAAAAAA==N=11;E=h;H=nope;t=1;T=n;U1FS",
		"AAIAAAAAAAAAAAAAAAAAAA==N=11;H=1;t=1;T=n;U1FS", // no host
	}
	for _, in := range cases {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", in)
		}
	}
}

func TestParse_ToleratesUnknownKeys(t *testing.T) {
	in := "AAIAAAAAAAAAAAAAAAAAAA==N=11;E=h;H=1;t=1;Z=future;T=n;U1FS"
	got, err := Parse(in)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.MQTTHost != "h" || got.NTPServer != "n" {
		t.Fatalf("unexpected enrollment %+v", got)
	}
}
