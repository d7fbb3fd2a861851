package extractor

import (
	"errors"
	"testing"
)

func TestParseBareJSON(t *testing.T) {
	reading, err := Parse(`{"cpu_pct": 42.5, "memory_pct": 61.0, "services_down": ["nginx"], "log_error_count": 3}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reading.CPUPct == nil || *reading.CPUPct != 42.5 {
		t.Fatalf("unexpected cpu reading: %v", reading.CPUPct)
	}
	if len(reading.ServicesDown) != 1 || reading.ServicesDown[0] != "nginx" {
		t.Fatalf("unexpected services: %v", reading.ServicesDown)
	}
	if reading.LogErrorCount != 3 {
		t.Fatalf("unexpected error count: %d", reading.LogErrorCount)
	}
	if len(reading.Raw) == 0 {
		t.Fatal("expected raw payload to be kept")
	}
}

func TestParseFencedJSON(t *testing.T) {
	answer := "```json\n{\"cpu_pct\": 91.2, \"disk_pct\": 88.0}\n```"
	reading, err := Parse(answer)
	if err != nil {
		t.Fatalf("parse fenced: %v", err)
	}
	if reading.CPUPct == nil || *reading.CPUPct != 91.2 {
		t.Fatalf("unexpected cpu reading: %v", reading.CPUPct)
	}

	bare := "```\n{\"disk_pct\": 12.0}\n```"
	reading, err = Parse(bare)
	if err != nil {
		t.Fatalf("parse unlabelled fence: %v", err)
	}
	if reading.DiskPct == nil || *reading.DiskPct != 12.0 {
		t.Fatalf("unexpected disk reading: %v", reading.DiskPct)
	}
}

func TestParseProseWrappedJSON(t *testing.T) {
	answer := `Here is the telemetry I collected from the endpoint:
{"cpu_pct": 15.0, "network_latency_ms": 42.0}
Let me know if you need more detail.`
	reading, err := Parse(answer)
	if err != nil {
		t.Fatalf("parse prose: %v", err)
	}
	if reading.NetworkLatencyMS == nil || *reading.NetworkLatencyMS != 42.0 {
		t.Fatalf("unexpected latency reading: %v", reading.NetworkLatencyMS)
	}
}

func TestParseMissingFieldsStayNil(t *testing.T) {
	reading, err := Parse(`{"cpu_pct": 10.0}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if reading.MemoryPct != nil || reading.DiskPct != nil || reading.PacketLossPct != nil {
		t.Fatalf("expected missing fields to stay nil: %+v", reading)
	}
	if reading.ServicesDown != nil {
		t.Fatalf("expected nil services for absent field, got %v", reading.ServicesDown)
	}
	if reading.LogErrorCount != 0 {
		t.Fatalf("expected zero error count, got %d", reading.LogErrorCount)
	}
}

func TestParseUnparseable(t *testing.T) {
	cases := []struct {
		name   string
		answer string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t"},
		{"prose only", "The endpoint appears healthy, nothing to report."},
		{"broken json", `{"cpu_pct": 42.5`},
		{"top level array", `[{"cpu_pct": 42.5}]`},
		{"null", "null"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.answer); !errors.Is(err, ErrUnparseable) {
				t.Fatalf("expected ErrUnparseable, got %v", err)
			}
		})
	}
}
