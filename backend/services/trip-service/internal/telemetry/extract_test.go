package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"fleetride/backend/services/trip-service/internal/models"
)

func decode(t *testing.T, raw string) *models.VehicleData {
	t.Helper()
	var data models.VehicleData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return &data
}

func TestExtractLocation(t *testing.T) {
	full := decode(t, `{"drive_state":{"latitude":40.7128,"longitude":-74.006,"heading":90,"speed":25,"timestamp":1700000000000}}`)
	loc := ExtractLocation(full)
	if loc == nil {
		t.Fatal("expected location")
	}
	if loc.Latitude != 40.7128 || loc.Longitude != -74.006 || loc.Heading != 90 || loc.Speed != 25 {
		t.Fatalf("unexpected location %+v", loc)
	}
	if !loc.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected timestamp %s", loc.Timestamp)
	}

	parked := ExtractLocation(decode(t, `{"drive_state":{"latitude":1,"longitude":2}}`))
	if parked == nil || parked.Speed != 0 || parked.Heading != 0 || !parked.Timestamp.IsZero() {
		t.Fatalf("missing heading/speed should default to zero: %+v", parked)
	}

	for name, raw := range map[string]string{
		"no drive_state":   `{"state":"online"}`,
		"no longitude":     `{"drive_state":{"latitude":1}}`,
		"null coordinates": `{"drive_state":{"latitude":null,"longitude":null}}`,
	} {
		if got := ExtractLocation(decode(t, raw)); got != nil {
			t.Errorf("%s: expected nil, got %+v", name, got)
		}
	}
	if ExtractLocation(nil) != nil {
		t.Error("nil payload must yield nil")
	}
}

func TestExtractSpeed(t *testing.T) {
	if ExtractSpeed(decode(t, `{}`)) != nil {
		t.Fatal("expected nil speed without drive_state")
	}
	if s := ExtractSpeed(decode(t, `{"drive_state":{}}`)); s == nil || *s != 0 {
		t.Fatalf("expected zero speed, got %v", s)
	}
	if s := ExtractSpeed(decode(t, `{"drive_state":{"speed":31.5}}`)); s == nil || *s != 31.5 {
		t.Fatalf("expected 31.5, got %v", s)
	}
}

func TestExtractBatteryKeepsMissingAsNil(t *testing.T) {
	b := ExtractBattery(decode(t, `{"drive_state":{}}`))
	if b == nil {
		t.Fatal("expected a record even without charge_state")
	}
	if b.Level != nil || b.Range != nil || b.ChargeLimit != nil {
		t.Fatalf("missing values must stay nil, got %+v", b)
	}
	if b.Charging {
		t.Fatal("charging should default to false")
	}

	b = ExtractBattery(decode(t, `{"charge_state":{"battery_level":0,"battery_range":0.5,"charging_state":"Charging","charge_limit_soc":80}}`))
	if b.Level == nil || *b.Level != 0 {
		t.Fatalf("a reported zero level must be kept as zero, got %v", b.Level)
	}
	if !b.Charging || b.ChargeLimit == nil || *b.ChargeLimit != 80 {
		t.Fatalf("unexpected battery %+v", b)
	}

	b = ExtractBattery(decode(t, `{"charge_state":{"charging_state":"Stopped"}}`))
	if b.Charging {
		t.Fatal("Stopped is not charging")
	}
	if ExtractBattery(nil) != nil {
		t.Fatal("nil payload must yield nil")
	}
}

func TestExtractClimate(t *testing.T) {
	c := ExtractClimate(decode(t, `{}`))
	if c == nil || c.InsideTemp != nil || c.OutsideTemp != nil || c.TargetTemp != nil || c.HVACOn {
		t.Fatalf("unexpected climate without climate_state: %+v", c)
	}

	c = ExtractClimate(decode(t, `{"climate_state":{"inside_temp":21.5,"outside_temp":-3,"is_climate_on":true,"driver_temp_setting":22}}`))
	if *c.InsideTemp != 21.5 || *c.OutsideTemp != -3 || !c.HVACOn || *c.TargetTemp != 22 {
		t.Fatalf("unexpected climate %+v", c)
	}
}

func TestSampleFallsBackToClock(t *testing.T) {
	fallback := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Sample(models.Location{Latitude: 1, Longitude: 2, Speed: 10}, fallback)
	if !s.Timestamp.Equal(fallback) {
		t.Fatalf("expected fallback timestamp, got %s", s.Timestamp)
	}
	if s.Speed == nil || *s.Speed != 10 {
		t.Fatalf("unexpected speed %v", s.Speed)
	}

	vendor := fallback.Add(-time.Second)
	s = Sample(models.Location{Timestamp: vendor}, fallback)
	if !s.Timestamp.Equal(vendor) {
		t.Fatalf("vendor timestamp should win, got %s", s.Timestamp)
	}
}
