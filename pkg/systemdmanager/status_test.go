package systemdmanager

import (
	"errors"
	"testing"
	"time"
)

func TestUnitName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":                "toaster.service",
		"toaster":         "toaster.service",
		" toaster ":       "toaster.service",
		"toaster.service": "toaster.service",
		"toaster.socket":  "toaster.socket",
		"my.app":          "my.app.service",
	}
	for in, want := range tests {
		if got := UnitName(in); got != want {
			t.Fatalf("UnitName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusFromProps(t *testing.T) {
	t.Parallel()
	since := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	props := map[string]interface{}{
		"LoadState":            "loaded",
		"ActiveState":          "active",
		"SubState":             "running",
		"Description":          "toaster daemon",
		"MainPID":              uint32(42),
		"MemoryCurrent":        uint64(2048),
		"ActiveEnterTimestamp": uint64(since.Unix()) * 1_000_000,
	}
	st := statusFromProps("toaster.service", props)
	if !st.Running() || !st.Found() || st.MainPID != 42 || st.Memory != 2048 {
		t.Fatalf("status = %+v", st)
	}
	if !st.ActiveSince.Equal(since) {
		t.Fatalf("ActiveSince = %v", st.ActiveSince)
	}
	if got := st.Uptime(since.Add(time.Hour)); got != time.Hour {
		t.Fatalf("Uptime = %v", got)
	}

	// systemd reports an unset memory counter as max uint64
	props["MemoryCurrent"] = ^uint64(0)
	if st := statusFromProps("toaster.service", props); st.Memory != 0 {
		t.Fatalf("Memory = %d", st.Memory)
	}

	missing := statusFromProps("nope.service", map[string]interface{}{"LoadState": "not-found"})
	if missing.Found() || missing.Running() || missing.Uptime(time.Now()) != 0 {
		t.Fatalf("missing = %+v", missing)
	}
}

func TestNoSuchUnit(t *testing.T) {
	t.Parallel()
	if !isNoSuchUnitErr(errors.New("org.freedesktop.systemd1.NoSuchUnit: Unit x.service not loaded")) {
		t.Fatal("NoSuchUnit not detected")
	}
	if isNoSuchUnitErr(nil) || isNoSuchUnitErr(errors.New("access denied")) {
		t.Fatal("false positive")
	}
}

func TestFormatActionResult(t *testing.T) {
	t.Parallel()
	if got := FormatActionResult("toaster.service", "restart", nil); got != "restart toaster.service: ok" {
		t.Fatalf("got %q", got)
	}
	if got := FormatActionResult("toaster.service", "stop", errors.New("denied")); got != "stop toaster.service: error: denied" {
		t.Fatalf("got %q", got)
	}
}
