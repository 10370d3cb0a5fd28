package logs

import (
	"testing"
	"time"
)

func TestBufferSplitsAndParsesLines(t *testing.T) {
	b := New(2)
	ch, cancel := b.Subscribe()
	defer cancel()

	_, _ = b.Write([]byte("plain line\r\n2026-10-19T12:00:00.000Z\tINFO\tcall\tcall/machine.go:180\tCALL [c1]: ca"))
	_, _ = b.Write([]byte("lling bob\n\n2026-10-19T12:00:01.000Z\tWARN\trealtime\trealtime/manager.go:350\tREALTIME: fetch failed\n"))

	got := b.Snapshot()
	if len(got) != 2 {
		t.Fatalf("snapshot = %+v", got)
	}
	if got[0].System != "call" || got[0].Level != "info" || got[0].Msg != "CALL [c1]: calling bob" {
		t.Fatalf("parsed = %+v", got[0])
	}
	if !got[0].TS.Equal(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("ts = %v", got[0].TS)
	}

	if e := <-ch; e.Msg != "plain line" || e.Level != "" {
		t.Fatalf("unparsed line = %+v", e)
	}
	if e := <-ch; e.System != "call" {
		t.Fatalf("tail = %+v", e)
	}
	if e := <-ch; e.Level != "warn" {
		t.Fatalf("tail = %+v", e)
	}
}

func TestFilter(t *testing.T) {
	warn := Entry{Level: "warn", System: "realtime"}
	debug := Entry{Level: "debug", System: "call"}
	cases := []struct {
		f    Filter
		e    Entry
		want bool
	}{
		{Filter{}, debug, true},
		{Filter{Level: "info"}, debug, false},
		{Filter{Level: "info"}, warn, true},
		{Filter{System: "call"}, warn, false},
		{Filter{System: "call", Level: "debug"}, debug, true},
		{Filter{Level: "bogus"}, debug, true},
		{Filter{Level: "error"}, Entry{Msg: "unparsed"}, true},
	}
	for _, tc := range cases {
		if got := tc.f.Match(tc.e); got != tc.want {
			t.Fatalf("%+v.Match(%+v) = %v", tc.f, tc.e, got)
		}
	}
}
