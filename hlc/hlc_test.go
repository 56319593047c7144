package hlc

import (
	"testing"
	"time"

	"github.com/lattice-iot/meridian/errs"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Value{
		{TimestampMS: 0, Counter: 0, NodeID: "n"},
		{TimestampMS: 1700000000123, Counter: 42, NodeID: "edge-7"},
		{TimestampMS: 999999999999999, Counter: 99999, NodeID: "x"},
	}
	for _, v := range cases {
		got, err := Decode("__ts", v.Encode())
		if err != nil {
			t.Fatalf("Decode(%q) returned error: %v", v.Encode(), err)
		}
		if got != v {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, v)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode("__ts", "foo:bar:node")
	if err == nil {
		t.Fatal("expected error decoding malformed value")
	}
	kind, ok := errs.Of(err)
	if !ok || kind != errs.HeaderInvalid {
		t.Fatalf("Of(err) = %v, %v; want HeaderInvalid, true", kind, ok)
	}
	var e *errs.Error
	if ae, ok := err.(*errs.Error); ok {
		e = ae
	}
	if e == nil || e.HeaderName != "__ts" || e.HeaderValue != "foo:bar:node" {
		t.Fatalf("unexpected error fields: %+v", e)
	}
}

func TestUpdateMonotonicity(t *testing.T) {
	base := time.UnixMilli(1700000000000)
	clock := New("a", withNowFunc(fixedNow(base)))
	before := clock.Now()

	peer := Value{TimestampMS: before.TimestampMS, Counter: before.Counter + 3, NodeID: "b"}
	updated, err := clock.Update(peer)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Compare(before) < 0 {
		t.Fatalf("updated clock %+v compares less than prior self %+v", updated, before)
	}
	if updated.Compare(peer) < 0 {
		t.Fatalf("updated clock %+v compares less than peer %+v", updated, peer)
	}
}

func TestUpdateRejectsExcessiveDrift(t *testing.T) {
	base := time.UnixMilli(1700000000000)
	clock := New("a", withNowFunc(fixedNow(base)), WithMaxDrift(time.Second))

	farFuture := Value{TimestampMS: base.UnixMilli() + int64(time.Hour/time.Millisecond), Counter: 0, NodeID: "b"}
	_, err := clock.Update(farFuture)
	if err == nil {
		t.Fatal("expected drift rejection")
	}
}

func TestUpdateRejectsCounterOverflow(t *testing.T) {
	base := time.UnixMilli(1700000000000)
	clock := New("a", withNowFunc(fixedNow(base)))

	peer := Value{TimestampMS: base.UnixMilli(), Counter: MaxCounter + 1, NodeID: "b"}
	_, err := clock.Update(peer)
	if err == nil {
		t.Fatal("expected counter overflow rejection")
	}
}
