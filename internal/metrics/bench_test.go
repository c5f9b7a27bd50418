package metrics

import "testing"

// BenchmarkCollector_LineSent measures the per-line overhead on the
// outbound path.
func BenchmarkCollector_LineSent(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.LineSent()
		c.BytesSent(64)
	}
}

// BenchmarkCollector_DCCBytes measures the per-chunk overhead of a
// DCC transfer.
func BenchmarkCollector_DCCBytes(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.DCCBytes(32768)
	}
}

// BenchmarkCollector_Snapshot measures the cost of taking a snapshot.
func BenchmarkCollector_Snapshot(b *testing.B) {
	c := New()
	c.ConnectionOpened()
	c.DCCStarted()
	c.RecordError("test")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Snapshot()
	}
}

// BenchmarkNilCollector verifies nil-safe no-ops have zero overhead.
func BenchmarkNilCollector(b *testing.B) {
	var c *Collector
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.LineReceived()
		c.DCCBytes(32768)
		c.RecordError("test")
	}
}
