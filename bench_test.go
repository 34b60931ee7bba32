package cassblob_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/anacrolix/cassblob"
)

func benchmarkInsert(b *testing.B, size int, isNew cassblob.IsNewHint) {
	c := qt.New(b)
	_, opts := benchmarkOpts(b)
	blob := cassblob.SplitBlob(randBytes(size), 1000, 0, 0)
	started := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		task, err := cassblob.NewInsertTask(opts, cassblob.BlobKey(i%16), blob, isNew)
		c.Assert(err, qt.IsNil)
		err = cassblob.Drive(context.Background(), time.Microsecond, task)
		if err != nil {
			c.Fatalf("error in iteration %v after %v: %v", i, time.Since(started), err)
		}
	}
	b.SetBytes(int64(size))
	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "inserts/s")
}

func BenchmarkInsertSmallBlob(b *testing.B) {
	b.Run("IsNew", func(b *testing.B) {
		benchmarkInsert(b, 100, cassblob.IsNewTrue)
	})
	b.Run("Unknown", func(b *testing.B) {
		benchmarkInsert(b, 100, cassblob.IsNewUnknown)
	})
}

func BenchmarkInsertLargeBlob(b *testing.B) {
	benchmarkInsert(b, 10000, cassblob.IsNewUnknown)
}

func BenchmarkSyncInsertLargeBlob(b *testing.B) {
	c := qt.New(b)
	_, opts := benchmarkOpts(b)
	opts.Sync = true
	blob := cassblob.SplitBlob(randBytes(10000), 1000, 0, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		task, err := cassblob.NewInsertTask(opts, 1, blob, cassblob.IsNewUnknown)
		c.Assert(err, qt.IsNil)
		for !task.IsFinished() {
			task.DriveStep()
		}
		c.Assert(task.Err(), qt.IsNil)
	}
	b.SetBytes(10000)
}
