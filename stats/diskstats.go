package stats

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/lufia/iostat"
)

// diskSampleInterval matches the cadence a shard unpack's disk pressure
// needs to be visible at without materially adding syscall overhead.
const diskSampleInterval = 5 * time.Second

// Periodic is the cadence at which long-running loops (the pipeline's
// per-shard progress log, in particular) emit a summary line, matching the
// teacher's stats-refresh period in ec/getxaction.go.
const Periodic = 10 * time.Second

// RunDiskSampler periodically reads per-drive I/O counters and republishes
// them as the DiskReadBytes/DiskWriteBytes throughput gauges, until ctx is
// canceled. Grounded on the teacher's disk-stats-in-Trunner posture
// (stats/target_stats.go's ios.AllDiskStats field, refreshed on its own
// timer alongside the rest of Trunner's counters) but built directly on
// `lufia/iostat` instead of the teacher's internal `ios` package, since
// that package isn't part of this retrieval pack.
func (r *Registry) RunDiskSampler(ctx context.Context) {
	ticker := time.NewTicker(diskSampleInterval)
	defer ticker.Stop()

	var prevRead, prevWrite uint64
	var prevAt time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			drives, err := iostat.ReadDriveStats()
			if err != nil {
				glog.V(4).Infof("stats: disk sampler: %v", err)
				continue
			}
			var readBytes, writeBytes uint64
			for _, d := range drives {
				readBytes += d.ReadBytes
				writeBytes += d.WriteBytes
			}
			if !prevAt.IsZero() && readBytes >= prevRead && writeBytes >= prevWrite {
				elapsed := now.Sub(prevAt).Seconds()
				if elapsed > 0 {
					r.DiskReadBytes.Set(float64(readBytes-prevRead) / elapsed)
					r.DiskWriteBytes.Set(float64(writeBytes-prevWrite) / elapsed)
				}
			}
			prevRead, prevWrite, prevAt = readBytes, writeBytes, now
		}
	}
}
