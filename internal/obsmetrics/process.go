package obsmetrics

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSampleInterval is how often the resident-memory/CPU gauges are
// refreshed.
const ProcessSampleInterval = 15 * time.Second

// RunProcessSampler periodically samples this process's RSS and CPU usage
// into the registry's gauges until ctx is cancelled.
func RunProcessSampler(ctx context.Context, r *Registry, logger zerolog.Logger) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to attach gopsutil process sampler")
		return
	}

	ticker := time.NewTicker(ProcessSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
				r.ProcessResidentMemoryBytes.Set(float64(mem.RSS))
			}
			if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
				r.ProcessCPUPercent.Set(cpu)
			}
		}
	}
}
