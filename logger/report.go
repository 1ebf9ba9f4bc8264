package logger

import (
	"context"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Process-wide counters for the periodic runtime report. Components bump
// these through the Increment helpers; the report goroutine reads them.
var (
	errorsFeed        int64
	errorsScanner     int64
	warnsFeed         int64
	warnsScanner      int64
	snapshotsApplied  int64
	deltasApplied     int64
	resyncsRequested  int64
	densitiesDetected int64
	alertsEmitted     int64
	alertsDelivered   int64
)

func recordWarn(component string) {
	if strings.Contains(component, "reader") {
		atomic.AddInt64(&warnsFeed, 1)
	} else if strings.Contains(component, "scanner") {
		atomic.AddInt64(&warnsScanner, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "reader") {
		atomic.AddInt64(&errorsFeed, 1)
	} else if strings.Contains(component, "scanner") {
		atomic.AddInt64(&errorsScanner, 1)
	}
}

func IncrementSnapshotApplied() { atomic.AddInt64(&snapshotsApplied, 1) }
func IncrementDeltaApplied()    { atomic.AddInt64(&deltasApplied, 1) }
func IncrementResyncRequested() { atomic.AddInt64(&resyncsRequested, 1) }
func IncrementDensityDetected() { atomic.AddInt64(&densitiesDetected, 1) }
func IncrementAlertEmitted()    { atomic.AddInt64(&alertsEmitted, 1) }
func IncrementAlertDelivered()  { atomic.AddInt64(&alertsDelivered, 1) }

// StartReport begins periodic logging of runtime and pipeline statistics and,
// when CloudWatch is configured, publishes them as metrics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}

	fields := Fields{
		"errors_feed":        atomic.LoadInt64(&errorsFeed),
		"errors_scanner":     atomic.LoadInt64(&errorsScanner),
		"warns_feed":         atomic.LoadInt64(&warnsFeed),
		"warns_scanner":      atomic.LoadInt64(&warnsScanner),
		"snapshots_applied":  atomic.LoadInt64(&snapshotsApplied),
		"deltas_applied":     atomic.LoadInt64(&deltasApplied),
		"resyncs_requested":  atomic.LoadInt64(&resyncsRequested),
		"densities_detected": atomic.LoadInt64(&densitiesDetected),
		"alerts_emitted":     atomic.LoadInt64(&alertsEmitted),
		"alerts_delivered":   atomic.LoadInt64(&alertsDelivered),
		"goroutines":         runtime.NumGoroutine(),
		"cpu_percent":        cpuPct,
		"memory_mb":          memMB,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
		{MetricName: aws.String("SnapshotsApplied"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&snapshotsApplied)))},
		{MetricName: aws.String("DeltasApplied"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&deltasApplied)))},
		{MetricName: aws.String("ResyncsRequested"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&resyncsRequested)))},
		{MetricName: aws.String("DensitiesDetected"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&densitiesDetected)))},
		{MetricName: aws.String("AlertsEmitted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&alertsEmitted)))},
		{MetricName: aws.String("AlertsDelivered"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&alertsDelivered)))},
		{MetricName: aws.String("ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsFeed)))},
		{MetricName: aws.String("ErrorsScanner"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsScanner)))},
	}

	publishMetrics(ctx, data)
}
