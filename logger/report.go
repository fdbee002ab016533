package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

type componentStat struct {
	warns  int64
	errors int64
}

var (
	messagesRead     int64
	parseErrors      int64
	snapshotsApplied int64
	deltasApplied    int64
	deltasStale      int64
	sequenceGaps     int64
	resyncs          int64
	batchesEmitted   int64
	batchesDropped   int64
	s3Writes         int64
	channels         sync.Map // map[string]*channelStat
	components       sync.Map // map[string]*componentStat
)

func componentStats(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentStats(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentStats(component).errors, 1)
}

// IncrementMessageRead counts one raw message received from exchange.
func IncrementMessageRead(exchange string, size int) {
	atomic.AddInt64(&messagesRead, 1)
	recordChannel(exchange+"_ws", size)
}

func IncrementParseError() { atomic.AddInt64(&parseErrors, 1) }

func IncrementSnapshotApplied() { atomic.AddInt64(&snapshotsApplied, 1) }

func IncrementDeltaApplied() { atomic.AddInt64(&deltasApplied, 1) }

func IncrementStaleDelta() { atomic.AddInt64(&deltasStale, 1) }

func IncrementGap() { atomic.AddInt64(&sequenceGaps, 1) }

func IncrementResync() { atomic.AddInt64(&resyncs, 1) }

func IncrementBatchEmitted() { atomic.AddInt64(&batchesEmitted, 1) }

func IncrementBatchDropped() { atomic.AddInt64(&batchesDropped, 1) }

func IncrementS3Write(size int64) {
	atomic.AddInt64(&s3Writes, 1)
	recordChannel("s3_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// Counters returns the current value of the book activity counters keyed by
// their report field name.
func Counters() map[string]int64 {
	return map[string]int64{
		"messages_read":     atomic.LoadInt64(&messagesRead),
		"parse_errors":      atomic.LoadInt64(&parseErrors),
		"snapshots_applied": atomic.LoadInt64(&snapshotsApplied),
		"deltas_applied":    atomic.LoadInt64(&deltasApplied),
		"deltas_stale":      atomic.LoadInt64(&deltasStale),
		"sequence_gaps":     atomic.LoadInt64(&sequenceGaps),
		"resyncs":           atomic.LoadInt64(&resyncs),
		"batches_emitted":   atomic.LoadInt64(&batchesEmitted),
		"batches_dropped":   atomic.LoadInt64(&batchesDropped),
		"s3_writes":         atomic.LoadInt64(&s3Writes),
	}
}

var metricNames = map[string]string{
	"messages_read":     "MessagesRead",
	"parse_errors":      "ParseErrors",
	"snapshots_applied": "SnapshotsApplied",
	"deltas_applied":    "DeltasApplied",
	"deltas_stale":      "DeltasStale",
	"sequence_gaps":     "SequenceGaps",
	"resyncs":           "Resyncs",
	"batches_emitted":   "BatchesEmitted",
	"batches_dropped":   "BatchesDropped",
	"s3_writes":         "S3Writes",
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime, book and channel
// statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})
	componentData := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		componentData[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})

	counters := Counters()
	heapMB := float64(ms.HeapAlloc) / 1024 / 1024
	goroutines := runtime.NumGoroutine()

	fields := Fields{
		"goroutines": goroutines,
		"heap_mb":    int64(heapMB),
		"gc_cycles":  ms.NumGC,
		"channels":   channelData,
		"components": componentData,
	}
	for k, v := range counters {
		fields[k] = v
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("HeapMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(heapMB)},
		{MetricName: aws.String("Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(goroutines))},
	}
	for k, v := range counters {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(metricNames[k]),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(v)),
		})
	}

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
