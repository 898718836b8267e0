package engine

import (
	"time"

	"github.com/curvedinf/razor/pkg/logging"
	"github.com/curvedinf/razor/pkg/metrics"
	"github.com/curvedinf/razor/pkg/wire"
	"go.uber.org/zap"
)

// pushBounded appends to a size-capped FIFO, dropping the oldest sample
// once it exceeds PingLogSize.
func pushBounded(log *[]time.Duration, v time.Duration) {
	*log = append(*log, v)
	if len(*log) > PingLogSize {
		*log = (*log)[len(*log)-PingLogSize:]
	}
}

func maxDuration(samples []time.Duration) time.Duration {
	var max time.Duration
	for _, s := range samples {
		if s > max {
			max = s
		}
	}
	return max
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}

// updateFutureTime recomputes future_time and local_time_difference from
// the ping and time-delta logs, per spec.md §4.4.3:
//
//	future_time = (max_ping / 2) * 1.4 + 30ms
//	local_time_difference = mean_delta - future_time
//
// Exceeding MaxFutureTime marks the slave disconnected; the embedding
// observes this via Engine.Disconnected and subsequent Tick calls return
// ErrHighPingDisconnect.
func (e *Engine) updateFutureTime() {
	s := e.slave
	if len(s.pingLog) == 0 {
		return
	}

	maxPing := maxDuration(s.pingLog)
	meanDelta := meanDuration(s.timeDeltaLog)

	futureTime := time.Duration(float64(maxPing/2) * FutureTimePingMultiplier) + FutureTimeFixedFuture
	s.futureTime = futureTime
	s.localTimeDifference = meanDelta - futureTime

	metrics.FutureTimeMs.Set(float64(futureTime.Milliseconds()))

	if futureTime > MaxFutureTime && !s.disconnected {
		s.disconnected = true
		logging.Warn("engine: high ping disconnect", zap.Duration("future_time", futureTime))
		if s.daemonEndpoint != "" {
			e.enqueue(s.daemonEndpoint, wire.MessageDisconnect, nil)
		}
	}
}
