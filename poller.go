// This file is part of ShadowCascade project, available at https://github.com/qrdl/shadowcascade
// Copyright (c) 2026 Ilya Caramishev. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at https://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shadowcascade

import (
	"context"
	"time"
)

// poller calls tick after delay and then every interval until tick returns
// false or stop is called. Ticks are numbered from 1.
type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startPoller(delay, interval time.Duration, tick func(n int) bool) *poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{cancel: cancel, done: make(chan struct{})}
	go p.run(ctx, delay, interval, tick)
	return p
}

func (p *poller) run(ctx context.Context, delay, interval time.Duration, tick func(n int) bool) {
	defer close(p.done)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 1; ; n++ {
		if !tick(n) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// stop cancels the poller and waits for an in-flight tick to finish.
func (p *poller) stop() {
	p.cancel()
	<-p.done
}

// finished reports whether the poller goroutine has exited.
func (p *poller) finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
