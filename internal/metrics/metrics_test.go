// SPDX-License-Identifier: MIT

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncFeedDrop(t *testing.T) {
	before := testutil.ToFloat64(feedDropsTotal.WithLabelValues("buffer_full"))
	IncFeedDrop("buffer_full")
	IncFeedDrop("") // ignored
	after := testutil.ToFloat64(feedDropsTotal.WithLabelValues("buffer_full"))
	assert.Equal(t, before+1, after)
}

func TestObserveStage(t *testing.T) {
	before := testutil.CollectAndCount(StageDuration)
	ObserveStage("download", OutcomeCompleted, 3*time.Second)
	ObserveStage("", OutcomeCompleted, time.Second) // ignored
	after := testutil.CollectAndCount(StageDuration)
	assert.Equal(t, before+1, after)
}
