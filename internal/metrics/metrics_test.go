package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.Submission(OutcomeGraded)
	r.Submission(OutcomeGraded)
	r.Submission(OutcomeFailed)
	r.Ranked(true)
	r.Conflict()
	r.Observe("grade_submission", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(r.submissions.WithLabelValues(OutcomeGraded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.submissions.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ranks.WithLabelValues("global")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.conflicts))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Submission(OutcomeGraded)
	r.Ranked(false)
	r.Conflict()
	r.Observe("noop", time.Now())
}
