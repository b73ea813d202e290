package result

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/bulkchange/internal/common/bulkerrors"
)

func TestAggregator_CapKeepsTrueCount(t *testing.T) {
	r := New(100)
	for i := 0; i < 150; i++ {
		r.Errors.Add(fmt.Sprintf("A-%d", i), "failed")
	}

	capped := r.Errors.Capped()
	assert.Len(t, capped, 100)
	assert.Equal(t, "A-0", capped[0].Entity)
	assert.Equal(t, "A-99", capped[99].Entity)
	assert.Equal(t, 150, r.Errors.Count())
	assert.True(t, r.Errors.IsLimited())
	assert.Len(t, r.Errors.All(), 150)
	assert.False(t, r.IsSuccessful())
}

func TestAggregator_NotLimitedAtCap(t *testing.T) {
	a := NewAggregator(2)
	a.Add("A-1", "x")
	a.Add("A-2", "y")
	assert.False(t, a.IsLimited())
	a.Add("A-3", "z")
	assert.True(t, a.IsLimited())
}

func TestAggregator_DefaultCap(t *testing.T) {
	assert.Equal(t, DefaultDisplayCap, NewAggregator(0).DisplayCap())
	assert.Equal(t, DefaultDisplayCap, NewAggregator(-5).DisplayCap())
}

func TestAggregator_MessagesGroupedInInsertionOrder(t *testing.T) {
	a := NewAggregator(10)
	a.Add("B-2", "first")
	a.Add("A-1", "second")
	a.Add("B-2", "third")

	assert.Equal(t, []EntityErrors{
		{Entity: "B-2", Messages: []string{"first", "third"}},
		{Entity: "A-1", Messages: []string{"second"}},
	}, a.Capped())
	assert.Equal(t, 2, a.Count())
}

func TestAggregator_AddError(t *testing.T) {
	a := NewAggregator(10)
	validation := bulkerrors.NewValidationError("fixVersions", "version 1.0 does not exist")
	validation.Add("", "no permission to edit")
	a.AddError("A-1", errors.Wrap(validation, "validating"))
	a.AddError("A-2", errors.New("boom"))

	assert.Equal(t, []string{"no permission to edit", "fixVersions: version 1.0 does not exist"}, a.Messages("A-1"))
	assert.Equal(t, []string{"boom"}, a.Messages("A-2"))
}

func TestAggregator_ErrorOrNil(t *testing.T) {
	a := NewAggregator(1)
	assert.NoError(t, a.ErrorOrNil())

	a.Add("A-1", "x")
	a.Add("A-2", "y")
	err := a.ErrorOrNil()
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2, "the display cap does not apply")
	assert.Equal(t, bulkerrors.ClassEntity, bulkerrors.Classify(merr.Errors[0]))
}

func TestAggregator_ConcurrentAdd(t *testing.T) {
	a := NewAggregator(10)
	wg := sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Add(fmt.Sprintf("A-%d", i), "x")
			_ = a.Capped()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, a.Count())
}

func TestResult_Summary(t *testing.T) {
	r := New(1)
	assert.True(t, r.IsSuccessful())

	r.Errors.Add("A-1", "x")
	r.Errors.Add("A-2", "y")
	r.SetElapsed(1500 * time.Millisecond)
	r.Fail("unexpected error")

	expected := &Summary{
		Successful:   false,
		FatalMessage: "unexpected error",
		ErrorCount:   2,
		Limited:      true,
		Errors:       []EntityErrors{{Entity: "A-1", Messages: []string{"x"}}},
		ElapsedMs:    1500,
	}
	if diff := cmp.Diff(expected, r.Summary()); diff != "" {
		t.Errorf("unexpected summary (-want +got):\n%s", diff)
	}
}
