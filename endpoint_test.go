package faceblade

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/flarexio/faceblade/persistence/memory"
)

func TestRequestThreshold(t *testing.T) {
	assert := assert.New(t)

	thresh, err := RequestThreshold(nil)
	assert.NoError(err)
	assert.Zero(thresh)

	for _, v := range []float32{0, -0.1, 1, 1.5} {
		_, err := RequestThreshold(&v)
		assert.ErrorIs(err, ErrInvalidThreshold, "threshold %v", v)
	}

	v := float32(0.6)
	thresh, err = RequestThreshold(&v)
	assert.NoError(err)
	assert.Equal(float32(0.6), thresh)

	assert.Nil(ThresholdOf(0))
	assert.Equal(float32(0.6), *ThresholdOf(0.6))
}

func TestCheckEndpointsThresholdPresence(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	svc, err := NewService(ctx, testConfig(), memory.NewMemoryStore(), encoder)
	if err != nil {
		assert.Fail(err.Error())
		return
	}
	defer svc.Close()

	_, err = svc.Register(ctx, images("alice-1"), Scope{GroupID: "default", PersonID: "alice"})
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	var single CheckSingleRequest
	err = json.Unmarshal([]byte(`{"images":["YWxpY2UtcXVlcnk="],"group_id":"default","person_id":"alice","threshold":0}`), &single)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	_, err = CheckSingleEndpoint(svc)(ctx, single)
	assert.ErrorIs(err, ErrInvalidThreshold)

	var multi CheckMultiRequest
	err = json.Unmarshal([]byte(`{"images":["YWxpY2UtcXVlcnk="],"group_id":"default","threshold":0}`), &multi)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	_, err = CheckMultiEndpoint(svc)(ctx, multi)
	assert.ErrorIs(err, ErrInvalidThreshold)

	// leaving the threshold out selects the configured one
	single.Threshold = nil

	resp, err := CheckSingleEndpoint(svc)(ctx, single)
	if err != nil {
		assert.Fail(err.Error())
		return
	}

	result, ok := resp.(*CheckResult)
	if assert.True(ok) {
		assert.True(result.Verdicts[0].Match)
	}
}
