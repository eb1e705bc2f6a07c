package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	sdkerrors "github.com/wehubfusion/Digest/pkg/errors"
)

type published struct {
	subject string
	data    []byte
	opts    int
}

// fakeJS is an in-memory JetStream.
type fakeJS struct {
	mu        sync.Mutex
	streams   map[string]*nats.StreamConfig
	msgs      []published
	failFirst int
	infoErr   error
}

func newFakeJS() *fakeJS {
	return &fakeJS{streams: map[string]*nats.StreamConfig{}}
}

func (f *fakeJS) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFirst > 0 {
		f.failFirst--
		return nil, nats.ErrTimeout
	}

	f.msgs = append(f.msgs, published{subject: subj, data: data, opts: len(opts)})
	return &nats.PubAck{Stream: "DIGEST", Sequence: uint64(len(f.msgs))}, nil
}

func (f *fakeJS) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	cfg, ok := f.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJS) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeJS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func newPublisher(t *testing.T, js JSContext) *Publisher {
	t.Helper()
	p, err := NewPublisher(js, Config{RetryDelay: time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func message() DigestMessage {
	return DigestMessage{
		ExecutionID: "exec-1",
		Date:        "2026-10-14",
		Subject:     "Your daily digest",
		HTML:        "<p>hi</p>",
		Text:        "hi",
		Recipients:  []string{"me@example.com"},
	}
}

func TestEnsureStreamCreatesOnce(t *testing.T) {
	js := newFakeJS()
	p := newPublisher(t, js)

	require.NoError(t, p.EnsureStream())
	require.Contains(t, js.streams, "DIGEST")
	assert.Equal(t, []string{"digest.email"}, js.streams["DIGEST"].Subjects)
	assert.Equal(t, 24*time.Hour, js.streams["DIGEST"].Duplicates)

	require.NoError(t, p.EnsureStream())
	assert.Len(t, js.streams, 1)
}

func TestEnsureStreamPropagatesLookupError(t *testing.T) {
	js := newFakeJS()
	js.infoErr = errors.New("jetstream not enabled")
	p := newPublisher(t, js)

	assert.ErrorContains(t, p.EnsureStream(), "jetstream not enabled")
}

func TestPublishEncodesMessage(t *testing.T) {
	js := newFakeJS()
	p := newPublisher(t, js)

	id, err := p.Publish(context.Background(), message())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Equal(t, 1, js.count())

	var got DigestMessage
	require.NoError(t, json.Unmarshal(js.msgs[0].data, &got))
	assert.Equal(t, "digest.email", js.msgs[0].subject)
	assert.Equal(t, 2, js.msgs[0].opts)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, []string{"me@example.com"}, got.Recipients)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestPublishKeepsCallerID(t *testing.T) {
	p := newPublisher(t, newFakeJS())
	msg := message()
	msg.ID = "digest-2026-10-14"

	id, err := p.Publish(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "digest-2026-10-14", id)
}

func TestPublishRetries(t *testing.T) {
	js := newFakeJS()
	js.failFirst = 2
	p := newPublisher(t, js)

	_, err := p.Publish(context.Background(), message())
	require.NoError(t, err)
	assert.Equal(t, 1, js.count())
}

func TestPublishGivesUp(t *testing.T) {
	js := newFakeJS()
	js.failFirst = 5
	p := newPublisher(t, js)

	_, err := p.Publish(context.Background(), message())
	require.Error(t, err)
	assert.ErrorIs(t, err, sdkerrors.ErrPublishFailed)
	assert.ErrorIs(t, err, nats.ErrTimeout)
	assert.Equal(t, 0, js.count())
}

func TestPublishRejectsEmptyAndCancelled(t *testing.T) {
	p := newPublisher(t, newFakeJS())

	_, err := p.Publish(context.Background(), DigestMessage{})
	assert.Equal(t, sdkerrors.CodeValidation, sdkerrors.Categorize(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Publish(ctx, message())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewPublisherRequiresJS(t *testing.T) {
	_, err := NewPublisher(nil, Config{}, nil)
	assert.Error(t, err)
}
