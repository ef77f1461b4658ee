package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

func sampleAnswer() domain.Answer {
	a := domain.Answer{
		ID:           "a1",
		Symbol:       "DAI",
		Source:       domain.SourcePrimary,
		Path:         domain.PathNormalized,
		DeviationBps: 398,
		BlockNumber:  9_000_000,
		Signature:    "0xsig",
		Signer:       "0xsigner",
		ComputedAt:   time.Unix(1_600_000_000, 0).UTC(),
	}
	a.Value.SetUint64(2006035693035035139)
	a.Reference.Set(uint256.NewInt(5000000000000000))
	return a
}

func TestAnswerCache_SetAnswer(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ac := NewAnswerCache(Wrap(db), time.Minute)
	a := sampleAnswer()

	mock.ExpectTxPipeline()
	mock.ExpectHSet("answer:DAI",
		"id", "a1",
		"value", "2006035693035035139",
		"reference", "5000000000000000",
		"source", "primary",
		"path", "normalized",
		"deviation_bps", "398",
		"block", "9000000",
		"signature", "0xsig",
		"signer", "0xsigner",
		"ts", "1600000000000000000",
	).SetVal(10)
	mock.ExpectExpire("answer:DAI", time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()

	require.NoError(t, ac.SetAnswer(context.Background(), a))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnswerCache_GetAnswer(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ac := NewAnswerCache(Wrap(db), 0)

	mock.ExpectHGetAll("answer:DAI").SetVal(map[string]string{
		"id":            "a1",
		"value":         "2006035693035035139",
		"reference":     "5000000000000000",
		"source":        "primary",
		"path":          "normalized",
		"deviation_bps": "398",
		"block":         "9000000",
		"signature":     "0xsig",
		"signer":        "0xsigner",
		"ts":            "1600000000000000000",
	})

	got, err := ac.GetAnswer(context.Background(), "DAI")
	require.NoError(t, err)
	assert.Equal(t, sampleAnswer(), got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnswerCache_GetAnswerMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ac := NewAnswerCache(Wrap(db), 0)

	mock.ExpectHGetAll("answer:LINK").SetVal(map[string]string{})
	_, err := ac.GetAnswer(context.Background(), "LINK")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mock.ExpectHGetAll("answer:LINK").SetErr(errors.New("conn reset"))
	_, err = ac.GetAnswer(context.Background(), "LINK")
	assert.ErrorContains(t, err, "redis: get answer LINK")
}

func TestAnswerCache_GetAnswerBadValue(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ac := NewAnswerCache(Wrap(db), 0)

	mock.ExpectHGetAll("answer:DAI").SetVal(map[string]string{"value": "-1", "reference": "0"})
	_, err := ac.GetAnswer(context.Background(), "DAI")
	assert.ErrorContains(t, err, "redis: parse value DAI")
}

func lockKeyMatcher(key string) redismock.CustomMatch {
	return func(expected, actual []interface{}) error {
		if len(actual) < 2 || actual[1] != key {
			return errors.New("unexpected lock key")
		}
		return nil
	}
}

func TestLockManager_Held(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lm := NewLockManager(Wrap(db))

	mock.CustomMatch(lockKeyMatcher("lock:poll:DAI")).
		ExpectSetNX("lock:poll:DAI", "token", 30*time.Second).SetVal(false)

	unlock, err := lm.Acquire(context.Background(), "poll:DAI", 30*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Nil(t, unlock)
}

func TestLockManager_Error(t *testing.T) {
	db, mock := redismock.NewClientMock()
	lm := NewLockManager(Wrap(db))

	mock.CustomMatch(lockKeyMatcher("lock:poll:DAI")).
		ExpectSetNX("lock:poll:DAI", "token", time.Second).SetErr(errors.New("down"))

	_, err := lm.Acquire(context.Background(), "poll:DAI", time.Second)
	assert.ErrorContains(t, err, "redis: acquire lock poll:DAI")
}

func TestRateLimiter_Allow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rl := NewRateLimiter(Wrap(db))
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	sha := redis.NewScript(slidingWindowLua).Hash()
	keys := []string{"ratelimit:api:1.2.3.4"}

	mock.ExpectEvalSha(sha, keys, now.UnixMicro(), time.Minute.Microseconds(), 60).
		SetVal([]interface{}{int64(1), int64(59)})
	ok, err := rl.Allow(context.Background(), "api:1.2.3.4", 60, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectEvalSha(sha, keys, now.UnixMicro(), time.Minute.Microseconds(), 60).
		SetVal([]interface{}{int64(0), int64(0)})
	ok, err = rl.Allow(context.Background(), "api:1.2.3.4", 60, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalBus_PublishAndAppend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	sb := NewSignalBus(Wrap(db), 500)
	payload := []byte{0x0a, 0x03, 'D', 'A', 'I'}

	mock.ExpectPublish("ch:answer:DAI", payload).SetVal(1)
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "stream:answers",
		MaxLen: 500,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).SetVal("1-0")

	require.NoError(t, sb.Publish(context.Background(), "ch:answer:DAI", payload))
	require.NoError(t, sb.StreamAppend(context.Background(), "stream:answers", payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalBus_StreamRead(t *testing.T) {
	db, mock := redismock.NewClientMock()
	sb := NewSignalBus(Wrap(db), 0)
	assert.Equal(t, DefaultStreamMaxLen, sb.maxLen)

	args := &redis.XReadArgs{Streams: []string{"stream:answers", "0"}, Count: 10, Block: -1}
	mock.ExpectXRead(args).SetVal([]redis.XStream{{
		Stream: "stream:answers",
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]interface{}{"payload": "abc"}},
			{ID: "2-0", Values: map[string]interface{}{"other": "x"}},
		},
	}})
	msgs, err := sb.StreamRead(context.Background(), "stream:answers", "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1-0", msgs[0].ID)
	assert.Equal(t, []byte("abc"), msgs[0].Payload)

	mock.ExpectXRead(args).RedisNil()
	msgs, err = sb.StreamRead(context.Background(), "stream:answers", "0", 10)
	require.NoError(t, err)
	assert.Nil(t, msgs)
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:answer:*"))
	assert.False(t, hasPattern("ch:answer:DAI"))
}
