package utils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Circuit Breaker Tests

func TestCircuitBreaker_NewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("test")

	assert.Equal(t, "test", cb.Name())
	assert.Equal(t, uint32(1), cb.maxRequests)
	assert.Equal(t, uint32(10), cb.minRequests)
	assert.Equal(t, 60*time.Second, cb.interval)
	assert.Equal(t, 30*time.Second, cb.timeout)
	assert.Equal(t, 0.6, cb.failureRatio)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Settings(t *testing.T) {
	cb := NewCircuitBreaker("gateway", BreakerSettings{MinRequests: 3, Timeout: time.Second})

	assert.Equal(t, uint32(3), cb.minRequests)
	assert.Equal(t, time.Second, cb.timeout)
	assert.Equal(t, 60*time.Second, cb.interval)
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	result, err := cb.Execute(ctx, func() (any, error) {
		return "success", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.Equal(t, StateClosed, cb.state)
	assert.Equal(t, uint32(1), cb.counts.Requests)
	assert.Equal(t, uint32(1), cb.counts.TotalSuccesses)
}

func TestCircuitBreaker_ExecuteFailure(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	expectedError := errors.New("test error")
	result, err := cb.Execute(ctx, func() (any, error) {
		return nil, expectedError
	})

	assert.Equal(t, expectedError, err)
	assert.Nil(t, result)
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{MinRequests: 5, FailureRatio: 0.6})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, func() (any, error) { return "success", nil })
		assert.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, func() (any, error) { return nil, errors.New("failure") })
		assert.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(ctx, func() (any, error) {
		t.Fatal("This should not be executed when circuit is open")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrOpenState)
}

func TestCircuitBreaker_OpenToHalfOpenToClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{MinRequests: 2, FailureRatio: 0.5, Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.Execute(ctx, func() (any, error) { return nil, errors.New("failure") })
	}
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(ctx, func() (any, error) { return "success", nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{MinRequests: 2, FailureRatio: 0.5, Timeout: 50 * time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cb.Execute(ctx, func() (any, error) { return nil, errors.New("failure") })
	}
	time.Sleep(80 * time.Millisecond)

	_, err := cb.Execute(ctx, func() (any, error) { return nil, errors.New("still down") })
	assert.EqualError(t, err, "still down")
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenLimitsTrialRequests(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{MinRequests: 1, Timeout: 20 * time.Millisecond})
	ctx := context.Background()

	cb.Execute(ctx, func() (any, error) { return nil, errors.New("failure") })
	time.Sleep(40 * time.Millisecond)

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		cb.Execute(ctx, func() (any, error) {
			<-release
			return "ok", nil
		})
	}()

	require.Eventually(t, func() bool {
		cb.mutex.Lock()
		defer cb.mutex.Unlock()
		return cb.counts.Requests == 1
	}, time.Second, 5*time.Millisecond)

	_, err := cb.Execute(ctx, func() (any, error) { return "second", nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)

	close(release)
	<-done
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_StaleGenerationIgnored(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{MinRequests: 1})
	ctx := context.Background()

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		cb.Execute(ctx, func() (any, error) {
			<-release
			return nil, errors.New("late failure")
		})
	}()

	require.Eventually(t, func() bool {
		cb.mutex.Lock()
		defer cb.mutex.Unlock()
		return cb.counts.Requests == 1
	}, time.Second, 5*time.Millisecond)

	// Roll the breaker into a new generation while the call is in flight
	cb.mutex.Lock()
	cb.toNewGeneration(time.Now())
	cb.mutex.Unlock()

	close(release)
	<-done

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.counts.TotalFailures)
}

func TestCircuitBreaker_ContextCancellationNotCounted(t *testing.T) {
	cb := NewCircuitBreaker("test", BreakerSettings{MinRequests: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cb.Execute(ctx, func() (any, error) { return nil, ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker("concurrent-test", BreakerSettings{MinRequests: 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	numGoroutines := 100
	successCount := 0
	mu := sync.Mutex{}

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			_, err := cb.Execute(ctx, func() (any, error) {
				time.Sleep(time.Millisecond)
				if id%10 == 0 {
					return nil, errors.New("simulated failure")
				}
				return "success", nil
			})

			if err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	assert.Equal(t, 90, successCount)
	assert.Equal(t, uint32(numGoroutines), cb.counts.Requests)
}

func TestCircuitBreaker_PanicRecovery(t *testing.T) {
	cb := NewCircuitBreaker("panic-test")
	ctx := context.Background()

	assert.Panics(t, func() {
		cb.Execute(ctx, func() (any, error) {
			panic("test panic")
		})
	})

	result, err := cb.Execute(ctx, func() (any, error) {
		return "recovery", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "recovery", result)
}

func TestCircuitBreaker_ReadyToTrip(t *testing.T) {
	cb := NewCircuitBreaker("trip-test")

	tests := []struct {
		name           string
		requests       uint32
		failures       uint32
		minRequests    uint32
		failureRatio   float64
		expectedResult bool
	}{
		{"Not enough requests", 5, 5, 10, 0.5, false},
		{"High failure ratio", 10, 8, 10, 0.6, true},
		{"Low failure ratio", 10, 3, 10, 0.6, false},
		{"Exact failure ratio threshold", 10, 6, 10, 0.6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb.minRequests = tt.minRequests
			cb.failureRatio = tt.failureRatio
			cb.counts.Requests = tt.requests
			cb.counts.TotalFailures = tt.failures

			assert.Equal(t, tt.expectedResult, cb.readyToTrip())
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

// Random Tests

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(32)
	require.NoError(t, err)
	assert.Len(t, code, 64)
	assert.Equal(t, strings.ToLower(code), code)

	other, err := GenerateCode(32)
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestGenerateFromCharset(t *testing.T) {
	code, err := GenerateFromCharset(200, UpperAlphanumCharset)
	require.NoError(t, err)
	assert.Len(t, code, 200)
	for _, c := range code {
		assert.True(t, strings.ContainsRune(UpperAlphanumCharset, c), string(c))
	}

	otp, err := GenerateOTP(6)
	require.NoError(t, err)
	assert.Len(t, otp, 6)
	for _, c := range otp {
		assert.True(t, strings.ContainsRune(DigitCharset, c))
	}
}

// Redis Client Tests

func TestRedisHealthCheck_Success(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetVal("PONG")

	err := RedisHealthCheck(context.Background(), db)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisHealthCheck_Failure(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectPing().SetErr(errors.New("connection failed"))

	err := RedisHealthCheck(context.Background(), db)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis health check failed")
	assert.Contains(t, err.Error(), "connection failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ctx := context.Background()

	mock.ExpectSetNX("lock:payment:1", "owner-a", 30*time.Second).SetVal(true)
	mock.ExpectSetNX("lock:payment:1", "owner-b", 30*time.Second).SetVal(false)

	ok, err := AcquireLock(ctx, db, "lock:payment:1", "owner-a", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AcquireLock(ctx, db, "lock:payment:1", "owner-b", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireLock_Error(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectSetNX("lock:x", "me", time.Second).SetErr(errors.New("down"))

	ok, err := AcquireLock(context.Background(), db, "lock:x", "me", time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestReleaseLock(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectEvalSha(releaseScript.Hash(), []string{"lock:x"}, "me").SetVal(int64(1))

	err := ReleaseLock(context.Background(), db, "lock:x", "me")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Benchmark Tests

func BenchmarkCircuitBreaker_Execute_Success(b *testing.B) {
	cb := NewCircuitBreaker("benchmark")
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cb.Execute(ctx, func() (any, error) {
			return "success", nil
		})
	}
}

func BenchmarkCircuitBreaker_Execute_Concurrent(b *testing.B) {
	cb := NewCircuitBreaker("benchmark-concurrent")
	ctx := context.Background()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			cb.Execute(ctx, func() (any, error) {
				return "success", nil
			})
		}
	})
}
