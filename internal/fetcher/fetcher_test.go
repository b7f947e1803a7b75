package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusServer(t *testing.T, status int, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f, err := New(WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	body, err := f.FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", body)
}

func TestFetchBytes(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x01}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer srv.Close()

	f, err := New()
	require.NoError(t, err)

	body, err := f.FetchBytes(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, payload, body)
}

func TestRetryPolicy(t *testing.T) {
	tests := []struct {
		name             string
		status           int
		maxRetries       int
		expectedAttempts int32
	}{
		{"503 retried until exhausted", http.StatusServiceUnavailable, 2, 3},
		{"500 retried", http.StatusInternalServerError, 1, 2},
		{"429 retried", http.StatusTooManyRequests, 2, 3},
		{"408 retried", http.StatusRequestTimeout, 1, 2},
		{"404 is terminal", http.StatusNotFound, 3, 1},
		{"403 is terminal", http.StatusForbidden, 3, 1},
		{"no retries configured", http.StatusBadGateway, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			srv := statusServer(t, tt.status, &hits)

			f, err := New(WithMaxRetries(tt.maxRetries), WithRetryDelay(time.Millisecond))
			require.NoError(t, err)

			_, err = f.FetchText(context.Background(), srv.URL)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFetchFailed))
			assert.Equal(t, tt.expectedAttempts, atomic.LoadInt32(&hits))

			var fetchErr *Error
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, tt.status, fetchErr.StatusCode)
			assert.Equal(t, srv.URL, fetchErr.URL)
			assert.Equal(t, int(tt.expectedAttempts), fetchErr.Attempts)
		})
	}
}

func TestRetryRecovers(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	f, err := New(WithMaxRetries(3), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	body, err := f.FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "finally", body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestLinearBackoff(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	delay := 30 * time.Millisecond
	f, err := New(WithMaxRetries(2), WithRetryDelay(delay))
	require.NoError(t, err)

	_, err = f.FetchText(context.Background(), srv.URL)
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 3)

	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), delay)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 2*delay)
}

func TestNetworkErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	f, err := New(WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = f.FetchText(context.Background(), addr)
	require.Error(t, err)

	var fetchErr *Error
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Zero(t, fetchErr.StatusCode)
}

func TestTimeoutIsRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	f, err := New(WithTimeout(50*time.Millisecond), WithMaxRetries(1), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	body, err := f.FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "late", body)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestContextCancelStopsRetries(t *testing.T) {
	var hits int32
	srv := statusServer(t, http.StatusServiceUnavailable, &hits)

	f, err := New(WithMaxRetries(5), WithRetryDelay(time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = f.FetchText(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestProxyIsUsed(t *testing.T) {
	var proxied int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&proxied, 1)
		assert.Equal(t, "http://catalog.invalid/shop", r.URL.String())
		w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	f, err := New(WithProxy(proxy.URL), WithMaxRetries(0))
	require.NoError(t, err)

	body, err := f.FetchText(context.Background(), "http://catalog.invalid/shop")
	require.NoError(t, err)
	assert.Equal(t, "via proxy", body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&proxied))
}

func TestInvalidProxy(t *testing.T) {
	_, err := New(WithProxy("::not a url"))
	assert.Error(t, err)
}

func TestOversizedBodyIsRejected(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		size := 16
		if r.URL.Path == "/big" {
			size = 17
		}
		w.Write(make([]byte, size))
	}))
	defer srv.Close()

	f, err := New(WithMaxBodySize(16), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	body, err := f.FetchBytes(context.Background(), srv.URL+"/exact")
	require.NoError(t, err)
	assert.Len(t, body, 16)

	body, err = f.FetchBytes(context.Background(), srv.URL+"/big")
	assert.Nil(t, body)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "oversized responses are not retried")

	_, err = f.FetchText(context.Background(), srv.URL+"/big")
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestDefaultBinaryLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, maxBinaryBytes+1000))
	}))
	defer srv.Close()

	f, err := New(WithMaxRetries(0))
	require.NoError(t, err)

	body, err := f.FetchBytes(context.Background(), srv.URL)
	assert.Nil(t, body)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}
