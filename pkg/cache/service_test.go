package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactperf/pkg/clock"
	perrors "contactperf/pkg/error"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// countingLoader 记录每个 URL 的加载次数，可以阻塞直到 release 被关闭
type countingLoader struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]bool
	release chan struct{}
	started chan string
}

func newCountingLoader() *countingLoader {
	return &countingLoader{
		calls: make(map[string]int),
		fail:  make(map[string]bool),
	}
}

func (l *countingLoader) Load(ctx context.Context, url string) error {
	l.mu.Lock()
	l.calls[url]++
	fail := l.fail[url]
	l.mu.Unlock()

	if l.started != nil {
		l.started <- url
	}
	if l.release != nil {
		<-l.release
	}
	if fail {
		return errors.New("404 not found")
	}
	return nil
}

func (l *countingLoader) count(url string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[url]
}

func (l *countingLoader) setFail(url string, fail bool) {
	l.mu.Lock()
	l.fail[url] = fail
	l.mu.Unlock()
}

func newTestService(loader ImageLoader) (*Service, *clock.Mock) {
	mock := clock.NewMock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(ServiceConfig{
		Loader: loader,
		Clock:  mock,
		Logger: quietLogger(),
	})
	return svc, mock
}

func TestService_SetGet(t *testing.T) {
	svc, _ := newTestService(newCountingLoader())

	svc.Set("key1", "value1", 0)

	value, ok := svc.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, "value1", value)
	assert.True(t, svc.Has("key1"))

	_, ok = svc.Get("nonexistent")
	assert.False(t, ok)
	assert.False(t, svc.Has("nonexistent"))
}

func TestService_NilValueIsPresent(t *testing.T) {
	svc, _ := newTestService(newCountingLoader())

	svc.Set("nil", nil, time.Minute)

	value, ok := svc.Get("nil")
	assert.True(t, ok)
	assert.Nil(t, value)
}

// 写入 1000ms TTL，500ms 后可读，累计 1100ms 后失效
func TestService_TTLScenario(t *testing.T) {
	svc, mock := newTestService(newCountingLoader())

	svc.Set("x", "A", 1000*time.Millisecond)

	mock.Advance(500 * time.Millisecond)
	value, ok := svc.Get("x")
	require.True(t, ok)
	assert.Equal(t, "A", value)

	mock.Advance(600 * time.Millisecond)
	_, ok = svc.Get("x")
	assert.False(t, ok)

	// Get 已经惰性删除
	assert.Equal(t, 0, svc.CacheSize().Data)
}

func TestService_TTLBoundaryInclusive(t *testing.T) {
	svc, mock := newTestService(newCountingLoader())

	svc.Set("edge", 1, time.Second)
	mock.Advance(time.Second)

	_, ok := svc.Get("edge")
	assert.True(t, ok, "entry is still valid when exactly ttl has elapsed")

	mock.Advance(time.Nanosecond)
	_, ok = svc.Get("edge")
	assert.False(t, ok)
}

func TestService_DefaultTTLs(t *testing.T) {
	svc, mock := newTestService(newCountingLoader())

	svc.Set("data", "d", 0)
	svc.SetConfig("cfg", "c", 0)

	mock.Advance(DefaultDataTTL + time.Second)
	_, ok := svc.Get("data")
	assert.False(t, ok, "data entries use the 5 minute default")

	value, ok := svc.GetConfig("cfg")
	assert.True(t, ok, "config entries outlive the data default")
	assert.Equal(t, "c", value)

	mock.Advance(DefaultConfigTTL)
	_, ok = svc.GetConfig("cfg")
	assert.False(t, ok)
}

func TestService_NamespacesIsolated(t *testing.T) {
	svc, _ := newTestService(newCountingLoader())

	svc.Set("shared", "data", 0)
	svc.SetConfig("shared", "config", 0)

	v, _ := svc.Get("shared")
	assert.Equal(t, "data", v)
	v, _ = svc.GetConfig("shared")
	assert.Equal(t, "config", v)

	assert.True(t, svc.Delete("shared"))
	_, ok := svc.GetConfig("shared")
	assert.True(t, ok)
	assert.True(t, svc.DeleteConfig("shared"))
}

func TestService_Delete(t *testing.T) {
	svc, mock := newTestService(newCountingLoader())

	svc.Set("key1", "value1", time.Second)
	assert.True(t, svc.Delete("key1"))
	assert.False(t, svc.Delete("key1"))

	// 过期条目同样可以删除，并报告存在
	svc.Set("stale", "v", time.Second)
	mock.Advance(2 * time.Second)
	assert.True(t, svc.Delete("stale"))
}

func TestService_Clear(t *testing.T) {
	loader := newCountingLoader()
	svc, _ := newTestService(loader)
	ctx := context.Background()

	svc.Set("a", 1, 0)
	svc.Set("b", 2, 0)
	svc.SetConfig("c", 3, 0)
	_, err := svc.CacheImage(ctx, "https://img.example/a.png")
	require.NoError(t, err)

	stats := svc.Stats()
	assert.Equal(t, 4, stats.TotalSize)

	svc.Clear()

	stats = svc.Stats()
	assert.Equal(t, 0, stats.TotalSize)
	assert.Equal(t, SizeReport{}, svc.CacheSize())
	assert.Equal(t, FlightAbsent, svc.ImageState("https://img.example/a.png"))
}

func TestService_ClearDuringPendingLoadDoesNotResurrect(t *testing.T) {
	loader := newCountingLoader()
	loader.release = make(chan struct{})
	loader.started = make(chan string, 1)
	svc, _ := newTestService(loader)

	url := "https://img.example/slow.png"
	done := make(chan error, 1)
	go func() {
		_, err := svc.CacheImage(context.Background(), url)
		done <- err
	}()

	<-loader.started
	svc.Clear()
	close(loader.release)

	require.NoError(t, <-done)
	assert.Equal(t, 0, svc.CacheSize().Images)
	assert.Equal(t, FlightAbsent, svc.ImageState(url))
}

func TestService_CacheSizeIncludesUnsweptExpired(t *testing.T) {
	svc, mock := newTestService(newCountingLoader())

	svc.Set("a", 1, time.Second)
	svc.SetConfig("b", 2, time.Second)
	mock.Advance(time.Minute)

	assert.Equal(t, SizeReport{Data: 1, Config: 1}, svc.CacheSize())

	removed := svc.Cleanup()
	assert.Equal(t, 2, removed)
	assert.Equal(t, SizeReport{}, svc.CacheSize())
	assert.Equal(t, mock.Now(), svc.Stats().LastCleanup)
}

func TestService_CleanupKeepsValidAndImages(t *testing.T) {
	svc, mock := newTestService(newCountingLoader())

	svc.Set("short", 1, time.Second)
	svc.Set("long", 2, time.Hour)
	_, err := svc.CacheImage(context.Background(), "https://img.example/keep.png")
	require.NoError(t, err)

	mock.Advance(24 * time.Hour)
	svc.Set("fresh", 3, time.Hour)

	assert.Equal(t, 2, svc.Cleanup())
	assert.Equal(t, SizeReport{Data: 1, Images: 1}, svc.CacheSize())

	// 幂等
	assert.Equal(t, 0, svc.Cleanup())
}

func TestService_CleanupConcurrentWithGet(t *testing.T) {
	svc, mock := newTestService(newCountingLoader())

	for i := 0; i < 200; i++ {
		svc.Set(fmt.Sprintf("k%d", i), i, time.Second)
	}
	mock.Advance(time.Minute)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		svc.Cleanup()
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, ok := svc.Get(fmt.Sprintf("k%d", i))
			assert.False(t, ok)
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, svc.CacheSize().Data)
}

func TestService_CacheImage_Dedup(t *testing.T) {
	loader := newCountingLoader()
	loader.release = make(chan struct{})
	loader.started = make(chan string, 1)
	svc, _ := newTestService(loader)

	url := "https://img.example/avatar.png"
	ctx := context.Background()

	results := make(chan string, 2)
	errs := make(chan error, 2)
	call := func() {
		v, err := svc.CacheImage(ctx, url)
		results <- v
		errs <- err
	}

	go call()
	<-loader.started
	assert.Equal(t, FlightPending, svc.ImageState(url))
	go call()
	time.Sleep(20 * time.Millisecond)

	close(loader.release)

	for i := 0; i < 2; i++ {
		assert.NoError(t, <-errs)
		assert.Equal(t, url, <-results)
	}
	assert.Equal(t, 1, loader.count(url))
	assert.Equal(t, FlightResolved, svc.ImageState(url))

	// 成功后再次请求直接命中
	v, err := svc.CacheImage(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, url, v)
	assert.Equal(t, 1, loader.count(url))
}

func TestService_CacheImage_FailureAllowsRetry(t *testing.T) {
	loader := newCountingLoader()
	svc, _ := newTestService(loader)
	ctx := context.Background()
	url := "https://img.example/broken.png"

	loader.setFail(url, true)
	_, err := svc.CacheImage(ctx, url)
	require.Error(t, err)

	var loadErr *ImageLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, url, loadErr.URL)
	assert.True(t, perrors.HasCode(err, perrors.ErrImageLoadFailed))
	assert.Equal(t, FlightAbsent, svc.ImageState(url))
	assert.Equal(t, 0, svc.CacheSize().Images)

	loader.setFail(url, false)
	v, err := svc.CacheImage(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, url, v)
	assert.Equal(t, 2, loader.count(url))
}

func TestService_CacheImage_SharedFailure(t *testing.T) {
	loader := newCountingLoader()
	loader.release = make(chan struct{})
	loader.started = make(chan string, 1)
	svc, _ := newTestService(loader)
	url := "https://img.example/gone.png"
	loader.setFail(url, true)

	errs := make(chan error, 2)
	go func() {
		_, err := svc.CacheImage(context.Background(), url)
		errs <- err
	}()
	<-loader.started
	go func() {
		_, err := svc.CacheImage(context.Background(), url)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond) // 让第二个调用方加入同一次加载
	close(loader.release)

	first, second := <-errs, <-errs
	require.Error(t, first)
	require.Error(t, second)
	assert.Equal(t, 1, loader.count(url))
}

func TestService_CacheImage_CallerCancelDoesNotAbortLoad(t *testing.T) {
	loader := newCountingLoader()
	loader.release = make(chan struct{})
	loader.started = make(chan string, 1)
	svc, _ := newTestService(loader)
	url := "https://img.example/cancel.png"

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := svc.CacheImage(ctx, url)
		errs <- err
	}()
	<-loader.started
	cancel()
	assert.ErrorIs(t, <-errs, context.Canceled)

	close(loader.release)
	v, err := svc.CacheImage(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, url, v)
	assert.Equal(t, 1, loader.count(url))
}

func TestService_CacheImage_LoaderPanic(t *testing.T) {
	var calls int32
	svc, _ := newTestService(ImageLoaderFunc(func(ctx context.Context, url string) error {
		atomic.AddInt32(&calls, 1)
		panic("decoder exploded")
	}))

	_, err := svc.CacheImage(context.Background(), "https://img.example/panic.png")
	var loadErr *ImageLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, FlightAbsent, svc.ImageState("https://img.example/panic.png"))
}

func TestService_PreloadImages(t *testing.T) {
	loader := newCountingLoader()
	svc, _ := newTestService(loader)

	ok := "https://img.example/ok.png"
	bad := "https://img.example/bad.png"
	loader.setFail(bad, true)

	results := svc.PreloadImages(context.Background(), []string{ok, bad})
	require.Len(t, results, 2)

	assert.Equal(t, ok, results[0].URL)
	assert.True(t, results[0].Fulfilled())
	assert.Equal(t, ok, results[0].Value)

	assert.Equal(t, bad, results[1].URL)
	assert.Equal(t, StatusRejected, results[1].Status)
	assert.Contains(t, results[1].Reason, bad)
	var loadErr *ImageLoadError
	assert.ErrorAs(t, results[1].Err, &loadErr)

	assert.Equal(t, 1, svc.CacheSize().Images)
}

func TestService_PreloadImages_Empty(t *testing.T) {
	svc, _ := newTestService(newCountingLoader())
	assert.Empty(t, svc.PreloadImages(context.Background(), nil))
}

func TestService_StartStop(t *testing.T) {
	svc := NewService(ServiceConfig{
		CleanupInterval: time.Second,
		Loader:          newCountingLoader(),
		Logger:          quietLogger(),
	})

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start())
	assert.True(t, svc.Running())

	svc.Stop()
	svc.Stop()
	assert.False(t, svc.Running())
	assert.NoError(t, svc.Close())
}

func TestService_BackgroundSweep(t *testing.T) {
	svc := NewService(ServiceConfig{
		CleanupInterval: time.Second,
		Loader:          newCountingLoader(),
		Logger:          quietLogger(),
	})
	defer svc.Stop()

	svc.Set("short", "v", 10*time.Millisecond)
	require.NoError(t, svc.Start())

	assert.Eventually(t, func() bool {
		return svc.CacheSize().Data == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func BenchmarkService_Set(b *testing.B) {
	svc, _ := newTestService(newCountingLoader())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.Set(fmt.Sprintf("key%d", i), i, 0)
	}
}

func BenchmarkService_Get(b *testing.B) {
	svc, _ := newTestService(newCountingLoader())
	for i := 0; i < 1000; i++ {
		svc.Set(fmt.Sprintf("key%d", i), i, 0)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		svc.Get(fmt.Sprintf("key%d", i%1000))
	}
}
