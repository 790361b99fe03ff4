package llm

import (
	"context"
	"errors"
	"testing"
)

type memCache struct {
	data   map[string]*Response
	getErr error
}

func (m *memCache) Get(_ context.Context, key string) (*Response, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	r, ok := m.data[key]
	return r, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, resp *Response) error {
	m.data[key] = resp
	return nil
}

type countingProvider struct {
	calls int
	err   error
}

func (p *countingProvider) Extract(_ context.Context, prompt string) (*Response, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &Response{Text: "echo:" + prompt}, nil
}

func TestWithCacheNil(t *testing.T) {
	p := &countingProvider{}
	if got := WithCache(p, nil, "m"); got != Provider(p) {
		t.Error("nil cache should return the provider unchanged")
	}
}

func TestCachedProviderHitAndMiss(t *testing.T) {
	inner := &countingProvider{}
	c := &memCache{data: map[string]*Response{}}
	p := WithCache(inner, c, "model-a")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := p.Extract(ctx, "hello")
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if resp.Text != "echo:hello" {
			t.Errorf("Text = %q", resp.Text)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}

	if _, err := p.Extract(ctx, "other"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner calls = %d, want 2", inner.calls)
	}
}

func TestCachedProviderErrorsNotCached(t *testing.T) {
	inner := &countingProvider{err: &ProviderError{Provider: KindLocal, StatusCode: 500, Message: "boom"}}
	c := &memCache{data: map[string]*Response{}}
	p := WithCache(inner, c, "m")

	if _, err := p.Extract(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	if len(c.data) != 0 {
		t.Errorf("error response should not be cached, cache has %d entries", len(c.data))
	}
}

func TestCachedProviderLookupFailureFallsThrough(t *testing.T) {
	inner := &countingProvider{}
	c := &memCache{data: map[string]*Response{}, getErr: errors.New("redis down")}
	resp, err := WithCache(inner, c, "m").Extract(context.Background(), "x")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if resp.Text != "echo:x" || inner.calls != 1 {
		t.Errorf("expected fall-through to provider, got %+v after %d calls", resp, inner.calls)
	}
}

func TestCacheKeyDependsOnModel(t *testing.T) {
	if CacheKey("a", "prompt") == CacheKey("b", "prompt") {
		t.Error("cache key should differ per model")
	}
	if CacheKey("a", "prompt") != CacheKey("a", "prompt") {
		t.Error("cache key should be deterministic")
	}
}

type emptyProvider struct{}

func (emptyProvider) Extract(context.Context, string) (*Response, error) { return nil, nil }

func TestCachedProviderSkipsNilResponse(t *testing.T) {
	c := &memCache{data: map[string]*Response{}}
	resp, err := WithCache(emptyProvider{}, c, "m").Extract(context.Background(), "hello")
	if err != nil || resp != nil {
		t.Fatalf("Extract = %v, %v; want nil, nil", resp, err)
	}
	if len(c.data) != 0 {
		t.Errorf("nil response was cached: %v", c.data)
	}
}
