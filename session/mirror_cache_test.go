package session

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	e "github.com/fansqz/v8-debug-client/error"
	"github.com/fansqz/v8-debug-client/protocol"
)

func newTestMirrorCache() (*MirrorCache, *RequestCorrelator, *fakeTransport) {
	transport := newFakeTransport()
	correlator := NewRequestCorrelator(transport)
	return NewMirrorCache(correlator), correlator, transport
}

// lookupReply 把lookup请求以给定的body应答回去
func lookupReply(correlator *RequestCorrelator, request sentRequest, body string) {
	correlator.HandleResponse(&protocol.Response{
		RequestSeq: request.Seq,
		Success:    true,
		Body:       json.RawMessage(body),
	})
}

func TestMirrorCacheMergesSameHandle(t *testing.T) {
	cache, _, _ := newTestMirrorCache()

	// 复合类型但属性还没下发，先按懒加载登记
	first := cache.AddData(&protocol.ValueRecord{Handle: 5, Type: "object", ClassName: "Object"})
	assert.Equal(t, SubpropertiesLazy, first.props.Kind())

	// 同一个handle再次下发时合并属性，返回同一个实例
	second := cache.AddData(&protocol.ValueRecord{
		Handle: 5,
		Type:   "object",
		Properties: []protocol.PropertyRecord{
			{Name: json.RawMessage(`"a"`), Ref: 6},
		},
	})
	assert.True(t, first == second)
	assert.Equal(t, SubpropertiesEager, second.props.Kind())

	resolved, ok := cache.Resolve(5)
	assert.True(t, ok)
	assert.True(t, resolved == first)
}

func TestMirrorCacheAnonymousInlineValue(t *testing.T) {
	cache, _, _ := newTestMirrorCache()

	mirror := cache.AddData(&protocol.ValueRecord{Type: "number", Value: json.RawMessage(`3`)})
	assert.Equal(t, int64(0), mirror.Handle())
	assert.Equal(t, "3", mirror.Text())

	// 匿名值不进缓存
	_, ok := cache.Resolve(0)
	assert.False(t, ok)
}

func TestMirrorCacheCoalescesConcurrentLookups(t *testing.T) {
	cache, correlator, transport := newTestMirrorCache()

	var first, second *ValueMirror
	cache.Lookup(7, func(mirror *ValueMirror, err error) {
		assert.Nil(t, err)
		first = mirror
	})
	cache.Lookup(7, func(mirror *ValueMirror, err error) {
		assert.Nil(t, err)
		second = mirror
	})
	// 同一个handle的并发懒加载只产生一条lookup命令
	assert.Equal(t, 1, transport.requestCount())

	lookupReply(correlator, transport.requestAt(0), `{"7":{"handle":7,"type":"string","text":"hello"}}`)
	assert.NotNil(t, first)
	assert.True(t, first == second)
	assert.Equal(t, "hello", first.Text())
	assert.Equal(t, 1, transport.requestCount())
}

func TestMirrorCacheLookupHitsCacheWithoutTraffic(t *testing.T) {
	cache, _, transport := newTestMirrorCache()
	added := cache.AddData(&protocol.ValueRecord{Handle: 9, Type: "number", Value: json.RawMessage(`42`)})

	var got *ValueMirror
	cache.Lookup(9, func(mirror *ValueMirror, err error) {
		assert.Nil(t, err)
		got = mirror
	})
	assert.True(t, got == added)
	assert.Equal(t, 0, transport.requestCount())
}

func TestMirrorCacheAdvanceInvalidatesPendingLookups(t *testing.T) {
	cache, correlator, transport := newTestMirrorCache()

	var gotErr error
	cache.Lookup(7, func(mirror *ValueMirror, err error) {
		gotErr = err
	})
	cache.advance(1)
	assert.True(t, errors.Is(gotErr, e.ErrStaleReference))

	// 迟到的应答属于上个周期，不会写入新周期的缓存
	lookupReply(correlator, transport.requestAt(0), `{"7":{"handle":7,"type":"string","text":"hello"}}`)
	_, ok := cache.Resolve(7)
	assert.False(t, ok)
}

func TestMirrorCacheAdvanceClearsCache(t *testing.T) {
	cache, _, _ := newTestMirrorCache()
	mirror := cache.AddData(&protocol.ValueRecord{Handle: 5, Type: "string", Text: "old"})

	cache.advance(1)
	_, ok := cache.Resolve(5)
	assert.False(t, ok)
	// 过期的mirror仍然能读到最后一次的值
	assert.Equal(t, "old", mirror.Text())

	_, err := cache.SubpropertiesSync(mirror)
	assert.True(t, errors.Is(err, e.ErrStaleReference))
}

func TestMirrorCacheSubpropertiesResolvesMissingRefs(t *testing.T) {
	cache, correlator, transport := newTestMirrorCache()
	transport.setOnSend(func(request sentRequest) {
		lookupReply(correlator, request, `{"55517":{"handle":55517,"type":"string","text":"hello"}}`)
	})

	mirror := cache.AddData(&protocol.ValueRecord{
		Handle: 55516,
		Type:   "object",
		Properties: []protocol.PropertyRecord{
			{Name: json.RawMessage(`"x"`), Ref: 55517},
			{Name: json.RawMessage(`"y"`), Value: &protocol.ValueRecord{Type: "number", Value: json.RawMessage(`3`)}},
		},
	})

	properties, err := cache.SubpropertiesSync(mirror)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(properties))
	assert.Equal(t, "x", properties[0].Name())
	assert.Equal(t, "hello", properties[0].Mirror().Text())
	// 内联下发的字面量不触发网络请求
	assert.Equal(t, "y", properties[1].Name())
	assert.Equal(t, "3", properties[1].Mirror().Text())

	// 只有缺失的ref触发了一次lookup
	assert.Equal(t, 1, transport.requestCount())
	args := protocol.LookupArguments{}
	assert.Nil(t, json.Unmarshal(transport.requestAt(0).Arguments, &args))
	assert.Equal(t, []int64{55517}, args.Handles)
}

func TestMirrorCacheSubpropertiesLoadsLazyObject(t *testing.T) {
	cache, correlator, transport := newTestMirrorCache()
	transport.setOnSend(func(request sentRequest) {
		lookupReply(correlator, request,
			`{"21":{"handle":21,"type":"object","properties":[{"name":"a","value":{"handle":22,"type":"number","value":1}}]}}`)
	})

	// 复合类型但属性还没下发，需要先按自身handle加载
	mirror := cache.AddData(&protocol.ValueRecord{Handle: 21, Type: "object", ClassName: "Object"})
	properties, err := cache.SubpropertiesSync(mirror)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(properties))
	assert.Equal(t, "a", properties[0].Name())
	assert.Equal(t, "1", properties[0].Mirror().Text())
	assert.Equal(t, 1, transport.requestCount())
}

func TestMirrorCacheSubpropertiesOfAnonymousScalar(t *testing.T) {
	cache, _, transport := newTestMirrorCache()
	mirror := cache.AddData(&protocol.ValueRecord{Type: "number", Value: json.RawMessage(`3`)})

	properties, err := cache.SubpropertiesSync(mirror)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(properties))
	assert.Equal(t, 0, transport.requestCount())
}

func TestMirrorCacheNumericPropertyNames(t *testing.T) {
	cache, _, _ := newTestMirrorCache()

	// 数组元素的name是数字
	mirror := cache.AddData(&protocol.ValueRecord{
		Handle: 30,
		Type:   "array",
		Properties: []protocol.PropertyRecord{
			{Name: json.RawMessage(`0`), Value: &protocol.ValueRecord{Type: "string", Text: "first"}},
			{Name: json.RawMessage(`1`), Value: &protocol.ValueRecord{Type: "string", Text: "second"}},
		},
	})
	properties, err := cache.SubpropertiesSync(mirror)
	assert.Nil(t, err)
	assert.Equal(t, "0", properties[0].Name())
	assert.Equal(t, "1", properties[1].Name())
}
