package session

import (
	"encoding/json"
	"sync"

	"github.com/fansqz/v8-debug-client/constants"
	e "github.com/fansqz/v8-debug-client/error"
	"github.com/fansqz/v8-debug-client/protocol"
	"github.com/sirupsen/logrus"
)

// MirrorCache 远程对象镜像缓存
// 按handle维护当前暂停周期内的值快照。周期推进时整体作废（epoch式失效），
// 不做逐对象清理，远程对象图带环也不会有悬挂引用问题。
// 同一个handle的并发懒加载会合并成一次lookup请求，所有等待方拿到同一个mirror实例
type MirrorCache struct {
	correlator *RequestCorrelator

	lock       sync.Mutex
	generation int64
	mirrors    map[int64]*ValueMirror
	// pendingLookups 每个handle当前未完成的lookup等待队列
	pendingLookups map[int64][]lookupWaiter
}

// lookupWaiter 懒加载结果回调
type lookupWaiter func(mirror *ValueMirror, err error)

func NewMirrorCache(correlator *RequestCorrelator) *MirrorCache {
	return &MirrorCache{
		correlator:     correlator,
		mirrors:        make(map[int64]*ValueMirror),
		pendingLookups: make(map[int64][]lookupWaiter),
	}
}

// Generation 当前暂停周期
func (c *MirrorCache) Generation() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.generation
}

// advance 推进暂停周期
// 旧周期的缓存直接丢弃，未完成的懒加载全部以ErrStaleReference结束
func (c *MirrorCache) advance(generation int64) {
	c.lock.Lock()
	c.generation = generation
	c.mirrors = make(map[int64]*ValueMirror)
	orphans := c.pendingLookups
	c.pendingLookups = make(map[int64][]lookupWaiter)
	c.lock.Unlock()

	for _, waiters := range orphans {
		for _, waiter := range waiters {
			waiter(nil, e.ErrStaleReference)
		}
	}
}

// AddData 把协议下发的值记录写入缓存
// 同一个周期内同一个handle已经有mirror时，合并新属性并返回已有实例，不替换
func (c *MirrorCache) AddData(record *protocol.ValueRecord) *ValueMirror {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.addDataLocked(record)
}

func (c *MirrorCache) addDataLocked(record *protocol.ValueRecord) *ValueMirror {
	handle := record.HandleOrRef()
	if handle == 0 {
		// 没有handle的内联标量，不进缓存
		return &ValueMirror{
			cache:      c,
			generation: c.generation,
			valueType:  record.Type,
			text:       record.TextValue(),
			className:  record.ClassName,
		}
	}
	mirror := c.mirrors[handle]
	if mirror == nil {
		mirror = &ValueMirror{
			cache:      c,
			handle:     handle,
			generation: c.generation,
			valueType:  record.Type,
			text:       record.TextValue(),
			className:  record.ClassName,
		}
		if !record.Type.IsScalar() && len(record.Properties) == 0 {
			// 复合类型但属性还没下发，按自身handle懒加载
			mirror.props = &SubpropertiesSource{kind: SubpropertiesLazy}
		}
		c.mirrors[handle] = mirror
	} else {
		// 标量值首次下发后不再变化，只补充此前缺失的信息
		if mirror.text == "" {
			mirror.text = record.TextValue()
		}
		if mirror.valueType == "" {
			mirror.valueType = record.Type
		}
	}
	if len(record.Properties) > 0 && (mirror.props == nil || mirror.props.kind == SubpropertiesLazy) {
		// 已解析的属性只增不减，列表只会从懒加载升级成eager，不会回退
		list := make([]*PropertyReference, 0, len(record.Properties))
		for i := range record.Properties {
			p := &record.Properties[i]
			property := &PropertyReference{name: p.PropertyName(), ref: p.Ref}
			if p.Value != nil {
				property.mirror = c.addDataLocked(p.Value)
				if property.ref == 0 {
					property.ref = property.mirror.handle
				}
			}
			list = append(list, property)
		}
		mirror.props = &SubpropertiesSource{kind: SubpropertiesEager, list: list}
	}
	return mirror
}

// Resolve 查询缓存，不触发网络请求
func (c *MirrorCache) Resolve(handle int64) (*ValueMirror, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	mirror, ok := c.mirrors[handle]
	return mirror, ok
}

// Lookup 按handle解析远程对象，缓存命中时同步回调
// 同一个handle的并发Lookup只会发出一次lookup命令
func (c *MirrorCache) Lookup(handle int64, callback func(*ValueMirror, error)) {
	c.lookup([]int64{handle}, func(h int64, mirror *ValueMirror, err error) {
		callback(mirror, err)
	})
}

// LookupSync Lookup的同步版本
func (c *MirrorCache) LookupSync(handle int64) (*ValueMirror, error) {
	if c.correlator.onDispatcher() {
		return nil, e.ErrWouldDeadlock
	}
	var (
		result *ValueMirror
		rerr   error
	)
	done := make(chan struct{})
	c.Lookup(handle, func(mirror *ValueMirror, err error) {
		result = mirror
		rerr = err
		close(done)
	})
	<-done
	return result, rerr
}

// lookup 批量懒加载，首次请求的handle合并进同一条lookup命令
func (c *MirrorCache) lookup(handles []int64, callback func(handle int64, mirror *ValueMirror, err error)) {
	type hit struct {
		handle int64
		mirror *ValueMirror
	}
	var (
		hits   []hit
		toSend []int64
	)
	c.lock.Lock()
	generation := c.generation
	for _, handle := range handles {
		if mirror := c.mirrors[handle]; mirror != nil {
			hits = append(hits, hit{handle: handle, mirror: mirror})
			continue
		}
		h := handle
		if _, pending := c.pendingLookups[h]; !pending {
			toSend = append(toSend, h)
		}
		c.pendingLookups[h] = append(c.pendingLookups[h], func(mirror *ValueMirror, err error) {
			callback(h, mirror, err)
		})
	}
	c.lock.Unlock()

	for _, h := range hits {
		callback(h.handle, h.mirror, nil)
	}
	if len(toSend) == 0 {
		return
	}
	args := &protocol.LookupArguments{Handles: toSend, InlineRefs: true}
	_, err := c.correlator.Send(constants.LookupCommand, args, func(body json.RawMessage, err error) {
		c.onLookupReply(generation, toSend, body, err)
	}, nil)
	if err != nil {
		c.failWaiters(generation, toSend, err)
	}
}

// onLookupReply 处理lookup应答，在派发协程上执行
func (c *MirrorCache) onLookupReply(generation int64, handles []int64, body json.RawMessage, err error) {
	if err != nil {
		c.failWaiters(generation, handles, err)
		return
	}
	records, perr := protocol.ParseLookupBody(body)
	if perr != nil {
		logrus.Warnf("[MirrorCache] invalid lookup body, err = %v", perr)
		c.failWaiters(generation, handles, e.NewProtocolError("invalid lookup body: %v", perr))
		return
	}

	type completion struct {
		waiter lookupWaiter
		mirror *ValueMirror
		err    error
	}
	var completions []completion
	c.lock.Lock()
	if c.generation != generation {
		// 过期应答，等待方已经在周期推进时被置失败
		c.lock.Unlock()
		return
	}
	for key := range records {
		record := records[key]
		c.addDataLocked(&record)
	}
	for _, handle := range handles {
		waiters := c.pendingLookups[handle]
		delete(c.pendingLookups, handle)
		mirror := c.mirrors[handle]
		var werr error
		if mirror == nil {
			werr = e.NewProtocolError("lookup reply has no record for handle %d", handle)
		}
		for _, waiter := range waiters {
			completions = append(completions, completion{waiter: waiter, mirror: mirror, err: werr})
		}
	}
	c.lock.Unlock()

	for _, completed := range completions {
		completed.waiter(completed.mirror, completed.err)
	}
}

// refresh 强制向服务端查询一个handle，即使缓存里已经有它的mirror
// 懒加载的对象自身已经在缓存里，补属性必须绕过缓存命中。
// 并发的refresh仍然合并成一次lookup
func (c *MirrorCache) refresh(handle int64, callback func(*ValueMirror, error)) {
	c.lock.Lock()
	generation := c.generation
	_, pending := c.pendingLookups[handle]
	c.pendingLookups[handle] = append(c.pendingLookups[handle], callback)
	c.lock.Unlock()
	if pending {
		return
	}

	args := &protocol.LookupArguments{Handles: []int64{handle}, InlineRefs: true}
	_, err := c.correlator.Send(constants.LookupCommand, args, func(body json.RawMessage, err error) {
		c.onLookupReply(generation, []int64{handle}, body, err)
	}, nil)
	if err != nil {
		c.failWaiters(generation, []int64{handle}, err)
	}
}

// failWaiters 让一批handle的等待方以错误结束
func (c *MirrorCache) failWaiters(generation int64, handles []int64, err error) {
	var orphans []lookupWaiter
	c.lock.Lock()
	if c.generation == generation {
		for _, handle := range handles {
			orphans = append(orphans, c.pendingLookups[handle]...)
			delete(c.pendingLookups, handle)
		}
	}
	c.lock.Unlock()
	for _, waiter := range orphans {
		waiter(nil, err)
	}
}

// checkFresh 校验mirror是否属于当前暂停周期
func (c *MirrorCache) checkFresh(mirror *ValueMirror) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if mirror.generation != c.generation {
		return e.ErrStaleReference
	}
	return nil
}

// Subproperties 获取mirror的有序属性列表
// eager属性直接返回，未解析的属性句柄会合并成一次lookup；
// 懒加载的对象会先按自身handle查询。过期周期的mirror直接返回ErrStaleReference
func (c *MirrorCache) Subproperties(mirror *ValueMirror, callback func([]*PropertyReference, error)) {
	if err := c.checkFresh(mirror); err != nil {
		callback(nil, err)
		return
	}
	if mirror.props == nil || mirror.props.kind == SubpropertiesLazy {
		if mirror.handle == 0 {
			// 匿名标量没有属性
			callback(nil, nil)
			return
		}
		c.refresh(mirror.handle, func(m *ValueMirror, err error) {
			if err != nil {
				callback(nil, err)
				return
			}
			if m.props == nil || m.props.kind == SubpropertiesLazy {
				// 服务端没有返回属性，视为空对象
				callback(nil, nil)
				return
			}
			c.resolveProperties(m, callback)
		})
		return
	}
	c.resolveProperties(mirror, callback)
}

// SubpropertiesSync Subproperties的同步版本
func (c *MirrorCache) SubpropertiesSync(mirror *ValueMirror) ([]*PropertyReference, error) {
	if c.correlator.onDispatcher() {
		return nil, e.ErrWouldDeadlock
	}
	var (
		result []*PropertyReference
		rerr   error
	)
	done := make(chan struct{})
	c.Subproperties(mirror, func(properties []*PropertyReference, err error) {
		result = properties
		rerr = err
		close(done)
	})
	<-done
	return result, rerr
}

// resolveProperties 补齐属性列表中未解析的值
func (c *MirrorCache) resolveProperties(mirror *ValueMirror, callback func([]*PropertyReference, error)) {
	properties := mirror.props.list
	var missing []int64
	seen := map[int64]bool{}
	c.lock.Lock()
	for _, property := range properties {
		if property.mirror != nil {
			continue
		}
		if m := c.mirrors[property.ref]; m != nil {
			property.mirror = m
			continue
		}
		if !seen[property.ref] {
			seen[property.ref] = true
			missing = append(missing, property.ref)
		}
	}
	c.lock.Unlock()

	if len(missing) == 0 {
		callback(properties, nil)
		return
	}
	var (
		lock      sync.Mutex
		remaining = len(missing)
		firstErr  error
	)
	c.lookup(missing, func(handle int64, m *ValueMirror, err error) {
		if err == nil {
			// property.mirror的读写都走c.lock，和第一轮补齐用同一把锁
			c.lock.Lock()
			for _, property := range properties {
				if property.ref == handle && property.mirror == nil {
					property.mirror = m
				}
			}
			c.lock.Unlock()
		}
		lock.Lock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		remaining--
		finished := remaining == 0
		resultErr := firstErr
		lock.Unlock()
		if finished {
			if resultErr != nil {
				callback(nil, resultErr)
			} else {
				callback(properties, nil)
			}
		}
	})
}
