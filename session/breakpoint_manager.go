package session

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/fansqz/v8-debug-client/constants"
	e "github.com/fansqz/v8-debug-client/error"
	"github.com/fansqz/v8-debug-client/protocol"
	"github.com/fansqz/v8-debug-client/utils"
	"github.com/sirupsen/logrus"
)

// BreakpointCallback 断点操作回调
type BreakpointCallback func(breakpoint *Breakpoint, err error)

// BreakpointManager 断点管理器
// 维护所有已知断点，负责create/change/clear三种round-trip，
// 并通过reload与服务端的断点列表对账（恢复其他客户端的带外修改）
type BreakpointManager struct {
	correlator *RequestCorrelator

	lock        sync.Mutex
	nextLocalID int64
	breakpoints map[int64]*Breakpoint
	byRemote    map[int64]*Breakpoint
}

func NewBreakpointManager(correlator *RequestCorrelator) *BreakpointManager {
	return &BreakpointManager{
		correlator:  correlator,
		breakpoints: make(map[int64]*Breakpoint),
		byRemote:    make(map[int64]*Breakpoint),
	}
}

// Breakpoints 所有已知的断点
func (m *BreakpointManager) Breakpoints() []*Breakpoint {
	m.lock.Lock()
	defer m.lock.Unlock()
	answer := make([]*Breakpoint, 0, len(m.breakpoints))
	for _, breakpoint := range m.breakpoints {
		answer = append(answer, breakpoint)
	}
	return answer
}

// ByRemoteID 根据服务端断点id查找本地记录
func (m *BreakpointManager) ByRemoteID(remoteID int64) (*Breakpoint, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	breakpoint, ok := m.byRemote[remoteID]
	return breakpoint, ok
}

// Create 创建断点
// 本地记录立即建立并进入PendingCreate，创建应答返回后记录服务端id并进入Active；
// 创建失败时记录被丢弃，通过callback报告失败
func (m *BreakpointManager) Create(targetType constants.BreakpointTargetType, target string,
	line, column int, enabled bool, condition string, ignoreCount int,
	callback BreakpointCallback, done chan struct{}) *Breakpoint {
	m.lock.Lock()
	m.nextLocalID++
	breakpoint := newBreakpoint(m, m.nextLocalID, targetType, target, line, column,
		enabled, condition, ignoreCount)
	breakpoint.state = BreakpointPendingCreate
	m.breakpoints[breakpoint.localID] = breakpoint
	m.lock.Unlock()

	args := &protocol.SetBreakpointArguments{
		Type:        targetType,
		Target:      target,
		Line:        line,
		Column:      column,
		Enabled:     enabled,
		Condition:   condition,
		IgnoreCount: ignoreCount,
	}
	_, err := m.correlator.Send(constants.SetBreakpointCommand, args, func(body json.RawMessage, err error) {
		m.onCreateReply(breakpoint, body, err, callback)
	}, done)
	if err != nil {
		// 发送失败时correlator不触发任何回调，这里是唯一的报告路径
		m.discard(breakpoint)
		if callback != nil {
			callback(nil, err)
		}
		fireDone(done)
	}
	return breakpoint
}

// onCreateReply 处理创建应答
func (m *BreakpointManager) onCreateReply(breakpoint *Breakpoint, body json.RawMessage,
	err error, callback BreakpointCallback) {
	if err != nil {
		m.discard(breakpoint)
		if callback != nil {
			callback(nil, err)
		}
		return
	}
	setBody := &protocol.SetBreakpointBody{}
	if perr := json.Unmarshal(body, setBody); perr != nil {
		m.discard(breakpoint)
		if callback != nil {
			callback(nil, e.NewProtocolError("invalid setbreakpoint body: %v", perr))
		}
		return
	}
	m.lock.Lock()
	breakpoint.remoteID = setBody.Breakpoint
	breakpoint.hasRemoteID = true
	breakpoint.state = BreakpointActive
	m.byRemote[breakpoint.remoteID] = breakpoint
	m.lock.Unlock()
	if callback != nil {
		callback(breakpoint, nil)
	}
}

// Flush 把断点的所有脏字段合并成一条change命令下发
// 没有脏字段时同步成功且不产生任何报文；
// remoteID未分配（创建还没完成）时直接失败，调用方需要等创建结束
func (m *BreakpointManager) Flush(breakpoint *Breakpoint, callback BreakpointCallback, done chan struct{}) {
	m.lock.Lock()
	if breakpoint.dirty.Empty() {
		m.lock.Unlock()
		if callback != nil {
			callback(breakpoint, nil)
		}
		fireDone(done)
		return
	}
	if !breakpoint.hasRemoteID {
		m.lock.Unlock()
		if callback != nil {
			callback(breakpoint, e.ErrBreakpointNotCreated)
		}
		fireDone(done)
		return
	}
	// 快照本次下发的字段值，成功后只清值仍与快照一致的脏位，
	// 飞行期间的新修改（包括同一字段改成新值）保持脏，下次flush再下发
	args := &protocol.ChangeBreakpointArguments{Breakpoint: breakpoint.remoteID}
	for _, field := range breakpoint.dirty.Values() {
		switch field {
		case FieldEnabled:
			enabled := breakpoint.enabled
			args.Enabled = &enabled
		case FieldCondition:
			condition := breakpoint.condition
			args.Condition = &condition
		case FieldIgnoreCount:
			ignoreCount := breakpoint.ignoreCount
			args.IgnoreCount = &ignoreCount
		}
	}
	breakpoint.state = BreakpointPendingFlush
	m.lock.Unlock()

	_, err := m.correlator.Send(constants.ChangeBreakpointCommand, args, func(body json.RawMessage, err error) {
		m.lock.Lock()
		breakpoint.state = BreakpointActive
		if err == nil {
			if args.Enabled != nil && breakpoint.enabled == *args.Enabled {
				breakpoint.dirty.Remove(FieldEnabled)
			}
			if args.Condition != nil && breakpoint.condition == *args.Condition {
				breakpoint.dirty.Remove(FieldCondition)
			}
			if args.IgnoreCount != nil && breakpoint.ignoreCount == *args.IgnoreCount {
				breakpoint.dirty.Remove(FieldIgnoreCount)
			}
		}
		m.lock.Unlock()
		if callback != nil {
			callback(breakpoint, err)
		}
	}, done)
	if err != nil {
		m.lock.Lock()
		breakpoint.state = BreakpointActive
		m.lock.Unlock()
		if callback != nil {
			callback(breakpoint, err)
		}
		fireDone(done)
	}
}

// Clear 删除断点
// 成功后记录进入终态Cleared并从已知集合移除；失败时记录保持Active
func (m *BreakpointManager) Clear(breakpoint *Breakpoint, callback BreakpointCallback, done chan struct{}) {
	m.lock.Lock()
	if !breakpoint.hasRemoteID {
		m.lock.Unlock()
		if callback != nil {
			callback(breakpoint, e.ErrBreakpointNotCreated)
		}
		fireDone(done)
		return
	}
	remoteID := breakpoint.remoteID
	breakpoint.state = BreakpointPendingClear
	m.lock.Unlock()

	args := &protocol.ClearBreakpointArguments{Breakpoint: remoteID}
	_, err := m.correlator.Send(constants.ClearBreakpointCommand, args, func(body json.RawMessage, err error) {
		m.lock.Lock()
		if err == nil {
			breakpoint.state = BreakpointCleared
			delete(m.breakpoints, breakpoint.localID)
			delete(m.byRemote, remoteID)
		} else {
			breakpoint.state = BreakpointActive
		}
		m.lock.Unlock()
		if callback != nil {
			callback(breakpoint, err)
		}
	}, done)
	if err != nil {
		m.lock.Lock()
		breakpoint.state = BreakpointActive
		m.lock.Unlock()
		if callback != nil {
			callback(breakpoint, err)
		}
		fireDone(done)
	}
}

// Reload 与服务端断点列表对账
// 服务端不存在的本地记录按已删除处理；服务端多出的断点重建本地记录；
// 两边都有的记录以服务端为准，本地脏位清空
func (m *BreakpointManager) Reload(callback func(err error), done chan struct{}) {
	_, err := m.correlator.Send(constants.ListBreakpointsCommand, nil, func(body json.RawMessage, err error) {
		if err != nil {
			if callback != nil {
				callback(err)
			}
			return
		}
		listBody := &protocol.ListBreakpointsBody{}
		if perr := json.Unmarshal(body, listBody); perr != nil {
			if callback != nil {
				callback(e.NewProtocolError("invalid listbreakpoints body: %v", perr))
			}
			return
		}
		m.reconcile(listBody.Breakpoints)
		if callback != nil {
			callback(nil)
		}
	}, done)
	if err != nil {
		if callback != nil {
			callback(err)
		}
		fireDone(done)
	}
}

// reconcile 按服务端的断点列表重建本地记录
func (m *BreakpointManager) reconcile(records []protocol.BreakpointRecord) {
	remoteIDs := make([]interface{}, 0, len(records))
	for _, record := range records {
		remoteIDs = append(remoteIDs, record.Number)
	}
	remoteSet := utils.List2set(remoteIDs)

	m.lock.Lock()
	defer m.lock.Unlock()
	// 本地有、服务端没有的断点视为已被带外删除
	for localID, breakpoint := range m.breakpoints {
		if !breakpoint.hasRemoteID {
			continue
		}
		if !remoteSet.Contains(breakpoint.remoteID) {
			logrus.Infof("[BreakpointManager] breakpoint %d removed out of band", breakpoint.remoteID)
			breakpoint.state = BreakpointCleared
			delete(m.breakpoints, localID)
			delete(m.byRemote, breakpoint.remoteID)
		}
	}
	for _, record := range records {
		if breakpoint, ok := m.byRemote[record.Number]; ok {
			// 以服务端状态为准
			breakpoint.enabled = record.Enabled
			breakpoint.condition = record.Condition
			breakpoint.ignoreCount = record.IgnoreCount
			breakpoint.dirty.Clear()
			continue
		}
		// 其他客户端创建的断点，重建本地记录
		m.nextLocalID++
		breakpoint := newBreakpoint(m, m.nextLocalID, targetTypeOfRecord(&record),
			targetOfRecord(&record), record.Line, record.Column,
			record.Enabled, record.Condition, record.IgnoreCount)
		breakpoint.remoteID = record.Number
		breakpoint.hasRemoteID = true
		breakpoint.state = BreakpointActive
		m.breakpoints[breakpoint.localID] = breakpoint
		m.byRemote[record.Number] = breakpoint
	}
}

// discard 丢弃一个创建失败的记录
func (m *BreakpointManager) discard(breakpoint *Breakpoint) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.breakpoints, breakpoint.localID)
}

// targetTypeOfRecord 服务端断点记录的目标类型
func targetTypeOfRecord(record *protocol.BreakpointRecord) constants.BreakpointTargetType {
	switch record.Type {
	case "scriptId":
		return constants.TargetScriptID
	case "function":
		return constants.TargetFunction
	default:
		return constants.TargetScriptName
	}
}

// targetOfRecord 服务端断点记录的目标
func targetOfRecord(record *protocol.BreakpointRecord) string {
	if record.ScriptName != "" {
		return record.ScriptName
	}
	if record.ScriptID != 0 {
		return strconv.FormatInt(record.ScriptID, 10)
	}
	return ""
}

// fireDone 触发可选的完成信号
func fireDone(done chan struct{}) {
	if done != nil {
		close(done)
	}
}
