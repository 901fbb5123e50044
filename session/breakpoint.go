package session

import (
	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
	"github.com/fansqz/v8-debug-client/constants"
)

// BreakpointState 断点状态机
// Uncreated → PendingCreate → Active ⇄ PendingFlush，Active → PendingClear → Cleared
type BreakpointState string

const (
	// BreakpointUncreated 本地记录刚建立，还未发送创建命令
	BreakpointUncreated BreakpointState = "uncreated"
	// BreakpointPendingCreate 创建命令已发出，等待服务端分配断点id
	BreakpointPendingCreate BreakpointState = "pendingCreate"
	// BreakpointActive 服务端已确认的断点
	BreakpointActive BreakpointState = "active"
	// BreakpointPendingFlush 修改命令已发出，等待确认
	BreakpointPendingFlush BreakpointState = "pendingFlush"
	// BreakpointPendingClear 删除命令已发出，等待确认
	BreakpointPendingClear BreakpointState = "pendingClear"
	// BreakpointCleared 终态，记录已从已知集合移除
	BreakpointCleared BreakpointState = "cleared"
)

// 可修改字段的脏标记名
const (
	FieldEnabled     = "enabled"
	FieldCondition   = "condition"
	FieldIgnoreCount = "ignoreCount"
)

// Breakpoint 本地断点记录
// 本地修改只打脏标记不发报文，flush时把所有脏字段合并成一条change命令。
// remoteID在创建应答返回前为空，此时flush会失败
type Breakpoint struct {
	manager *BreakpointManager

	localID     int64
	remoteID    int64
	hasRemoteID bool

	targetType constants.BreakpointTargetType
	target     string
	line       int
	column     int

	enabled     bool
	condition   string
	ignoreCount int

	state BreakpointState
	dirty sets.Set
}

func newBreakpoint(manager *BreakpointManager, localID int64,
	targetType constants.BreakpointTargetType, target string, line, column int,
	enabled bool, condition string, ignoreCount int) *Breakpoint {
	return &Breakpoint{
		manager:     manager,
		localID:     localID,
		targetType:  targetType,
		target:      target,
		line:        line,
		column:      column,
		enabled:     enabled,
		condition:   condition,
		ignoreCount: ignoreCount,
		state:       BreakpointUncreated,
		dirty:       hashset.New(),
	}
}

// LocalID 本地id，记录建立时就分配
func (b *Breakpoint) LocalID() int64 {
	return b.localID
}

// RemoteID 服务端分配的断点id，创建完成前second返回false
func (b *Breakpoint) RemoteID() (int64, bool) {
	b.manager.lock.Lock()
	defer b.manager.lock.Unlock()
	return b.remoteID, b.hasRemoteID
}

// Target 断点目标
func (b *Breakpoint) Target() (constants.BreakpointTargetType, string) {
	return b.targetType, b.target
}

// Line 断点行号
func (b *Breakpoint) Line() int {
	return b.line
}

// Column 断点列号
func (b *Breakpoint) Column() int {
	return b.column
}

// State 当前状态
func (b *Breakpoint) State() BreakpointState {
	b.manager.lock.Lock()
	defer b.manager.lock.Unlock()
	return b.state
}

// IsEnabled 本地视角的启用状态，可能还未flush到服务端
func (b *Breakpoint) IsEnabled() bool {
	b.manager.lock.Lock()
	defer b.manager.lock.Unlock()
	return b.enabled
}

// Condition 本地视角的条件表达式
func (b *Breakpoint) Condition() string {
	b.manager.lock.Lock()
	defer b.manager.lock.Unlock()
	return b.condition
}

// IgnoreCount 本地视角的忽略次数
func (b *Breakpoint) IgnoreCount() int {
	b.manager.lock.Lock()
	defer b.manager.lock.Unlock()
	return b.ignoreCount
}

// SetEnabled 纯本地修改，打脏标记，不产生报文
// PendingCreate期间也允许修改，创建完成后由flush统一下发
func (b *Breakpoint) SetEnabled(enabled bool) {
	b.manager.lock.Lock()
	defer b.manager.lock.Unlock()
	if b.enabled != enabled {
		b.enabled = enabled
		b.dirty.Add(FieldEnabled)
	}
}

// SetCondition 纯本地修改，打脏标记，不产生报文
func (b *Breakpoint) SetCondition(condition string) {
	b.manager.lock.Lock()
	defer b.manager.lock.Unlock()
	if b.condition != condition {
		b.condition = condition
		b.dirty.Add(FieldCondition)
	}
}

// SetIgnoreCount 纯本地修改，打脏标记，不产生报文
func (b *Breakpoint) SetIgnoreCount(ignoreCount int) {
	b.manager.lock.Lock()
	defer b.manager.lock.Unlock()
	if b.ignoreCount != ignoreCount {
		b.ignoreCount = ignoreCount
		b.dirty.Add(FieldIgnoreCount)
	}
}

// IsDirty 是否存在未下发的修改
func (b *Breakpoint) IsDirty() bool {
	b.manager.lock.Lock()
	defer b.manager.lock.Unlock()
	return !b.dirty.Empty()
}

// Flush 把脏字段下发到服务端，见BreakpointManager.Flush
func (b *Breakpoint) Flush(callback BreakpointCallback, done chan struct{}) {
	b.manager.Flush(b, callback, done)
}

// Clear 删除断点，见BreakpointManager.Clear
func (b *Breakpoint) Clear(callback BreakpointCallback, done chan struct{}) {
	b.manager.Clear(b, callback, done)
}
