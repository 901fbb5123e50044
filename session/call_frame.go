package session

import (
	"github.com/fansqz/v8-debug-client/constants"
	e "github.com/fansqz/v8-debug-client/error"
	"github.com/fansqz/v8-debug-client/protocol"
)

// CallFrame 暂停时的栈帧快照
// 每次暂停事件构建一次，只在构建它的暂停周期内有效，
// 周期推进后任何访问都返回ErrStaleReference而不是静默返回旧数据
type CallFrame struct {
	session    *DebugSession
	generation int64

	index        int
	functionName string
	scriptName   string
	line         int
	column       int
	text         string
	scopes       []*Scope
}

// newCallFrame 从backtrace返回的栈帧记录构建快照
func newCallFrame(session *DebugSession, generation int64, record *protocol.FrameRecord) *CallFrame {
	frame := &CallFrame{
		session:      session,
		generation:   generation,
		index:        record.Index,
		functionName: record.Func.Name,
		scriptName:   record.Script.Name,
		line:         record.Line,
		column:       record.Column,
		text:         record.Text,
	}
	for i := range record.Scopes {
		scopeRecord := &record.Scopes[i]
		frame.scopes = append(frame.scopes, &Scope{
			frame:     frame,
			scopeType: constants.ScopeType(scopeRecord.Type),
			index:     scopeRecord.Index,
			object:    session.mirrors.AddData(&scopeRecord.Object),
		})
	}
	return frame
}

// checkValid 校验快照是否仍属于当前暂停周期
func (f *CallFrame) checkValid() error {
	if f.session.currentGeneration() != f.generation {
		return e.ErrStaleReference
	}
	return nil
}

// Index 栈帧序号，0为最内层
func (f *CallFrame) Index() int {
	return f.index
}

// FunctionName 函数名，匿名函数为空
func (f *CallFrame) FunctionName() string {
	return f.functionName
}

// ScriptName 脚本名称
func (f *CallFrame) ScriptName() string {
	return f.scriptName
}

// Line 源码行号
func (f *CallFrame) Line() int {
	return f.line
}

// Column 源码列号
func (f *CallFrame) Column() int {
	return f.column
}

// Text 栈帧的文本描述
func (f *CallFrame) Text() string {
	return f.text
}

// Scopes 作用域链，内层作用域在前
func (f *CallFrame) Scopes() ([]*Scope, error) {
	if err := f.checkValid(); err != nil {
		return nil, err
	}
	return f.scopes, nil
}

// LookupVariable 按名称查找变量
// 从最内层作用域向外扫描，返回第一个命中（外层同名变量被遮蔽）。
// 所有作用域都没有该名称不算错误，found返回false
func (f *CallFrame) LookupVariable(name string) (mirror *ValueMirror, found bool, err error) {
	if err := f.checkValid(); err != nil {
		return nil, false, err
	}
	for _, scope := range f.scopes {
		properties, err := f.session.mirrors.SubpropertiesSync(scope.object)
		if err != nil {
			return nil, false, err
		}
		for _, property := range properties {
			if property.Name() == name {
				return property.Mirror(), true, nil
			}
		}
	}
	return nil, false, nil
}

// Scope 栈帧作用域，变量通过MirrorCache懒加载
type Scope struct {
	frame     *CallFrame
	scopeType constants.ScopeType
	index     int
	object    *ValueMirror
}

// Type 作用域类型
func (s *Scope) Type() constants.ScopeType {
	return s.scopeType
}

// Object 作用域对象的mirror
func (s *Scope) Object() *ValueMirror {
	return s.object
}

// Variables 作用域内的变量列表，同步等待懒加载完成
func (s *Scope) Variables() ([]*PropertyReference, error) {
	if err := s.frame.checkValid(); err != nil {
		return nil, err
	}
	return s.frame.session.mirrors.SubpropertiesSync(s.object)
}
