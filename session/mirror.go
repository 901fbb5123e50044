package session

import (
	"github.com/fansqz/v8-debug-client/constants"
)

// ValueMirror 远程值在本地的缓存快照
// 同一个暂停周期内，一个handle只会对应一个mirror实例（引用相等性），
// 缓存只会合并新解析出的属性，不会替换已有实例
type ValueMirror struct {
	cache      *MirrorCache
	handle     int64
	generation int64
	valueType  constants.ValueType
	text       string
	className  string
	// props 属性来源，nil表示还没有从服务端拿到属性信息
	props *SubpropertiesSource
}

// Handle 远程对象句柄，0表示协议内联下发的匿名值
func (m *ValueMirror) Handle() int64 {
	return m.handle
}

// Type 值类型
func (m *ValueMirror) Type() constants.ValueType {
	return m.valueType
}

// Text 值的文本表示
// 周期结束后仍然可以读取最后一次已知的值，只是不能再发起懒加载
func (m *ValueMirror) Text() string {
	return m.text
}

// ClassName 对象的类名
func (m *ValueMirror) ClassName() string {
	return m.className
}

// Generation 该mirror所属的暂停周期
func (m *ValueMirror) Generation() int64 {
	return m.generation
}

// HasProperties 是否已经拿到属性列表
func (m *ValueMirror) HasProperties() bool {
	return m.props != nil
}

// SubpropertiesKind 属性来源类型
type SubpropertiesKind int

const (
	// SubpropertiesEager 协议已经下发了有序的属性列表
	SubpropertiesEager SubpropertiesKind = iota
	// SubpropertiesLazy 属性需要按对象自身的handle懒加载
	SubpropertiesLazy
)

// SubpropertiesSource 属性来源
// 两种形态的显式标签变体：eager的有序属性列表，或者按handle懒加载
type SubpropertiesSource struct {
	kind SubpropertiesKind
	list []*PropertyReference
}

// Kind 属性来源类型
func (s *SubpropertiesSource) Kind() SubpropertiesKind {
	return s.kind
}

// PropertyReference 对象属性
// 属性值可能已经内联解析（mirror不为nil），也可能只持有handle需要后续lookup
type PropertyReference struct {
	name   string
	ref    int64
	mirror *ValueMirror
}

// Name 属性名
func (p *PropertyReference) Name() string {
	return p.name
}

// Ref 属性值的句柄
func (p *PropertyReference) Ref() int64 {
	return p.ref
}

// Resolved 属性值是否已经解析
func (p *PropertyReference) Resolved() bool {
	return p.mirror != nil
}

// Mirror 属性值，未解析时返回nil
func (p *PropertyReference) Mirror() *ValueMirror {
	return p.mirror
}
