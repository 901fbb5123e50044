package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fansqz/v8-debug-client/constants"
)

// ValueRecord 协议下发的远程值记录
// Handle为远程对象句柄，只在当前暂停周期内有效
// Properties中的属性可能内联了值（Value不为nil），也可能只携带Ref句柄
type ValueRecord struct {
	Handle     int64               `json:"handle"`
	Ref        int64               `json:"ref"`
	Type       constants.ValueType `json:"type"`
	Value      json.RawMessage     `json:"value,omitempty"`
	Text       string              `json:"text,omitempty"`
	ClassName  string              `json:"className,omitempty"`
	Name       string              `json:"name,omitempty"`
	Length     int                 `json:"length,omitempty"`
	Properties []PropertyRecord    `json:"properties,omitempty"`
}

// PropertyRecord 对象属性记录
// Ref指向属性值的句柄；如果协议内联下发了值，Value不为nil
type PropertyRecord struct {
	Name  json.RawMessage `json:"name"`
	Ref   int64           `json:"ref"`
	Value *ValueRecord    `json:"value,omitempty"`
}

// PropertyName 属性名，数组元素的name是数字，统一转成字符串
func (p *PropertyRecord) PropertyName() string {
	var s string
	if err := json.Unmarshal(p.Name, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(p.Name, &n); err == nil {
		return fmt.Sprintf("%d", n)
	}
	return string(p.Name)
}

// TextValue 值的文本表示
// 标量值优先使用text字段，没有text时回退到value的原始json
func (v *ValueRecord) TextValue() string {
	if v.Text != "" {
		return v.Text
	}
	if v.Value != nil {
		return string(v.Value)
	}
	switch v.Type {
	case constants.ValueUndefined:
		return "undefined"
	case constants.ValueNull:
		return "null"
	}
	return ""
}

// HandleOrRef 记录自身的句柄，lookup应答用handle，内联引用用ref
func (v *ValueRecord) HandleOrRef() int64 {
	if v.Handle != 0 {
		return v.Handle
	}
	return v.Ref
}

// LookupBody lookup应答体，key为十进制的handle
type LookupBody map[string]ValueRecord

// ParseLookupBody 解析lookup应答体
func ParseLookupBody(raw json.RawMessage) (LookupBody, error) {
	body := LookupBody{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	return body, nil
}
