package scriptutil

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// FunctionInfo 脚本中一个函数定义的位置信息
type FunctionInfo struct {
	Name   string `json:"name"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// AnalyzeFunctions 静态分析js脚本，提取函数定义列表
// 函数名断点需要通过它把函数名换算成脚本位置
func AnalyzeFunctions(content []byte) ([]FunctionInfo, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, err
	}
	return analyzeFunctions(tree.RootNode(), content), nil
}

// analyzeFunctions 遍历语法树，收集函数定义
func analyzeFunctions(rootNode *sitter.Node, content []byte) []FunctionInfo {
	var functions []FunctionInfo

	// 使用栈来手动管理节点遍历
	stack := []*sitter.Node{rootNode}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch node.Type() {
		case "function_declaration", "method_definition", "generator_function_declaration":
			nameNode := node.ChildByFieldName("name")
			if nameNode != nil {
				functions = append(functions, FunctionInfo{
					Name:   nameNode.Content(content),
					Line:   int(node.StartPoint().Row),
					Column: int(node.StartPoint().Column),
				})
			}
		case "variable_declarator":
			// var f = function() {...} 和箭头函数
			valueNode := node.ChildByFieldName("value")
			nameNode := node.ChildByFieldName("name")
			if nameNode != nil && valueNode != nil &&
				(valueNode.Type() == "function_expression" || valueNode.Type() == "function" ||
					valueNode.Type() == "arrow_function") {
				functions = append(functions, FunctionInfo{
					Name:   nameNode.Content(content),
					Line:   int(node.StartPoint().Row),
					Column: int(node.StartPoint().Column),
				})
			}
		}

		for i := 0; i < int(node.ChildCount()); i++ {
			stack = append(stack, node.Child(i))
		}
	}
	return functions
}

// FindFunction 在分析结果中查找函数位置
func FindFunction(functions []FunctionInfo, name string) (FunctionInfo, bool) {
	for _, function := range functions {
		if function.Name == name {
			return function, true
		}
	}
	return FunctionInfo{}, false
}
