// Package dsl 提供声明式工作流使用的表达式语言：
// 条件与取值表达式（比较、逻辑、算术、点路径变量、内置函数），
// 以及 ${expr} 模板渲染。变量通过 Resolver 按需解析。
package dsl
