// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package dsl 从 YAML 文档构建 Crew 与 Flow.

文档包含 variables、agents、tasks、crews、flows 五个部分. 文本字段中的
{var} 占位符在构建时由文档默认值与调用方输入替换, 未知占位符原样保留,
留给 Kickoff 的运行时输入.

转移条件使用紧凑表达式, 例如:

	success && output_contains("APPROVED")
	failure || vars.retries == 3
	!(vars.mode != "fast")

Validator 一次性报告文档中的全部问题, Parser 在校验通过后构建
crews.Crew 与 workflow.Flow.
*/
package dsl
