// =============================================================================
// CrewFlow 命令行入口
// =============================================================================
// 从 YAML 文档构建 Crew 与 Flow 并执行
//
// 使用方法:
//
//	crewflow run crew --file crews.yaml --crew research --input topic=Go
//	crewflow run flow --file flow.yaml --flow publish --var draft_count=0
//	crewflow validate --file flow.yaml --input topic=Go
//	crewflow version
// =============================================================================
package main

import (
	"fmt"
	"os"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
