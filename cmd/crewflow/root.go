package main

import (
	"fmt"
	"io"

	"github.com/BaSui01/crewflow/config"
	"github.com/BaSui01/crewflow/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Banner 版本信息横幅
const Banner = `
  ___                 ___ _
 / __|_ _ _____ __ __| __| |_____ __ __
| (__| '_/ -_) V  V /| _|| / _ \ V  V /
 \___|_| \___|\_/\_/ |_| |_\___/\_/\_/  %s
`

type rootOptions struct {
	configPath string
	debug      bool
	quiet      bool
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "crewflow",
		Short: "多智能体 Crew 与 Flow 编排引擎",
		Long: `CrewFlow 按 YAML 文档组建智能体团队 (Crew), 以顺序、并行或层级流程执行任务,
并通过状态机 (Flow) 串联多个 Crew.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "输出调试日志")
	rootCmd.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "只输出错误日志")

	rootCmd.AddCommand(
		newRunCommand(opts),
		newValidateCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

// loadConfig 加载配置: 默认值 → 配置文件 → CREWFLOW_ 环境变量 → 命令行开关
func (o *rootOptions) loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if o.configPath != "" {
		loader = loader.WithConfigPath(o.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	switch {
	case o.debug:
		cfg.Log.Level = "debug"
	case o.quiet:
		cfg.Log.Level = "error"
	}
	return cfg, nil
}

// newLogger 日志写到 stderr, stdout 留给运行结果
func (o *rootOptions) newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.NewWithWriter(cfg.Log, o.stderr)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}
