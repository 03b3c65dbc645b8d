package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BaSui01/crewflow/agent/crews"
	"github.com/BaSui01/crewflow/internal/jobs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type runOptions struct {
	*rootOptions

	file        string
	inputs      []string
	vars        []string
	output      string
	publish     bool
	timeout     time.Duration
	metricsFile string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "执行 Crew 或 Flow",
	}
	flags := runCmd.PersistentFlags()
	flags.StringVarP(&opts.file, "file", "f", "", "YAML 文档路径")
	flags.StringArrayVarP(&opts.inputs, "input", "i", nil, "输入变量 key=value, 可重复")
	flags.StringVarP(&opts.output, "output", "o", "text", "输出格式: text, json")
	flags.BoolVar(&opts.publish, "publish", false, "把结果投递到 Redis 结果队列")
	flags.DurationVar(&opts.timeout, "timeout", 0, "整次运行的超时, 0 表示不限制")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "以 Prometheus textfile 格式写出指标")
	_ = runCmd.MarkPersistentFlagRequired("file")

	crewCmd := &cobra.Command{
		Use:   "crew <crew-id>",
		Short: "启动一个 Crew",
		Example: `  crewflow run crew research --file crews.yaml --input topic="AI agents"
  crewflow run crew research -f crews.yaml -o json --publish`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.execute(cmd, jobs.KindCrew, args[0])
		},
	}

	flowCmd := &cobra.Command{
		Use:   "flow <flow-id>",
		Short: "运行一个 Flow",
		Example: `  crewflow run flow publish --file flow.yaml --input topic=Go --var revisions=0
  crewflow run flow publish -f flow.yaml --timeout 10m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.execute(cmd, jobs.KindFlow, args[0])
		},
	}
	flowCmd.Flags().StringArrayVar(&opts.vars, "var", nil, "Flow 变量初始值 key=value, 值按 YAML 标量解析")

	runCmd.AddCommand(crewCmd, flowCmd)
	return runCmd
}

func (o *runOptions) execute(cmd *cobra.Command, kind jobs.Kind, target string) error {
	if o.output != "text" && o.output != "json" {
		return fmt.Errorf("unknown output format %q", o.output)
	}
	inputs, err := parsePairs(o.inputs)
	if err != nil {
		return fmt.Errorf("--input: %w", err)
	}
	variables, err := parseVariables(o.vars)
	if err != nil {
		return fmt.Errorf("--var: %w", err)
	}

	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	logger, err := o.newLogger(cfg)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg, logger, engineOptions{needCache: o.publish})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Close(ctx); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "shutdown:", err)
		}
	}()

	bundle, err := eng.parser(inputs).ParseFile(o.file)
	if err != nil {
		return err
	}

	var sink jobs.ResultSink
	if o.publish {
		sink = jobs.NewRedisSink(eng.cache, cfg.Jobs, logger)
	}
	runner := jobs.NewRunner(bundle, sink, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	res, runErr := runner.Run(ctx, jobs.Job{
		Kind:      kind,
		Target:    target,
		Inputs:    inputs,
		Variables: variables,
	})
	if res != nil {
		if err := writeResult(cmd.OutOrStdout(), o.output, res); err != nil {
			return err
		}
	}
	if err := eng.writeMetrics(o.metricsFile); err != nil {
		logger.Warn("metrics not written", zap.Error(err))
	}

	if runErr != nil {
		return runErr
	}
	if !res.Success {
		return fmt.Errorf("%s %q finished with status %s", kind, target, res.Status)
	}
	return nil
}

// parsePairs 解析 key=value 列表
func parsePairs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

// parseVariables 同 parsePairs, 值按 YAML 标量解析: 3 → int, true → bool
func parseVariables(pairs []string) (map[string]any, error) {
	raw, err := parsePairs(pairs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if v == "" || yaml.Unmarshal([]byte(v), &val) != nil || val == nil {
			val = v
		}
		out[k] = val
	}
	return out, nil
}

func writeResult(w io.Writer, format string, res *jobs.Result) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "Job:      %s\n", res.JobID)
	fmt.Fprintf(w, "Run:      %s\n", res.RunID)
	fmt.Fprintf(w, "Target:   %s %s\n", res.Kind, res.Target)
	fmt.Fprintf(w, "Status:   %s\n", res.Status)
	fmt.Fprintf(w, "Duration: %s\n", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	if res.Error != "" {
		fmt.Fprintf(w, "Error:    [%s] %s\n", res.ErrorCode, res.Error)
	}

	if res.Crew != nil {
		writeTasks(w, res.Crew)
	}
	if res.Flow != nil {
		fmt.Fprintf(w, "Visited:  %s\n", strings.Join(res.Flow.Visited, " -> "))
		for _, cr := range res.Flow.CrewResults {
			writeTasks(w, cr)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, res.Output)
	return nil
}

func writeTasks(w io.Writer, cr *crews.CrewResult) {
	fmt.Fprintf(w, "Crew %s:\n", cr.CrewID)
	for _, id := range cr.Order {
		rec := cr.Records[id]
		line := fmt.Sprintf("  %-10s %s", rec.Status, id)
		if rec.AgentID != "" {
			line += " (" + rec.AgentID + ")"
		}
		switch {
		case rec.Error != "":
			line += ": " + rec.Error
		case rec.Reason != "":
			line += ": " + rec.Reason
		}
		fmt.Fprintln(w, line)
	}
}
