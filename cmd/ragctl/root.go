package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"ragcore/internal/app/bootstrap"
	"ragcore/internal/platform/config"
	applog "ragcore/internal/platform/log"
)

// previewChars 终端输出的引用预览长度
const previewChars = 200

// cli 命令共享状态，Runtime 在 PersistentPreRunE 中按需构造
type cli struct {
	rt *bootstrap.Runtime
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Operate the RAG index: ingest, search, ask and inspect runs",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd.Context())
		},
	}

	root.AddCommand(
		newIndexCmd(c),
		newSearchCmd(c),
		newAskCmd(c),
		newRunsCmd(c),
	)
	return root, c
}

// execute 运行命令；无论成功失败都关闭 Runtime
func (c *cli) execute(root *cobra.Command) error {
	defer func() {
		if err := c.close(context.Background()); err != nil {
			applog.Warn("[CLI] Runtime close failed", "error", err)
		}
	}()
	return root.Execute()
}

func (c *cli) init(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// 日志写 stderr，stdout 只留给命令输出
	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})

	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	c.rt = rt
	return nil
}

func (c *cli) close(ctx context.Context) error {
	if c.rt == nil {
		return nil
	}
	err := c.rt.Close(ctx)
	c.rt = nil
	applog.Sync()
	return err
}

func (c *cli) runtime() (*bootstrap.Runtime, error) {
	if c.rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return c.rt, nil
}
