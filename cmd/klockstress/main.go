// klockstress 是 keylock 注册表的并发压测与不变量校验工具。
//
// 用法:
//
//	klockstress run [选项]
//
// 选项:
//
//	-g, --goroutines  并发 goroutine 数 (默认: 32)
//	-k, --keys        key 数量 (默认: 8)
//	-d, --duration    压测时长 (默认: 5s)
//	    --fair        公平模式（FIFO 交接）
//	    --shards      分片数，须为 2 的幂 (默认: 32)
//	    --metrics     结束时输出 OTel 指标快照
//
// 校验项:
//
//	互斥性     每个 key 的临界区计数器任一时刻不超过 1
//	可重入     部分操作嵌套获取同一 key，校验配对释放
//	有界内存   压测结束后注册表条目数必须归零
//
// 退出码:
//
//	0: 压测完成且所有不变量成立
//	1: 检测到不变量违例或运行时错误
//	2: 参数错误
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
)

// 版本信息（可通过 -ldflags 注入，例如:
//
//	go build -ldflags "-X main.Version=1.0.0 -X main.GitCommit=$(git rev-parse --short HEAD)"
//
// ）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

// usageError 表示参数错误，映射退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// createApp 创建 CLI 应用。
func createApp(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:    "klockstress",
		Usage:   "keylock 并发压测与不变量校验",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "运行压测",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "goroutines",
						Aliases: []string{"g"},
						Usage:   "并发 goroutine 数",
						Value:   32,
					},
					&cli.IntFlag{
						Name:    "keys",
						Aliases: []string{"k"},
						Usage:   "key 数量",
						Value:   8,
					},
					&cli.DurationFlag{
						Name:    "duration",
						Aliases: []string{"d"},
						Usage:   "压测时长",
						Value:   5 * time.Second,
					},
					&cli.BoolFlag{
						Name:  "fair",
						Usage: "公平模式（FIFO 交接）",
					},
					&cli.IntFlag{
						Name:  "shards",
						Usage: "分片数，须为 2 的幂",
						Value: 32,
					},
					&cli.BoolFlag{
						Name:  "metrics",
						Usage: "结束时输出 OTel 指标快照",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg := &stressConfig{
						goroutines: cmd.Int("goroutines"),
						keys:       cmd.Int("keys"),
						duration:   cmd.Duration("duration"),
						fair:       cmd.Bool("fair"),
						shards:     cmd.Int("shards"),
						metrics:    cmd.Bool("metrics"),
					}
					return runCommand(ctx, cfg, logger)
				},
			},
		},
		DefaultCommand: "run",
	}
}

func run() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	app := createApp(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "参数错误: %v\n", usageErr)
			return 2
		}
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}
