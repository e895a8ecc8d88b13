// deliver 从标准输入读取一封原始邮件并投递给单个收件人。
//
// 供 MTA 的 pipe 传输调用，例如 Postfix master.cf:
//
//	tempinbox unix - n n - - pipe
//	  flags=Rq user=tempinbox argv=/usr/local/bin/deliver ${recipient}
//
// 退出码遵循 sysexits：0 已接收，64 参数错误，65 邮件过大，75 暂时失败需要重试。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tempinbox/backend/internal/bootstrap"
	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/logger"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/smtp"
)

const (
	exitOK       = 0
	exitUsage    = 64 // EX_USAGE
	exitDataErr  = 65 // EX_DATAERR
	exitTempFail = 75 // EX_TEMPFAIL
)

var errUsage = errors.New("usage: deliver [-recipient] <address>")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin))
}

func run(args []string, stdin io.Reader) int {
	recipient, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitTempFail
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    cfg.Log.Compress,
		Stderr:      true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return exitTempFail
	}
	defer log.Sync()

	// 单次投递不暴露 /metrics，指标只用于与服务端共用的代码路径
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetricsWith(reg, reg)

	stores, err := bootstrap.OpenStores(cfg, metrics, log)
	if err != nil {
		log.Error("Failed to open storage", zap.Error(err))
		return exitTempFail
	}
	defer stores.Close()

	normalizer := service.NewNormalizer(stores.Store, smtp.MIMEParser{}, log)
	normalizer.SetMetrics(metrics)
	if stores.Archive != nil {
		normalizer.SetArchive(stores.Archive)
	}
	if stores.Cache != nil && cfg.WebSocket.Enabled {
		normalizer.AddPublisher(stores.Cache)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return deliver(ctx, normalizer, deliveryOptions{
		Domain:          cfg.Mail.Domain,
		Recipient:       recipient,
		MaxMessageBytes: cfg.SMTP.MaxMessageBytes,
	}, stdin, log)
}

// parseArgs 接受 -recipient 参数或一个位置参数
func parseArgs(args []string) (string, error) {
	fs := flag.NewFlagSet("deliver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	recipient := fs.String("recipient", "", "envelope recipient address")
	if err := fs.Parse(args); err != nil {
		return "", errUsage
	}

	switch {
	case *recipient != "" && fs.NArg() == 0:
		return *recipient, nil
	case *recipient == "" && fs.NArg() == 1:
		return fs.Arg(0), nil
	default:
		return "", errUsage
	}
}

type deliveryOptions struct {
	Domain          string
	Recipient       string
	MaxMessageBytes int64
}

// deliver 执行一次投递并返回进程退出码
func deliver(ctx context.Context, ingester smtp.Ingester, opts deliveryOptions, stdin io.Reader, log *zap.Logger) int {
	addr, err := domain.ParseRecipient(opts.Recipient)
	if err != nil {
		log.Warn("Invalid recipient", zap.String("recipient", opts.Recipient), zap.Error(err))
		return exitUsage
	}
	if domain.DomainFromAddress(addr) != opts.Domain {
		log.Warn("Recipient outside mail domain",
			zap.String("recipient", addr),
			zap.String("domain", opts.Domain),
		)
		return exitUsage
	}

	limit := opts.MaxMessageBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(stdin, limit+1))
	if err != nil {
		log.Error("Failed to read message", zap.Error(err))
		return exitTempFail
	}
	if int64(len(raw)) > limit {
		log.Warn("Message too large", zap.String("recipient", addr), zap.Int64("limit", limit))
		return exitDataErr
	}

	result := ingester.Normalize(ctx, raw, addr)
	if result.Transient() {
		return exitTempFail
	}

	log.Debug("Message consumed",
		zap.String("recipient", addr),
		zap.Stringer("outcome", result.Outcome),
	)
	return exitOK
}
