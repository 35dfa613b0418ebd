package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/metrics"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
)

// 不變量名稱，同時作為 metrics label
const (
	InvariantNonNegative   = "non_negative_balance"
	InvariantTotalMonotone = "total_never_decreases"
)

// SummaryReader 提供全帳本彙總
type SummaryReader interface {
	BalanceSummary(ctx context.Context) (*domain.BalanceSummary, error)
}

// Report 一次稽核的結果
type Report struct {
	Summary    domain.BalanceSummary
	Violations []string
}

// Auditor 定期檢查: 沒有負餘額，總額只會因存款增加 (轉帳守恆)
type Auditor struct {
	reader  SummaryReader
	log     *logger.Logger
	timeout time.Duration

	mu        sync.Mutex
	lastTotal int64
	seen      bool

	cron *cron.Cron
}

func NewAuditor(reader SummaryReader, log *logger.Logger) *Auditor {
	return &Auditor{
		reader:  reader,
		log:     log,
		timeout: 10 * time.Second,
	}
}

// Check 執行一次稽核並更新 metrics
func (a *Auditor) Check(ctx context.Context) (*Report, error) {
	summary, err := a.reader.BalanceSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("balance summary: %w", err)
	}
	report := &Report{Summary: *summary}

	if summary.Negative > 0 {
		report.Violations = append(report.Violations, InvariantNonNegative)
	}

	a.mu.Lock()
	if a.seen && summary.Total < a.lastTotal {
		report.Violations = append(report.Violations, InvariantTotalMonotone)
	}
	a.lastTotal = summary.Total
	a.seen = true
	a.mu.Unlock()

	metrics.SetBalanceSummary(summary.Total, summary.Negative)
	entry := a.log.WithContext(ctx).WithFields(logrus.Fields{
		"accounts": summary.Accounts,
		"total":    summary.Total,
		"negative": summary.Negative,
	})
	for _, inv := range report.Violations {
		metrics.RecordAuditViolation(inv)
		entry.WithField("invariant", inv).Error("ledger invariant violated")
	}
	if len(report.Violations) == 0 {
		entry.Debug("ledger audit passed")
	}
	return report, nil
}

// Start 依 cron 排程執行 Check
func (a *Auditor) Start(schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if _, err := a.Check(ctx); err != nil {
			a.log.WithError(err).Warn("ledger audit failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule audit %q: %w", schedule, err)
	}
	a.cron = c
	c.Start()
	return nil
}

// Stop 停止排程並等待執行中的稽核結束
func (a *Auditor) Stop() {
	if a.cron == nil {
		return
	}
	<-a.cron.Stop().Done()
}
