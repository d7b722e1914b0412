package testutils

import (
	"testing"
	"time"

	"wfo/internal/logger"
)

// BenchmarkSuite 性能测试套件
type BenchmarkSuite struct {
	B       *testing.B
	Logger  logger.Logger
	Data    *MockData
	Metrics *BenchmarkMetrics
}

// BenchmarkMetrics 性能测试指标
type BenchmarkMetrics struct {
	StartTime     time.Time
	Duration      time.Duration
	CustomMetrics map[string]float64
}

// NewBenchmarkSuite 创建性能测试套件
func NewBenchmarkSuite(b *testing.B, config *TestConfig) *BenchmarkSuite {
	if config == nil {
		config = DefaultTestConfig()
	}
	return &BenchmarkSuite{
		B:      b,
		Logger: logger.NewLogger(logger.Config{Level: config.LogLevel, Format: logger.FormatText, Output: "discard"}),
		Data:   NewMockData(config.Seed),
		Metrics: &BenchmarkMetrics{
			CustomMetrics: make(map[string]float64),
		},
	}
}

// RecordCustomMetric 记录自定义指标
func (bs *BenchmarkSuite) RecordCustomMetric(name string, value float64) {
	bs.Metrics.CustomMetrics[name] = value
}

// ReportMetrics 报告性能指标
func (bs *BenchmarkSuite) ReportMetrics() {
	for name, value := range bs.Metrics.CustomMetrics {
		bs.B.ReportMetric(value, name)
	}
}

// BenchmarkFunction 性能测试函数类型
type BenchmarkFunction func(b *testing.B, suite *BenchmarkSuite)

// RunBenchmark 运行性能测试
func RunBenchmark(b *testing.B, name string, config *TestConfig, fn BenchmarkFunction) {
	b.Run(name, func(b *testing.B) {
		suite := NewBenchmarkSuite(b, config)
		b.ReportAllocs()
		b.ResetTimer()
		suite.Metrics.StartTime = time.Now()

		fn(b, suite)

		suite.Metrics.Duration = time.Since(suite.Metrics.StartTime)
		suite.ReportMetrics()
	})
}
