package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wfo/internal/logger"
	"wfo/internal/market"
)

// TestConfig 测试配置
type TestConfig struct {
	LogLevel logger.LogLevel
	TempDir  string
	Seed     int64
}

// DefaultTestConfig 默认测试配置
func DefaultTestConfig() *TestConfig {
	return &TestConfig{
		LogLevel: logger.LevelError, // 测试时减少日志输出
		Seed:     1337,
	}
}

// TestSuite 测试套件
type TestSuite struct {
	T        *testing.T
	Config   *TestConfig
	Logger   logger.Logger
	Registry *market.SymbolRegistry
	Data     *MockData
	TempDir  string
	Cleanup  []func()
}

// NewTestSuite 创建测试套件
func NewTestSuite(t *testing.T, config *TestConfig) *TestSuite {
	if config == nil {
		config = DefaultTestConfig()
	}

	// 创建临时目录
	tempDir, err := os.MkdirTemp("", "wfo_test_*")
	require.NoError(t, err)

	if config.TempDir == "" {
		config.TempDir = tempDir
	}

	// 初始化日志
	testLogger := logger.NewLogger(logger.Config{
		Level:  config.LogLevel,
		Format: logger.FormatText,
		Output: "stdout",
	})

	suite := &TestSuite{
		T:        t,
		Config:   config,
		Logger:   testLogger,
		Registry: market.NewSymbolRegistry(),
		Data:     NewMockData(config.Seed),
		TempDir:  tempDir,
		Cleanup:  []func(){},
	}

	// 设置清理函数
	suite.AddCleanup(func() {
		os.RemoveAll(tempDir)
	})

	return suite
}

// AddCleanup 添加清理函数
func (s *TestSuite) AddCleanup(cleanup func()) {
	s.Cleanup = append(s.Cleanup, cleanup)
}

// TearDown 清理测试环境
func (s *TestSuite) TearDown() {
	for i := len(s.Cleanup) - 1; i >= 0; i-- {
		s.Cleanup[i]()
	}
}

// CreateTempFile 创建临时文件
func (s *TestSuite) CreateTempFile(name, content string) string {
	filePath := filepath.Join(s.TempDir, name)
	require.NoError(s.T, os.MkdirAll(filepath.Dir(filePath), 0755))
	err := os.WriteFile(filePath, []byte(content), 0644)
	require.NoError(s.T, err)
	return filePath
}

// NewMemorySource 创建绑定到套件符号表的内存数据源
func (s *TestSuite) NewMemorySource() *market.MemorySource {
	return market.NewMemorySource(s.Registry)
}

// HTTPTestHelper HTTP测试助手
type HTTPTestHelper struct {
	Router http.Handler
	Suite  *TestSuite
}

// NewHTTPTestHelper 创建HTTP测试助手
func NewHTTPTestHelper(suite *TestSuite, router http.Handler) *HTTPTestHelper {
	gin.SetMode(gin.TestMode)
	return &HTTPTestHelper{
		Router: router,
		Suite:  suite,
	}
}

// GET 发送GET请求
func (h *HTTPTestHelper) GET(path string) *HTTPResponse {
	return h.Request(http.MethodGet, path, nil)
}

// POST 发送POST请求
func (h *HTTPTestHelper) POST(path string, body interface{}) *HTTPResponse {
	return h.Request(http.MethodPost, path, body)
}

// DELETE 发送DELETE请求
func (h *HTTPTestHelper) DELETE(path string) *HTTPResponse {
	return h.Request(http.MethodDelete, path, nil)
}

// Request 发送HTTP请求
func (h *HTTPTestHelper) Request(method, path string, body interface{}) *HTTPResponse {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(h.Suite.T, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	recorder := httptest.NewRecorder()
	h.Router.ServeHTTP(recorder, req)

	return &HTTPResponse{
		Recorder: recorder,
		T:        h.Suite.T,
	}
}

// HTTPResponse HTTP响应
type HTTPResponse struct {
	Recorder *httptest.ResponseRecorder
	T        *testing.T
}

// AssertStatus 断言状态码
func (r *HTTPResponse) AssertStatus(expectedStatus int) *HTTPResponse {
	assert.Equal(r.T, expectedStatus, r.Recorder.Code, r.Recorder.Body.String())
	return r
}

// AssertContains 断言响应包含字符串
func (r *HTTPResponse) AssertContains(substring string) *HTTPResponse {
	assert.Contains(r.T, r.Recorder.Body.String(), substring)
	return r
}

// GetJSON 解析JSON响应
func (r *HTTPResponse) GetJSON(target interface{}) error {
	return json.Unmarshal(r.Recorder.Body.Bytes(), target)
}

// MockData 模拟数据生成器
type MockData struct {
	rand *rand.Rand
}

// NewMockData 创建模拟数据生成器
func NewMockData(seed int64) *MockData {
	return &MockData{rand: rand.New(rand.NewSource(seed))}
}

// RandomFloat 生成随机浮点数
func (m *MockData) RandomFloat(min, max float64) float64 {
	return min + m.rand.Float64()*(max-min)
}

// RandomInt 生成随机整数
func (m *MockData) RandomInt(min, max int) int {
	return min + m.rand.Intn(max-min+1)
}

// RisingBars 生成价格单调上涨的日K线 (close = start + i)
func RisingBars(start time.Time, n int, startPrice float64) []market.Bar {
	bars := make([]market.Bar, n)
	for i := 0; i < n; i++ {
		price := startPrice + float64(i)
		bars[i] = market.Bar{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

// RandomWalkBars 生成随机游走日K线
func (m *MockData) RandomWalkBars(start time.Time, n int, startPrice, volatility float64) []market.Bar {
	bars := make([]market.Bar, n)
	price := startPrice
	for i := 0; i < n; i++ {
		open := price
		price = math.Max(0.01, price*(1+m.rand.NormFloat64()*volatility))
		bars[i] = market.Bar{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      open,
			High:      math.Max(open, price) * 1.001,
			Low:       math.Min(open, price) * 0.999,
			Close:     price,
			Volume:    m.RandomFloat(500, 1500),
		}
	}
	return bars
}

// RegimeCycleBars 生成依次经历上涨、剧烈波动、下跌阶段的日K线
func RegimeCycleBars(start time.Time, phaseLen int, startPrice float64) []market.Bar {
	bars := make([]market.Bar, 0, phaseLen*3)
	price := startPrice
	for phase := 0; phase < 3; phase++ {
		for i := 0; i < phaseLen; i++ {
			switch phase {
			case 0:
				price *= 1.01
			case 1:
				if i%2 == 0 {
					price *= 1.08
				} else {
					price *= 0.92
				}
			default:
				price *= 0.99
			}
			idx := len(bars)
			bars = append(bars, market.Bar{
				Timestamp: start.Add(time.Duration(idx) * 24 * time.Hour),
				Open:      price,
				High:      price,
				Low:       price,
				Close:     price,
				Volume:    1000,
			})
		}
	}
	return bars
}

// TimeoutContext 创建带超时的上下文
func TimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// WaitForCondition 等待条件满足
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	ctx, cancel := TimeoutContext(timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
			if condition() {
				return
			}
		}
	}
}

// SetEnv 设置环境变量（测试结束后自动恢复）
func SetEnv(t *testing.T, key, value string) {
	oldValue, existed := os.LookupEnv(key)
	os.Setenv(key, value)

	t.Cleanup(func() {
		if !existed {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, oldValue)
		}
	})
}
