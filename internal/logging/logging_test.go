package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "warn"})
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("期望 warn 级别, 实际 %s", logger.GetLevel())
	}

	logger = NewLogger(Config{Level: "nonsense"})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("非法级别应回退 info, 实际 %s", logger.GetLevel())
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(Config{Level: "info", Dir: dir})
	logger.Info().Str("component", "test").Msg("hello file")

	name := filepath.Join(dir, "investment_"+time.Now().Format("20060102")+".log")
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("日志文件应存在: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Fatalf("日志文件内容不正确: %s", data)
	}
}

func TestDailyFileSwitchesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 10, 23, 59, 0, 0, time.UTC)
	file, err := newDailyFile(dir, func() time.Time { return now })
	if err != nil {
		t.Fatalf("打开日志文件失败: %v", err)
	}
	defer file.Close()

	if _, err := file.Write([]byte("first day\n")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := file.Write([]byte("second day\n")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	first, err := os.ReadFile(filepath.Join(dir, "investment_20240610.log"))
	if err != nil || string(first) != "first day\n" {
		t.Fatalf("第一天的日志不正确: %q %v", first, err)
	}
	second, err := os.ReadFile(filepath.Join(dir, "investment_20240611.log"))
	if err != nil || string(second) != "second day\n" {
		t.Fatalf("跨日后应写入新文件: %q %v", second, err)
	}
}
