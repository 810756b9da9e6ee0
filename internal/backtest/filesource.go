package backtest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"polyback/internal/market"

	"github.com/tidwall/gjson"
)

// FileSource 读取采集器落盘的快照文件树：每个市场两份 JSONL 文件，
// 命名 <unix秒>up.jsonl / <unix秒>down.jsonl，每行一份订单簿快照：
//
//	{"ts":1734220801123,"asset_price":"104321.55",
//	 "bids":[{"price":"0.55","size":"120.5"},…],
//	 "asks":[{"price":"0.57","size":"80"},…]}
//
// price/size 为十进制字符串，按上游精度原样保存。
type FileSource struct {
	dir string
}

func NewFileSource(dir string) (*FileSource, error) {
	if dir == "" {
		return nil, fmt.Errorf("数据目录不能为空")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("数据目录不可用: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s 不是目录", dir)
	}
	return &FileSource{dir: dir}, nil
}

// ListMarkets 扫描目录，只返回两条腿文件都存在的市场时间戳。
func (f *FileSource) ListMarkets(ctx context.Context, start, end int64) ([]int64, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, "up.jsonl") {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(name, "up.jsonl"), 10, 64)
		if err != nil {
			continue
		}
		if ts < start || ts > end {
			continue
		}
		if _, err := os.Stat(f.legPath(ts, market.LegDown)); err != nil {
			continue
		}
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// LoadSeries 逐行解析某条腿的 JSONL 快照序列。
func (f *FileSource) LoadSeries(ctx context.Context, marketTS int64, leg market.Leg) ([]market.BookSnapshot, error) {
	path := f.legPath(marketTS, leg)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: 打开 %s 失败: %v", ErrDataIntegrity, path, err)
	}
	defer file.Close()

	var series []market.BookSnapshot
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<22)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		snap, err := parseBookLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", ErrDataIntegrity, filepath.Base(path), lineNo, err)
		}
		series = append(series, snap)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: 读取 %s 失败: %v", ErrDataIntegrity, path, err)
	}
	return series, nil
}

func (f *FileSource) legPath(marketTS int64, leg market.Leg) string {
	return filepath.Join(f.dir, fmt.Sprintf("%d%s.jsonl", marketTS, leg))
}

// parseBookLine 将一行 JSON 转成快照；价格/数量走 decimal 字符串解析。
func parseBookLine(line string) (market.BookSnapshot, error) {
	if !gjson.Valid(line) {
		return market.BookSnapshot{}, fmt.Errorf("非法 JSON")
	}
	doc := gjson.Parse(line)
	snap := market.BookSnapshot{TS: doc.Get("ts").Int()}
	if ap := doc.Get("asset_price"); ap.Exists() {
		snap.AssetPrice = ap.Float()
	}
	var parseErr error
	collect := func(key string) []market.PriceLevel {
		arr := doc.Get(key).Array()
		levels := make([]market.PriceLevel, 0, len(arr))
		for _, item := range arr {
			lvl, err := market.ParseLevel(item.Get("price").String(), item.Get("size").String())
			if err != nil {
				parseErr = fmt.Errorf("%s: %w", key, err)
				return nil
			}
			levels = append(levels, lvl)
		}
		return levels
	}
	snap.Bids = collect("bids")
	if parseErr != nil {
		return market.BookSnapshot{}, parseErr
	}
	snap.Asks = collect("asks")
	if parseErr != nil {
		return market.BookSnapshot{}, parseErr
	}
	return snap, nil
}
