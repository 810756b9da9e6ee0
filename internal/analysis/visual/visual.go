package visual

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"polyback/internal/backtest"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorCash          = "#34d399"
	colorDrawdown      = "#f87171"

	chartWidthPx    = 1600
	equityHeightPx  = 600
	drawdownHeight  = 260
	maxRenderPoints = 4000
)

// EquityInput 一次 run 的权益曲线渲染输入。
type EquityInput struct {
	RunID    string
	Strategy string
	Profile  string
	Points   []backtest.EquityPoint
}

// RenderEquityHTML 把权益与回撤曲线渲染成自包含的 HTML 页面。
func RenderEquityHTML(input EquityInput) ([]byte, error) {
	if len(input.Points) == 0 {
		return nil, fmt.Errorf("run %s 没有可渲染的权益点", input.RunID)
	}
	points := downsample(input.Points, maxRenderPoints)

	xAxis := make([]string, len(points))
	equity := make([]opts.LineData, len(points))
	cash := make([]opts.LineData, len(points))
	drawdown := make([]opts.LineData, len(points))
	for i, p := range points {
		xAxis[i] = time.UnixMilli(p.TS).UTC().Format("01-02 15:04:05")
		equity[i] = opts.LineData{Value: round(p.Equity, 4)}
		cash[i] = opts.LineData{Value: round(p.Cash, 4)}
		drawdown[i] = opts.LineData{Value: round(-p.Drawdown*100, 3)}
	}

	title := fmt.Sprintf("回放权益 %s", input.Strategy)
	if input.Profile != "" {
		title = fmt.Sprintf("%s (%s)", title, input.Profile)
	}

	equityChart := charts.NewLine()
	equityChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      fmt.Sprintf("run %s | %d ticks", input.RunID, len(input.Points)),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	equityChart.SetXAxis(xAxis)
	equityChart.AddSeries("权益", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false), ShowSymbol: opts.Bool(false)}),
	)
	equityChart.AddSeries("现金", cash,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorCash, Width: 1}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	ddChart := charts.NewLine()
	ddChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", drawdownHeight),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "回撤 %",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 14},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	ddChart.SetXAxis(xAxis)
	ddChart.AddSeries("回撤", drawdown,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.25)}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityChart, ddChart)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("渲染权益页面失败: %w", err)
	}
	return buf.Bytes(), nil
}

// downsample 等间隔抽样，保证首尾点保留，避免超长 run 渲染出兆级 HTML。
func downsample(points []backtest.EquityPoint, limit int) []backtest.EquityPoint {
	if limit <= 0 || len(points) <= limit {
		return points
	}
	step := float64(len(points)-1) / float64(limit-1)
	out := make([]backtest.EquityPoint, 0, limit)
	for i := 0; i < limit; i++ {
		idx := int(float64(i) * step)
		out = append(out, points[idx])
	}
	out[len(out)-1] = points[len(points)-1]
	return out
}

func round(v float64, digits int) float64 {
	scale := 1.0
	for i := 0; i < digits; i++ {
		scale *= 10
	}
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
