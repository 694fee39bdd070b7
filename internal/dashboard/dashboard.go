package dashboard

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"

	"niftycast/internal/fusion"
	"niftycast/internal/model"
	"niftycast/internal/store"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBaseline      = "#3b82f6"
	colorFused         = "#fbbf24"
	colorRealized      = "#34d399"
	colorSMA           = "#f472b6"
	colorEMA           = "#a78bfa"
	colorBuy           = "#34d399"
	colorHold          = "#fbbf24"
	colorSell          = "#f87171"

	chartWidthPx  = 1280
	chartHeightPx = 480
	barHeightPx   = 360

	smaPeriod = 5
	emaPeriod = 10
)

// Generator 把一次成功运行的结果渲染为静态 HTML 仪表盘页面。
type Generator struct {
	title   string
	tz      *time.Location
	metrics map[model.Family]model.ArtifactMetrics
	nowFn   func() time.Time
}

func NewGenerator(title string, tz *time.Location, metrics map[model.Family]model.ArtifactMetrics) *Generator {
	if tz == nil {
		tz = time.UTC
	}
	return &Generator{title: title, tz: tz, metrics: metrics, nowFn: time.Now}
}

// WithNowFn 替换时间源（测试用）。
func (g *Generator) WithNowFn(fn func() time.Time) *Generator {
	if fn != nil {
		g.nowFn = fn
	}
	return g
}

// Render 生成完整仪表盘 HTML：价格与预测走势、模型误差指标、本期各模型对比。
func (g *Generator) Render(current fusion.Consensus, history []store.HistoryRecord) ([]byte, error) {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = g.title

	page.AddCharts(
		g.buildPriceChart(current, history),
		g.buildComparisonChart(current),
	)
	if len(g.metrics) > 0 {
		page.AddCharts(g.buildMetricsChart())
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildPriceChart 画历史基准价、共识预测与已回填实际收盘，叠加 SMA 平滑线。
func (g *Generator) buildPriceChart(current fusion.Consensus, history []store.HistoryRecord) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         g.title,
			Subtitle:      g.subtitle(current),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: g.recommendationColor(current.Recommendation)},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "60", TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)

	xAxis := make([]string, len(history))
	baseline := make([]opts.LineData, len(history))
	fused := make([]opts.LineData, len(history))
	realized := make([]opts.LineData, len(history))
	closes := make([]float64, len(history))
	for i, rec := range history {
		xAxis[i] = rec.TradingDate
		baseline[i] = opts.LineData{Value: rec.CurrentPrice}
		fused[i] = opts.LineData{Value: rec.FusedClose}
		closes[i] = rec.CurrentPrice
		if rec.RealizedClose != nil {
			realized[i] = opts.LineData{Value: *rec.RealizedClose}
		} else {
			realized[i] = opts.LineData{Value: "-"}
		}
	}

	line.SetXAxis(xAxis)
	line.AddSeries("基准价", baseline, charts.WithLineStyleOpts(opts.LineStyle{Color: colorBaseline, Width: 2}))
	line.AddSeries("共识预测", fused, charts.WithLineStyleOpts(opts.LineStyle{Color: colorFused, Width: 2}))
	line.AddSeries("实际收盘", realized, charts.WithLineStyleOpts(opts.LineStyle{Color: colorRealized, Width: 2}))
	if len(closes) >= smaPeriod {
		sma := talib.Sma(closes, smaPeriod)
		smaData := make([]opts.LineData, len(sma))
		for i, v := range sma {
			if i < smaPeriod-1 {
				smaData[i] = opts.LineData{Value: "-"}
				continue
			}
			smaData[i] = opts.LineData{Value: v}
		}
		line.AddSeries(fmt.Sprintf("SMA%d", smaPeriod), smaData,
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorSMA, Width: 1}))
	}
	if len(closes) >= emaPeriod {
		ema := talib.Ema(closes, emaPeriod)
		emaData := make([]opts.LineData, len(ema))
		for i, v := range ema {
			if i < emaPeriod-1 {
				emaData[i] = opts.LineData{Value: "-"}
				continue
			}
			emaData[i] = opts.LineData{Value: v}
		}
		line.AddSeries(fmt.Sprintf("EMA%d", emaPeriod), emaData,
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorEMA, Width: 1}))
	}
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

// buildComparisonChart 画本期三个模型的点预测与当前基准价。
func (g *Generator) buildComparisonChart(current fusion.Consensus) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", barHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("模型预测对比 %s", current.TradingDate),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)
	labels := make([]string, 0, len(current.PerModel)+2)
	values := make([]opts.BarData, 0, len(current.PerModel)+2)
	labels = append(labels, "当前价")
	values = append(values, opts.BarData{Value: current.CurrentPrice, ItemStyle: &opts.ItemStyle{Color: colorBaseline}})
	for _, p := range current.PerModel {
		labels = append(labels, string(p.Model))
		values = append(values, opts.BarData{Value: p.PredictedClose, ItemStyle: &opts.ItemStyle{Color: colorTextSecondary}})
	}
	labels = append(labels, "共识")
	values = append(values, opts.BarData{Value: current.FusedClose, ItemStyle: &opts.ItemStyle{Color: colorFused}})
	bar.SetXAxis(labels)
	bar.AddSeries("预测收盘", values)
	return bar
}

// buildMetricsChart 画研究基线的模型误差指标（RMSE/MAE/R2/MSE）。
func (g *Generator) buildMetricsChart() *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", barHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "模型误差指标（研究基线）",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)
	families := model.Families()
	labels := make([]string, len(families))
	rmse := make([]opts.BarData, len(families))
	mae := make([]opts.BarData, len(families))
	r2 := make([]opts.BarData, len(families))
	for i, family := range families {
		m := g.metrics[family]
		labels[i] = string(family)
		rmse[i] = opts.BarData{Value: m.RMSE}
		mae[i] = opts.BarData{Value: m.MAE}
		r2[i] = opts.BarData{Value: m.R2}
	}
	bar.SetXAxis(labels)
	bar.AddSeries("RMSE", rmse)
	bar.AddSeries("MAE", mae)
	bar.AddSeries("R2", r2)
	return bar
}

func (g *Generator) subtitle(current fusion.Consensus) string {
	status := StatusAt(g.nowFn(), g.tz)
	return fmt.Sprintf("%s | 预测日 %s | 共识 %.2f (%+.2f%%) | 市场 %s | 生成于 %s",
		current.Recommendation, current.TradingDate, current.FusedClose,
		current.ChangePct*100, status,
		current.GeneratedAt.In(g.tz).Format("2006-01-02 15:04:05 MST"))
}

func (g *Generator) recommendationColor(rec fusion.Recommendation) string {
	switch rec {
	case fusion.RecommendBuy:
		return colorBuy
	case fusion.RecommendSell:
		return colorSell
	default:
		return colorHold
	}
}
