// Package chart renders a correlated series as an interactive HTML chart:
// the resource utilization curve as a line, training steps as a marker lane
// of horizontal spans colored by the hook predicate.
package chart

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/stepscope/stepscope/internal/correlation"
	timeutils "github.com/stepscope/stepscope/internal/time"
)

// chartID fixes the chart element id so the interaction script can address
// the echarts instance the render template creates.
const chartID = "stepscope"

// markerLane is the y coordinate of the step marker row, kept below zero so
// markers never overlap the utilization curve.
const markerLane = -4.0

type Config struct {
	Title    string
	Subtitle string

	PageTitle string
	Width     string
	Height    string

	// LiveSocketPath, when set, subscribes the page to a websocket that
	// announces fresh series data; the page reloads to pick it up.
	LiveSocketPath string
}

func (c Config) withDefaults() Config {
	if c.Title == "" {
		c.Title = "utilization vs training steps"
	}
	if c.PageTitle == "" {
		c.PageTitle = "stepscope"
	}
	if c.Width == "" {
		c.Width = "1200px"
	}
	if c.Height == "" {
		c.Height = "640px"
	}
	return c
}

// Render writes a self-contained HTML page. The x axis is elapsed seconds
// from the first observation, so hover and zoom read naturally regardless of
// the absolute wall clock.
func Render(w io.Writer, series *correlation.Series, cfg Config) error {
	cfg = cfg.withDefaults()
	origin := series.Origin()

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: cfg.PageTitle,
			Width:     cfg.Width,
			Height:    cfg.Height,
			ChartID:   chartID,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    cfg.Title,
			Subtitle: cfg.Subtitle,
			Left:     "center",
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:    true,
			Trigger: "axis",
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: true,
			Left: "left",
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "elapsed (s)",
			Type: "value",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: series.Dimension,
			Type: "value",
		}),
		charts.WithDataZoomOpts(
			opts.DataZoom{Type: "inside", Start: 0, End: 100},
			opts.DataZoom{Type: "slider", Start: 0, End: 100},
		),
		charts.WithToolboxOpts(opts.Toolbox{
			Show: true,
			Feature: &opts.ToolBoxFeature{
				SaveAsImage: &opts.ToolBoxFeatureSaveAsImage{Show: true},
				DataZoom:    &opts.ToolBoxFeatureDataZoom{Show: true},
				Restore:     &opts.ToolBoxFeatureRestore{Show: true},
			},
		}),
	)

	lineData := make([]opts.LineData, 0, series.SampleCount)
	for i := 0; i < series.SampleCount; i++ {
		lineData = append(lineData, opts.LineData{
			Value: []interface{}{timeutils.ElapsedSeconds(origin, series.Timestamps[i]), series.Values[i]},
		})
	}
	line.AddSeries(series.Dimension, lineData)

	hook := charts.NewScatter()
	hookPoints, hookMarks := stepMarkers(series, origin, true)
	hook.AddSeries("hook steps", hookPoints, markerSeriesOpts(markerColor(series, true), hookMarks)...)

	plain := charts.NewScatter()
	plainPoints, plainMarks := stepMarkers(series, origin, false)
	plain.AddSeries("steps", plainPoints, markerSeriesOpts(markerColor(series, false), plainMarks)...)

	line.Overlap(hook, plain)

	line.AddJSFuncs(crosshairJS, markLineJS, selectionReadoutJS(series.Len()))
	if cfg.LiveSocketPath != "" {
		line.AddJSFuncs(liveReloadJS(cfg.LiveSocketPath))
	}

	if err := line.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// stepMarkers collects midpoint scatter points and start-to-end mark line
// segments for one marker category.
func stepMarkers(series *correlation.Series, origin time.Time, hooks bool) ([]opts.ScatterData, []opts.MarkLineNameCoordItem) {
	var points []opts.ScatterData
	var marks []opts.MarkLineNameCoordItem

	for i := 0; i < series.StepCount; i++ {
		isHook := series.StepNum[i]%series.Modulus == 0
		if isHook != hooks {
			continue
		}
		left := timeutils.ElapsedSeconds(origin, series.StepStart[i])
		right := timeutils.ElapsedSeconds(origin, series.StepEnd[i])
		name := fmt.Sprintf("step %d", series.StepNum[i])

		points = append(points, opts.ScatterData{
			Name:       name,
			Value:      []interface{}{(left + right) / 2, markerLane},
			Symbol:     "circle",
			SymbolSize: 6,
		})
		marks = append(marks, opts.MarkLineNameCoordItem{
			Name:        name,
			Coordinate0: []interface{}{left, markerLane},
			Coordinate1: []interface{}{right, markerLane},
		})
	}
	return points, marks
}

func markerSeriesOpts(color string, marks []opts.MarkLineNameCoordItem) []charts.SeriesOpts {
	// Mark lines inherit the series item color; weight and solidity are set
	// by markLineJS since the typed options don't reach that deep.
	seriesOpts := []charts.SeriesOpts{
		charts.WithItemStyleOpts(opts.ItemStyle{Color: color}),
		charts.WithMarkLineStyleOpts(opts.MarkLineStyle{
			Symbol:     []string{"none", "none"},
			SymbolSize: 0,
		}),
	}
	for _, mark := range marks {
		seriesOpts = append(seriesOpts, charts.WithMarkLineNameCoordItemOpts(mark))
	}
	return seriesOpts
}

// markerColor picks the color recorded for the first step of the category,
// falling back to the defaults when the category has no steps.
func markerColor(series *correlation.Series, hooks bool) string {
	for i := 0; i < series.StepCount; i++ {
		if (series.StepNum[i]%series.Modulus == 0) == hooks {
			return series.StepColor[i]
		}
	}
	if hooks {
		return correlation.DefaultHookColor
	}
	return correlation.DefaultStepColor
}

// crosshairJS enables the crosshair axis pointer on the rendered instance.
const crosshairJS = `goecharts_` + chartID + `.setOption({tooltip: {axisPointer: {type: 'cross'}}});`

// markLineJS widens the step span markers into solid bars.
const markLineJS = `(function () {
    let inst = goecharts_` + chartID + `;
    let series = inst.getOption().series.map(function (s) {
        if (s.markLine) { s.markLine.lineStyle = {width: 4, type: 'solid'}; }
        return s;
    });
    inst.setOption({series: series});
})();`

// selectionReadoutJS appends a text readout under the chart and keeps it
// updated with the zoomed index range on every selection event.
func selectionReadoutJS(length int) string {
	last := length - 1
	if last < 0 {
		last = 0
	}
	return fmt.Sprintf(`(function () {
    let host = document.getElementById('%[1]s');
    if (!host) { return; }
    let note = document.createElement('div');
    note.id = '%[1]s-selection';
    note.style.cssText = 'font-family:monospace;padding:4px 8px;';
    note.innerText = 'selected index range: 0 .. %[2]d';
    host.parentNode.insertBefore(note, host.nextSibling);
    goecharts_%[1]s.on('datazoom', function () {
        let zoom = goecharts_%[1]s.getOption().dataZoom[0];
        if (!zoom) { return; }
        if (typeof zoom.startValue === 'number') {
            note.innerText = 'selected index range: ' + Math.round(zoom.startValue) + ' .. ' + Math.round(zoom.endValue);
        } else {
            note.innerText = 'selected range: ' + zoom.start.toFixed(1) + '%% .. ' + zoom.end.toFixed(1) + '%%';
        }
    });
})();`, chartID, last)
}

// liveReloadJS reloads the page whenever the dashboard announces a fresh
// series over its websocket.
func liveReloadJS(path string) string {
	return fmt.Sprintf(`(function () {
    let proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
    let sock = new WebSocket(proto + location.host + '%s');
    sock.onmessage = function (evt) {
        let msg = JSON.parse(evt.data);
        if (msg.type === 'series') { location.reload(); }
    };
})();`, path)
}
