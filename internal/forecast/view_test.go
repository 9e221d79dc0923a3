package forecast

import (
	"net/url"
	"testing"

	"binfleet-backend/internal/models"
)

func freshRow(number int, fill, growth float64, days int, status models.SchedulingStatus) models.BinRiskRow {
	return models.BinRiskRow{
		BinID:     "bin-" + string(rune('a'+number)),
		BinNumber: number,
		Forecast: models.FreshForecast{
			Growth:          growth,
			EstimatedFill:   fill,
			DaysToThreshold: days,
			Reachable:       true,
			Tier:            Classify(days),
		},
		SchedulingStatus: status,
	}
}

func staleRow(number, lastFill int) models.BinRiskRow {
	return models.BinRiskRow{
		BinID:            "bin-" + string(rune('a'+number)),
		BinNumber:        number,
		Forecast:         models.StaleForecast{LastFill: lastFill},
		SchedulingStatus: models.StatusNotScheduled,
	}
}

func sampleRows() []models.BinRiskRow {
	return []models.BinRiskRow{
		freshRow(1, 95, 5, 0, models.StatusScheduled),     // high, scheduled
		freshRow(2, 10, 30, 3, models.StatusNotScheduled), // high, unscheduled, low fill
		freshRow(3, 70, 2, 5, models.StatusNotScheduled),  // medium
		freshRow(4, 99, 0.1, 10, models.StatusNotScheduled),
		staleRow(5, 100),
		freshRow(6, 40, 20, 2, models.StatusNotScheduled), // high, unscheduled
	}
}

func TestDefaultViewGroupsByPriority(t *testing.T) {
	q := ViewQuery{Page: 1, PageSize: 50, Sort: SortFill, Dir: SortDesc, Risk: RiskAll}
	page := BuildView(sampleRows(), q)

	got := make([]int, 0, len(page.Rows))
	for _, r := range page.Rows {
		got = append(got, r.BinNumber)
	}
	want := []int{6, 2, 1, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	lastGroup := -1
	for _, r := range page.Rows {
		g := priorityGroup(r)
		if g < lastGroup {
			t.Fatalf("group order violated at bin %d", r.BinNumber)
		}
		lastGroup = g
	}
}

func TestNonDefaultSortUsesSentinels(t *testing.T) {
	rows := sampleRows()

	asc := BuildView(rows, ViewQuery{Page: 1, PageSize: 50, Sort: SortGrowth, Dir: SortAsc, Risk: RiskAll})
	if last := asc.Rows[len(asc.Rows)-1]; last.BinNumber != 5 {
		t.Fatalf("stale row should sort last ascending, got bin %d", last.BinNumber)
	}
	if first := asc.Rows[0]; first.BinNumber != 4 {
		t.Fatalf("lowest growth first, got bin %d", first.BinNumber)
	}

	desc := BuildView(rows, ViewQuery{Page: 1, PageSize: 50, Sort: SortDays, Dir: SortDesc, Risk: RiskAll})
	if last := desc.Rows[len(desc.Rows)-1]; last.BinNumber != 5 {
		t.Fatalf("stale row should sort last descending, got bin %d", last.BinNumber)
	}
	if first := desc.Rows[0]; first.BinNumber != 4 {
		t.Fatalf("most days first, got bin %d", first.BinNumber)
	}
}

func TestFiltersExcludeStaleRows(t *testing.T) {
	rows := sampleRows()

	high := BuildView(rows, ViewQuery{Page: 1, PageSize: 50, Sort: SortFill, Dir: SortDesc, Risk: RiskFilter(models.RiskHigh)})
	if high.TotalRows != 3 {
		t.Fatalf("expected 3 high rows, got %d", high.TotalRows)
	}

	within3 := BuildView(rows, ViewQuery{Page: 1, PageSize: 50, Sort: SortFill, Dir: SortDesc, Risk: RiskAll, Timeframe: 3})
	for _, r := range within3.Rows {
		d := r.DaysToThreshold()
		if d == nil || *d > 3 {
			t.Fatalf("row %d outside timeframe", r.BinNumber)
		}
	}
	if within3.TotalRows != 3 {
		t.Fatalf("expected 3 rows within 3 days, got %d", within3.TotalRows)
	}
}

func TestPagingClampsToLastPage(t *testing.T) {
	page := BuildView(sampleRows(), ViewQuery{Page: 9, PageSize: 4, Sort: SortFill, Dir: SortDesc, Risk: RiskAll})
	if page.TotalPages != 2 || page.Page != 2 {
		t.Fatalf("expected clamp to page 2 of 2, got %d of %d", page.Page, page.TotalPages)
	}
	if len(page.Rows) != 2 {
		t.Fatalf("expected 2 rows on last page, got %d", len(page.Rows))
	}

	empty := BuildView(nil, ViewQuery{Page: 3, PageSize: 4, Sort: SortFill, Dir: SortDesc, Risk: RiskAll})
	if empty.Page != 1 || empty.TotalPages != 1 || len(empty.Rows) != 0 {
		t.Fatalf("unexpected empty page %+v", empty)
	}
}

func TestParseViewQuery(t *testing.T) {
	q, err := ParseViewQuery(url.Values{}, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.DefaultView() || q.Page != 1 || q.PageSize != 20 || q.Risk != RiskAll {
		t.Fatalf("unexpected defaults %+v", q)
	}

	q, err = ParseViewQuery(url.Values{"sort": {"days"}, "dir": {"asc"}, "risk": {"Medium"}, "timeframe": {"7"}, "page": {"2"}}, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Sort != SortDays || q.Dir != SortAsc || q.Risk != "Medium" || q.Timeframe != 7 || q.Page != 2 {
		t.Fatalf("unexpected query %+v", q)
	}

	for _, bad := range []url.Values{
		{"sort": {"name"}},
		{"dir": {"up"}},
		{"risk": {"Critical"}},
		{"timeframe": {"5"}},
		{"page": {"0"}},
	} {
		if _, err := ParseViewQuery(bad, 20); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}
