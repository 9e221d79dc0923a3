package forecast

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"

	"binfleet-backend/internal/models"
)

type SortField string

const (
	SortFill   SortField = "fill"
	SortGrowth SortField = "growth"
	SortDays   SortField = "days"
)

type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// RiskFilter is "All" or one of the presentation tiers
type RiskFilter string

const RiskAll RiskFilter = "All"

// ViewQuery describes one page of the bin risk view.
// Timeframe 0 means all; otherwise only rows due within that many days.
type ViewQuery struct {
	Page      int
	PageSize  int
	Sort      SortField
	Dir       SortDir
	Risk      RiskFilter
	Timeframe int
}

// DefaultView reports whether the 4-way priority grouping applies
func (q ViewQuery) DefaultView() bool {
	return q.Sort == SortFill && q.Dir == SortDesc
}

// ViewPage is one page of rows plus paging metadata
type ViewPage struct {
	Rows       []models.BinRiskRow `json:"rows"`
	Page       int                 `json:"page"`
	TotalPages int                 `json:"total_pages"`
	TotalRows  int                 `json:"total_rows"`
}

// ParseViewQuery reads page/sort/dir/risk/timeframe query parameters
func ParseViewQuery(values url.Values, pageSize int) (ViewQuery, error) {
	q := ViewQuery{Page: 1, PageSize: pageSize, Sort: SortFill, Dir: SortDesc, Risk: RiskAll}

	if v := values.Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			return q, fmt.Errorf("invalid page %q", v)
		}
		q.Page = p
	}

	switch s := SortField(values.Get("sort")); s {
	case "":
	case SortFill, SortGrowth, SortDays:
		q.Sort = s
	default:
		return q, fmt.Errorf("invalid sort %q", s)
	}

	switch d := SortDir(values.Get("dir")); d {
	case "":
	case SortAsc, SortDesc:
		q.Dir = d
	default:
		return q, fmt.Errorf("invalid dir %q", d)
	}

	switch r := RiskFilter(values.Get("risk")); r {
	case "", RiskAll:
	case RiskFilter(models.RiskHigh), RiskFilter(models.RiskMedium), RiskFilter(models.RiskLow):
		q.Risk = r
	default:
		return q, fmt.Errorf("invalid risk filter %q", r)
	}

	switch t := values.Get("timeframe"); t {
	case "", "All":
	case "3", "7":
		q.Timeframe, _ = strconv.Atoi(t)
	default:
		return q, fmt.Errorf("invalid timeframe %q", t)
	}

	return q, nil
}

// BuildView filters, sorts and pages the rows
func BuildView(rows []models.BinRiskRow, q ViewQuery) ViewPage {
	filtered := make([]models.BinRiskRow, 0, len(rows))
	for _, row := range rows {
		if matches(row, q) {
			filtered = append(filtered, row)
		}
	}

	if q.DefaultView() {
		sortDefault(filtered)
	} else {
		sortByField(filtered, q.Sort, q.Dir)
	}

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = len(filtered)
	}
	totalPages := 1
	if pageSize > 0 {
		totalPages = int(math.Ceil(float64(len(filtered)) / float64(pageSize)))
		if totalPages == 0 {
			totalPages = 1
		}
	}

	page := q.Page
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(filtered) {
		start = len(filtered)
	}
	if end > len(filtered) {
		end = len(filtered)
	}

	return ViewPage{
		Rows:       filtered[start:end],
		Page:       page,
		TotalPages: totalPages,
		TotalRows:  len(filtered),
	}
}

func matches(row models.BinRiskRow, q ViewQuery) bool {
	if q.Risk != RiskAll && q.Risk != "" {
		if RiskFilter(row.Tier()) != q.Risk {
			return false
		}
	}
	if q.Timeframe > 0 {
		days := row.DaysToThreshold()
		if days == nil || *days > q.Timeframe {
			return false
		}
	}
	return true
}

// priorityGroup: 0 high & unscheduled, 1 high & scheduled, 2 medium, 3 low,
// 4 rows without a fresh estimate
func priorityGroup(row models.BinRiskRow) int {
	switch row.Tier() {
	case models.RiskHigh:
		if row.SchedulingStatus == models.StatusNotScheduled {
			return 0
		}
		return 1
	case models.RiskMedium:
		return 2
	case models.RiskLow:
		return 3
	}
	return 4
}

func sortDefault(rows []models.BinRiskRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		gi, gj := priorityGroup(rows[i]), priorityGroup(rows[j])
		if gi != gj {
			return gi < gj
		}
		fi, fj := rows[i].EstimatedFill(), rows[j].EstimatedFill()
		if fi != fj {
			return fi > fj
		}
		return rows[i].BinNumber < rows[j].BinNumber
	})
}

func sortByField(rows []models.BinRiskRow, field SortField, dir SortDir) {
	// Null growth/threshold sorts to the end in both directions
	sentinel := math.Inf(1)
	if dir == SortDesc {
		sentinel = -1
	}

	key := func(row models.BinRiskRow) float64 {
		switch field {
		case SortGrowth:
			if g := row.Growth(); g != nil {
				return *g
			}
			return sentinel
		case SortDays:
			if d := row.DaysToThreshold(); d != nil {
				return float64(*d)
			}
			return sentinel
		default:
			return row.EstimatedFill()
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		ki, kj := key(rows[i]), key(rows[j])
		if ki != kj {
			if dir == SortDesc {
				return ki > kj
			}
			return ki < kj
		}
		return rows[i].BinNumber < rows[j].BinNumber
	})
}
