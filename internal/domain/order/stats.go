package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	defaultStatsDays = 30
	maxStatsDays     = 366
	defaultStatsTop  = 5
	maxStatsTop      = 50
)

// Revenue is the order count and summed total of non-cancelled orders.
type Revenue struct {
	Orders int64
	Amount decimal.Decimal
}

// DailySales is the revenue of one UTC calendar day.
type DailySales struct {
	Day     time.Time
	Orders  int64
	Revenue decimal.Decimal
}

// ProductSales aggregates sold quantity and line revenue for one product.
type ProductSales struct {
	ProductID string
	Name      string
	Quantity  int64
	Revenue   decimal.Decimal
}

// StatsRepository runs the aggregate queries behind Stats. Cancelled orders
// are excluded from every revenue figure.
type StatsRepository interface {
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	// Revenue sums orders placed at or after since; a zero since means all
	// time.
	Revenue(ctx context.Context, since time.Time) (Revenue, error)
	DailySales(ctx context.Context, since time.Time) ([]DailySales, error)
	BestSellers(ctx context.Context, limit int) ([]ProductSales, error)
}

// StatsQuery selects the window of the daily series and the size of the
// best seller list.
type StatsQuery struct {
	Days int
	Top  int
}

// Stats is the sales dashboard summary.
type Stats struct {
	ByStatus    map[Status]int64
	TotalOrders int64
	AllTime     Revenue
	Today       Revenue
	ThisMonth   Revenue
	Daily       []DailySales
	BestSellers []ProductSales
}

// StatsService computes sales statistics.
type StatsService struct {
	repo StatsRepository
	now  func() time.Time
}

// NewStatsService creates a StatsService backed by repo.
func NewStatsService(repo StatsRepository) *StatsService {
	return &StatsService{repo: repo, now: time.Now}
}

// Get runs the aggregate queries concurrently. Any failing query fails the
// whole call.
func (s *StatsService) Get(ctx context.Context, q StatsQuery) (*Stats, error) {
	switch {
	case q.Days <= 0:
		q.Days = defaultStatsDays
	case q.Days > maxStatsDays:
		q.Days = maxStatsDays
	}
	switch {
	case q.Top <= 0:
		q.Top = defaultStatsTop
	case q.Top > maxStatsTop:
		q.Top = maxStatsTop
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	since := today.AddDate(0, 0, -(q.Days - 1))

	out := &Stats{}
	g, ctx := errgroup.WithContext(ctx)
	run := func(name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				return errors.Wrap(err, name)
			}
			return nil
		})
	}
	run("count by status", func() (err error) {
		out.ByStatus, err = s.repo.CountByStatus(ctx)
		return err
	})
	run("revenue all time", func() (err error) {
		out.AllTime, err = s.repo.Revenue(ctx, time.Time{})
		return err
	})
	run("revenue today", func() (err error) {
		out.Today, err = s.repo.Revenue(ctx, today)
		return err
	})
	run("revenue this month", func() (err error) {
		out.ThisMonth, err = s.repo.Revenue(ctx, month)
		return err
	})
	run("daily sales", func() (err error) {
		out.Daily, err = s.repo.DailySales(ctx, since)
		return err
	})
	run("best sellers", func() (err error) {
		out.BestSellers, err = s.repo.BestSellers(ctx, q.Top)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if out.ByStatus == nil {
		out.ByStatus = make(map[Status]int64, len(Statuses))
	}
	for _, st := range Statuses {
		if _, ok := out.ByStatus[st]; !ok {
			out.ByStatus[st] = 0
		}
	}
	for _, n := range out.ByStatus {
		out.TotalOrders += n
	}
	out.Daily = fillDays(out.Daily, since, q.Days)

	return out, nil
}

// fillDays returns one entry per day starting at since, using zero entries
// for days without sales.
func fillDays(rows []DailySales, since time.Time, days int) []DailySales {
	byDay := make(map[string]DailySales, len(rows))
	for _, r := range rows {
		byDay[r.Day.UTC().Format(time.DateOnly)] = r
	}

	out := make([]DailySales, days)
	for i := range out {
		day := since.AddDate(0, 0, i)
		if r, ok := byDay[day.Format(time.DateOnly)]; ok {
			r.Day = day
			out[i] = r
			continue
		}
		out[i] = DailySales{Day: day, Revenue: decimal.Zero}
	}
	return out
}
