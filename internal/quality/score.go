package quality

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"insightpipe/internal/dataset"
)

// ScoreQuality returns max(0, 1-(null_ratio+outlier_ratio)). The outlier
// ratio is 0 when ds has no outlier column.
func ScoreQuality(ds *dataset.Dataset) float64 {
	return math.Max(0, 1-(nullRatio(ds)+outlierRatio(ds)))
}

func nullRatio(ds *dataset.Dataset) float64 {
	cells := ds.NumRows() * ds.NumCols()
	if cells == 0 {
		return 0
	}
	return float64(ds.NullCount()) / float64(cells)
}

func outlierRatio(ds *dataset.Dataset) float64 {
	if ds.NumRows() == 0 {
		return 0
	}
	return float64(CountOutliers(ds)) / float64(ds.NumRows())
}

// Report is a read-only quality summary of one dataset snapshot.
type Report struct {
	Rows           int              `json:"rows"`
	Columns        int              `json:"columns"`
	NullRatio      float64          `json:"null_ratio"`
	OutlierRatio   float64          `json:"outlier_ratio"`
	Score          float64          `json:"score"`
	Multicollinear []CorrelatedPair `json:"multicollinear"`
}

// BuildReport flags outliers with method and threshold, then scores the
// flagged dataset and lists column pairs correlated above mcThreshold.
func BuildReport(ds *dataset.Dataset, method string, threshold, mcThreshold float64) (Report, error) {
	flagged, err := DetectOutliers(ds, method, threshold)
	if err != nil {
		return Report{}, err
	}
	matrix, err := ComputeCorrelations(ds, CorrelationPearson)
	if err != nil {
		return Report{}, err
	}

	return Report{
		Rows:           ds.NumRows(),
		Columns:        ds.NumCols(),
		NullRatio:      nullRatio(flagged),
		OutlierRatio:   outlierRatio(flagged),
		Score:          ScoreQuality(flagged),
		Multicollinear: DetectMulticollinearity(matrix, mcThreshold),
	}, nil
}

// ColumnProfile holds descriptive statistics for one numeric column.
type ColumnProfile struct {
	Column   string  `json:"column"`
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Median   float64 `json:"median"`
	Mode     float64 `json:"mode"`
	StdDev   float64 `json:"std_dev"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Outliers int     `json:"outliers"`
}

// Profile computes per-column statistics for every numeric column
// concurrently. Outliers use the z-score detector at 3.0 on that column alone.
func Profile(ctx context.Context, ds *dataset.Dataset) ([]ColumnProfile, error) {
	names := ds.NumericColumnNames()
	profiles := make([]ColumnProfile, len(names))

	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			col, _ := ds.Column(name)
			p, err := profileColumn(col)
			if err != nil {
				return err
			}
			profiles[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return profiles, nil
}

func profileColumn(col dataset.Column) (ColumnProfile, error) {
	values := col.Numbers()
	lo, hi := minMax(values)
	sd := stdDev(values, 1)
	if len(values) < 2 {
		sd = 0
	}

	single, err := dataset.New(col)
	if err != nil {
		return ColumnProfile{}, err
	}
	mask, err := OutlierMask(single, MethodZScore, 3.0)
	if err != nil {
		return ColumnProfile{}, err
	}
	outliers := 0
	for _, flagged := range mask {
		if flagged {
			outliers++
		}
	}

	return ColumnProfile{
		Column:   col.Name,
		Count:    len(values),
		Mean:     mean(values),
		Median:   median(values),
		Mode:     mode(values),
		StdDev:   sd,
		Min:      lo,
		Max:      hi,
		Outliers: outliers,
	}, nil
}
