// Package validity scores the scale and tests its convergent and divergent
// correlations with external measures.
package validity

import (
	"fmt"

	"arvis/domain/dataset"
	"arvis/domain/psychometrics"
)

// CompositeScore sums each subject's responses over the items. Subjects with
// any missing item get a missing score.
func CompositeScore(ds *dataset.Dataset, items []string, name string) (psychometrics.CompositeScore, error) {
	if len(items) == 0 {
		return psychometrics.CompositeScore{}, fmt.Errorf("composite %s has no items", name)
	}
	if err := ds.RequireColumns(items...); err != nil {
		return psychometrics.CompositeScore{}, err
	}
	idx := make([]int, len(items))
	for j, it := range items {
		idx[j], _ = ds.ColumnIndex(it)
	}
	score := psychometrics.CompositeScore{
		Name:       name,
		Items:      append([]string(nil), items...),
		SubjectIDs: append([]string(nil), ds.SubjectIDs...),
		Values:     make([]float64, ds.Rows()),
	}
	for i, row := range ds.Values {
		sum := 0.0
		for _, c := range idx {
			sum += row[c]
		}
		score.Values[i] = sum
	}
	return score, nil
}

// WithScores returns a copy of the dataset with each score appended as a
// column. Scores must come from the same dataset.
func WithScores(ds *dataset.Dataset, scores ...psychometrics.CompositeScore) (*dataset.Dataset, error) {
	columns := append([]string(nil), ds.Columns...)
	values := make([][]float64, ds.Rows())
	for i, row := range ds.Values {
		values[i] = append([]float64(nil), row...)
	}
	for _, s := range scores {
		if len(s.Values) != ds.Rows() {
			return nil, fmt.Errorf("score %s has %d values for %d subjects", s.Name, len(s.Values), ds.Rows())
		}
		for i, id := range s.SubjectIDs {
			if id != ds.SubjectIDs[i] {
				return nil, fmt.Errorf("score %s is not aligned with %s at row %d", s.Name, ds.Name, i)
			}
			values[i] = append(values[i], s.Values[i])
		}
		columns = append(columns, s.Name)
	}
	return dataset.New(ds.Name, ds.IDColumn, append([]string(nil), ds.SubjectIDs...), columns, values)
}
