package preprocessing

import (
	"fmt"

	"github.com/YuminosukeSato/scitrain/dataset"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// ColumnSelector は特徴量テーブルの列を数値列とカテゴリ列に振り分ける
type ColumnSelector interface {
	Select(t *dataset.Table) (numeric, categorical []string)
}

// DtypeSelector は列の型で振り分ける（pandasの select_dtypes 相当）。
// Boolean列は IncludeBoolean が false の場合は警告を出して無視する。
type DtypeSelector struct {
	IncludeBoolean bool
}

// Select implements ColumnSelector.
func (s *DtypeSelector) Select(t *dataset.Table) (numeric, categorical []string) {
	for _, c := range t.Columns {
		switch c.Kind {
		case dataset.Numeric:
			numeric = append(numeric, c.Name)
		case dataset.Categorical:
			categorical = append(categorical, c.Name)
		case dataset.Boolean:
			if s.IncludeBoolean {
				numeric = append(numeric, c.Name)
				continue
			}
			errors.Warn(errors.NewDataConversionWarning("bool", "dropped",
				fmt.Sprintf("column %q is boolean and is neither numeric nor categorical", c.Name)))
		}
	}
	return numeric, categorical
}

// ExplicitSelector は設定で列の役割を明示する。
// 指定されなかった列は DtypeSelector の規則で振り分ける。
type ExplicitSelector struct {
	Numeric     []string
	Categorical []string
	Fallback    bool
}

// Select implements ColumnSelector.
func (s *ExplicitSelector) Select(t *dataset.Table) (numeric, categorical []string) {
	numeric = append(numeric, s.Numeric...)
	categorical = append(categorical, s.Categorical...)
	if !s.Fallback {
		return numeric, categorical
	}

	assigned := make(map[string]struct{}, len(numeric)+len(categorical))
	for _, n := range numeric {
		assigned[n] = struct{}{}
	}
	for _, n := range categorical {
		assigned[n] = struct{}{}
	}
	rest := &dataset.Table{}
	for _, c := range t.Columns {
		if _, ok := assigned[c.Name]; !ok {
			rest.Columns = append(rest.Columns, c)
		}
	}
	num, cat := (&DtypeSelector{}).Select(rest)
	return append(numeric, num...), append(categorical, cat...)
}
