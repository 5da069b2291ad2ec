package dataset

import (
	"github.com/YuminosukeSato/scitrain/core/model"
	"github.com/YuminosukeSato/scitrain/pkg/errors"
)

// SavePickle はテーブルを .pkl（gobエンコード）形式で保存する
func SavePickle(t *Table, path string) error {
	if err := model.SaveModel(t, path); err != nil {
		return errors.Wrapf(err, "failed to save table to %s", path)
	}
	return nil
}

// LoadPickle は SavePickle で保存したテーブルを読み込む
func LoadPickle(path string) (*Table, error) {
	var t Table
	if err := model.LoadModel(&t, path); err != nil {
		return nil, errors.Wrapf(err, "failed to load table from %s", path)
	}
	if len(t.Columns) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "%s contains no columns", path)
	}
	// gobは長さの不整合を検出しないため再検証する
	return NewTable(t.Columns...)
}
