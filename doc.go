// Package scitrain trains tabular classification and regression models from
// CSV, XLS, XLSX or gob table files and saves the fitted pipeline as a gob artifact.
//
// Two commands are provided:
//
//	classify [flags] <algorithm> <target_column> <input_file_path> <output_file_path>
//	regress  [flags] <algorithm> <target_column> <input_file_path> <output_file_path>
//
// classify supports random_forest and logistic_regression; regress supports
// linear_regression and support_vector_machine.
//
// # Pipeline
//
// Every run follows the same steps:
//
//   - load the table (dataset)
//   - split 80/20 with a fixed seed (sklearn/model_selection)
//   - impute and encode columns with a ColumnTransformer (preprocessing)
//   - select hyperparameters with GridSearchCV over k folds
//   - evaluate the refit pipeline on the held-out rows (metrics)
//
// Metrics are printed to standard output, one "Name: value" line each:
//
//	Accuracy: 0.875
//	Precision: 0.88
//	Recall: 0.88
//	F1-score: 0.87
//
// Logs are structured JSON on standard error (pkg/log).
//
// # Library use
//
// The same flow is available from Go:
//
//	table, err := dataset.Load("data/train.csv")
//	if err != nil {
//	    return err
//	}
//	res, err := trainer.Train(ctx, table, trainer.Job{
//	    Task:      trainer.Classification,
//	    Algorithm: "random_forest",
//	    Target:    "target",
//	    Config:    config.Default(),
//	})
//	if err != nil {
//	    return err
//	}
//	return res.Artifact.Save("model.gob")
//
// A saved artifact can be loaded with trainer.LoadArtifact and used for
// prediction on tables with the same feature columns.
package scitrain
