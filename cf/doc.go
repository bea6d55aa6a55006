// Package cf provides the core counterfactual search engine for cellflip.
//
// # Reading Guide
//
// Start with these three files to understand the search kernel:
//   - instance.go: Instance data model (patch pixels, channels, predicted class)
//   - optimizer.go: The perturbation optimizer (projected gradient + shrinkage)
//   - scheduler.go: The outer trade-off bisection loop producing ResultRecords
//
// # Architecture
//
// The cf package defines interfaces and the search core; classifier backends
// live in sub-packages:
//   - cf/onnx/: ONNX Runtime classifier backend
//
// Sub-packages register their backends via init() functions that call
// RegisterClassifierBackend. The "linear" backend (softmax over channel means,
// loaded from a YAML artifact) is built in.
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - Classifier: map patch pixels to a class-probability vector
//   - Index is concrete but constructed once and read-only afterwards, so it
//     is safe to share across workers
//
// Batch execution (dispatch.go) fans independent per-instance jobs across a
// bounded worker pool, persists each ResultRecord as it completes, and skips
// instances that already have a persisted record, so interrupted batches can
// be resumed with the same output directory.
package cf
