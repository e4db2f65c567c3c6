package model

import (
	"fmt"
)

// ArtifactFormat identifies files written by SaveArtifact.
const ArtifactFormat = "loanrisk-artifact"

// FormatVersion is the only envelope version this build reads and writes.
const FormatVersion = 1

// ArtifactKind separates preprocessors from models.
type ArtifactKind string

const (
	KindPreprocessor ArtifactKind = "preprocessor"
	KindModel        ArtifactKind = "model"
)

// ArtifactHeader is the self-describing part of a persisted artifact.
type ArtifactHeader struct {
	// Format must be ArtifactFormat.
	Format string `msgpack:"format"`

	// Version は互換性チェック用のフォーマットバージョン
	Version int `msgpack:"version"`

	Kind ArtifactKind `msgpack:"kind"`

	// Type は登録済みの具象型名（GradientBoostingClassifier等）
	Type string `msgpack:"type"`

	// Fingerprint ties a model to the preprocessor it was trained against.
	Fingerprint string `msgpack:"fingerprint"`

	// FeatureNames は特徴量の名前（オプション）
	FeatureNames []string `msgpack:"feature_names,omitempty"`

	// Hyperparameters はモデルのハイパーパラメータ（参考情報）
	Hyperparameters map[string]interface{} `msgpack:"hyperparameters,omitempty"`
}

// Validate rejects headers this build cannot interpret.
func (h *ArtifactHeader) Validate() error {
	if h.Format != ArtifactFormat {
		return fmt.Errorf("unknown artifact format %q", h.Format)
	}
	if h.Version != FormatVersion {
		return fmt.Errorf("unsupported format version %d (supported: %d)", h.Version, FormatVersion)
	}
	switch h.Kind {
	case KindPreprocessor, KindModel:
	default:
		return fmt.Errorf("unknown artifact kind %q", h.Kind)
	}
	if h.Type == "" {
		return fmt.Errorf("artifact type is required")
	}
	return nil
}
