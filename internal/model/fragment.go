package model

// SourceKind identifies which label surface a raw text fragment came from.
type SourceKind string

const (
	SourceDeclaredText SourceKind = "declared_text"
	SourceNutritionOCR SourceKind = "nutrition_label_ocr"
	SourceMarketingOCR SourceKind = "marketing_label_ocr"
)

// RawFragment is one source's raw text observation for one product. Fragments
// are produced by external collaborators (record retrieval, OCR) and are
// read-only inputs to the pipeline.
type RawFragment struct {
	ProductID  string     `json:"product_id"`
	SourceKind SourceKind `json:"source_kind"`
	Text       string     `json:"text"`
}

// Product bundles a product's identity with the fragments observed for it.
// This is the unit of work for one pipeline run.
type Product struct {
	ID        string        `json:"product_id"`
	Name      string        `json:"product_name"`
	Fragments []RawFragment `json:"fragments"`
}
