package domain

import (
	"github.com/weiawesome/diffex/pkg/database"
)

// ResultSetModel is the GORM model for the result_sets table.
type ResultSetModel struct {
	ID             int64               `gorm:"primaryKey;autoIncrement:false"`
	Name           string              `gorm:"type:varchar(255)"`
	ArrayDesignIDs database.Int64Array `gorm:"type:text"`
}

// TableName specifies the table name for ResultSetModel.
func (ResultSetModel) TableName() string {
	return "result_sets"
}

// ToDomain converts ResultSetModel to a ResultSetSummary.
func (m *ResultSetModel) ToDomain() ResultSetSummary {
	platforms := make([]PlatformID, len(m.ArrayDesignIDs))
	for i, id := range m.ArrayDesignIDs {
		platforms[i] = PlatformID(id)
	}
	return ResultSetSummary{ID: ResultSetID(m.ID), ArrayDesignIDs: platforms}
}

// ProbeGeneModel is the GORM model for the probe_genes table. A probe
// belongs to exactly one platform and maps to zero or more genes.
type ProbeGeneModel struct {
	ProbeID    int64 `gorm:"primaryKey;autoIncrement:false"`
	GeneID     int64 `gorm:"primaryKey;autoIncrement:false;index"`
	PlatformID int64 `gorm:"index;not null"`
}

// TableName specifies the table name for ProbeGeneModel.
func (ProbeGeneModel) TableName() string {
	return "probe_genes"
}

// ResultModel is the GORM model for the diff_ex_results table, one row per
// probe and result-set. P-values may be null when the test was not run.
type ResultModel struct {
	ID              int64    `gorm:"primaryKey;autoIncrement:false"`
	ProbeID         int64    `gorm:"index;not null"`
	ResultSetID     int64    `gorm:"index;not null"`
	CorrectedPvalue *float64 `gorm:"index"`
	Pvalue          *float64
}

// TableName specifies the table name for ResultModel.
func (ResultModel) TableName() string {
	return "diff_ex_results"
}

// ToTuple converts ResultModel to a raw ResultTuple.
func (m *ResultModel) ToTuple() ResultTuple {
	return ResultTuple{
		ProbeID:         ProbeID(m.ProbeID),
		ResultID:        ResultID(m.ID),
		ResultSetID:     ResultSetID(m.ResultSetID),
		CorrectedPvalue: m.CorrectedPvalue,
		Pvalue:          m.Pvalue,
	}
}

// ToDiffExResult converts ResultModel to a DiffExResult. Callers only pass
// rows whose p-values are both set.
func (m *ResultModel) ToDiffExResult() DiffExResult {
	r := DiffExResult{
		ResultID:    ResultID(m.ID),
		ProbeID:     ProbeID(m.ProbeID),
		ResultSetID: ResultSetID(m.ResultSetID),
	}
	if m.CorrectedPvalue != nil {
		r.CorrectedPvalue = *m.CorrectedPvalue
	}
	if m.Pvalue != nil {
		r.Pvalue = *m.Pvalue
	}
	return r
}
