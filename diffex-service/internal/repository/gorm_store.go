package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/weiawesome/diffex/diffex-service/internal/domain"
	"github.com/weiawesome/diffex/pkg/log"
)

// GormBackingStore implements BackingStore using GORM.
type GormBackingStore struct {
	db *gorm.DB
}

// NewGormBackingStore creates a new GORM-based backing store.
func NewGormBackingStore(db *gorm.DB) *GormBackingStore {
	return &GormBackingStore{db: db}
}

// Models lists the tables read by the store, for migrations.
func Models() []interface{} {
	return []interface{}{
		&domain.ResultSetModel{},
		&domain.ProbeGeneModel{},
		&domain.ResultModel{},
	}
}

// QueryProbeGeneMapping returns the probe to gene mapping for genes restricted to platforms.
func (s *GormBackingStore) QueryProbeGeneMapping(ctx context.Context, genes []domain.GeneID, platforms []domain.PlatformID) (domain.ProbeGeneMapping, error) {
	l := log.Ctx(ctx)

	mapping := domain.NewProbeGeneMapping()
	if len(genes) == 0 || len(platforms) == 0 {
		return mapping, nil
	}

	var rows []domain.ProbeGeneModel
	err := s.db.WithContext(ctx).
		Where("gene_id IN ?", genes).
		Where("platform_id IN ?", platforms).
		Find(&rows).Error
	if err != nil {
		l.Error().Err(err).
			Str(log.FieldQuery, QueryProbeGeneMapping).
			Int(log.FieldGeneCount, len(genes)).
			Msg("failed to query probe gene mapping")
		return mapping, err
	}

	for _, row := range rows {
		mapping.Add(domain.ProbeID(row.ProbeID), domain.PlatformID(row.PlatformID), domain.GeneID(row.GeneID))
	}

	l.Debug().
		Int(log.FieldGeneCount, len(genes)).
		Int(log.FieldProbeCount, len(mapping.Genes)).
		Msg("probe gene mapping loaded")
	return mapping, nil
}

// QueryResultTuples returns the result rows of probes in resultSets.
func (s *GormBackingStore) QueryResultTuples(ctx context.Context, probes []domain.ProbeID, resultSets []domain.ResultSetID) ([]domain.ResultTuple, error) {
	l := log.Ctx(ctx)

	if len(probes) == 0 || len(resultSets) == 0 {
		return nil, nil
	}

	var rows []domain.ResultModel
	err := s.db.WithContext(ctx).
		Where("probe_id IN ?", probes).
		Where("result_set_id IN ?", resultSets).
		Find(&rows).Error
	if err != nil {
		l.Error().Err(err).
			Str(log.FieldQuery, QueryResultTuples).
			Int(log.FieldProbeCount, len(probes)).
			Int(log.FieldResultSetCount, len(resultSets)).
			Msg("failed to query result tuples")
		return nil, err
	}

	tuples := make([]domain.ResultTuple, len(rows))
	for i := range rows {
		tuples[i] = rows[i].ToTuple()
	}
	return tuples, nil
}

// QueryTopHits returns the most significant results of rs.
func (s *GormBackingStore) QueryTopHits(ctx context.Context, rs domain.ResultSetID, threshold *float64, limit int) ([]domain.DiffExResult, error) {
	l := log.Ctx(ctx)

	query := s.db.WithContext(ctx).
		Where("result_set_id = ?", rs).
		Where("corrected_pvalue IS NOT NULL AND pvalue IS NOT NULL")
	if threshold != nil {
		query = query.Where("corrected_pvalue <= ?", *threshold)
	}

	var rows []domain.ResultModel
	if err := query.Order("corrected_pvalue ASC, id ASC").Limit(limit).Find(&rows).Error; err != nil {
		l.Error().Err(err).
			Str(log.FieldQuery, QueryTopHits).
			Int64(log.FieldResultSetID, int64(rs)).
			Msg("failed to query top hits")
		return nil, err
	}

	results := make([]domain.DiffExResult, len(rows))
	for i := range rows {
		results[i] = rows[i].ToDiffExResult()
	}
	return results, nil
}

// GetPlatformsForResultSet returns the array designs of rs.
func (s *GormBackingStore) GetPlatformsForResultSet(ctx context.Context, rs domain.ResultSetID) ([]domain.PlatformID, error) {
	l := log.Ctx(ctx)

	var model domain.ResultSetModel
	result := s.db.WithContext(ctx).First(&model, "id = ?", rs)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrResultSetNotFound
		}
		l.Error().Err(result.Error).
			Str(log.FieldQuery, QueryPlatforms).
			Int64(log.FieldResultSetID, int64(rs)).
			Msg("failed to get result set platforms")
		return nil, result.Error
	}
	return model.ToDomain().ArrayDesignIDs, nil
}
