package models

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/utils"
	"gorm.io/gorm"
)

const DefaultNumberPattern = "{YYYY}{SEQ:4}"

// NumberSeries is a tenant's numbering sequence for one document type.
// Counters live in NumberSeriesCounter, one row per (series, year).
type NumberSeries struct {
	ID           string       `gorm:"size:36;primaryKey" json:"id"`
	TenantId     string       `gorm:"size:64;not null;index" json:"tenant_id"`
	DocumentType DocumentType `gorm:"size:20;not null;index" json:"document_type"`
	Name         string       `gorm:"size:100;not null" json:"name"`
	Prefix       string       `gorm:"size:20" json:"prefix"`
	Pattern      string       `gorm:"size:50;not null" json:"pattern"`
	IsDefault    bool         `gorm:"not null;default:false" json:"is_default"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *NumberSeries) BeforeCreate(tx *gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

type NumberSeriesCounter struct {
	ID        int       `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"size:64;not null;index" json:"tenant_id"`
	SeriesId  string    `gorm:"size:36;not null;uniqueIndex:uniq_series_year,priority:1" json:"series_id"`
	Year      int       `gorm:"not null;uniqueIndex:uniq_series_year,priority:2" json:"year"`
	LastValue int64     `gorm:"not null;default:0" json:"last_value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewNumberSeries struct {
	DocumentType DocumentType `json:"document_type" validate:"required"`
	Name         string       `json:"name" validate:"required,max=100"`
	Prefix       string       `json:"prefix" validate:"max=20"`
	Pattern      string       `json:"pattern" validate:"max=50"`
	IsDefault    bool         `json:"is_default"`
}

var numberTokenRegexp = regexp.MustCompile(`\{(YYYY|YY|SEQ(?::([1-9]\d?))?)\}`)

// validateNumberPattern accepts only known tokens, exactly one sequence token
// and at least one year token. Counters restart every year, so a pattern
// without the year would repeat last year's numbers.
func validateNumberPattern(pattern string) error {
	var seqTokens, yearTokens int
	for _, m := range numberTokenRegexp.FindAllStringSubmatch(pattern, -1) {
		if strings.HasPrefix(m[1], "SEQ") {
			seqTokens++
		} else {
			yearTokens++
		}
	}
	rest := numberTokenRegexp.ReplaceAllString(pattern, "")
	if strings.ContainsAny(rest, "{}") {
		return utils.NewValidationErrorf("pattern %q contains an unknown token, use {YYYY}, {YY}, {SEQ} or {SEQ:n} with n from 1 to 99", pattern)
	}
	if seqTokens != 1 {
		return utils.NewValidationError("pattern must contain exactly one {SEQ} or {SEQ:n} token")
	}
	if yearTokens == 0 {
		return utils.NewValidationError("pattern must contain a {YYYY} or {YY} token")
	}
	return nil
}

// validate input for both create & update. (id = "" for create)
func (input *NewNumberSeries) validate(ctx context.Context, tenantId string, id string) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.DocumentType.IsValid() {
		return utils.NewValidationErrorf("invalid document type %q", input.DocumentType)
	}
	if input.Pattern == "" {
		input.Pattern = DefaultNumberPattern
	}
	if err := validateNumberPattern(input.Pattern); err != nil {
		return err
	}
	if id != "" {
		if err := utils.ValidateResourceId[NumberSeries](ctx, tenantId, id); err != nil {
			return err
		}
	}
	if err := utils.ValidateUnique[NumberSeries](ctx, tenantId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

// FormatDocumentNumber substitutes {YYYY}, {YY}, {SEQ} and {SEQ:n} (zero padded to n digits).
func FormatDocumentNumber(prefix string, pattern string, year int, seq int64) string {
	if pattern == "" {
		pattern = DefaultNumberPattern
	}
	body := numberTokenRegexp.ReplaceAllStringFunc(pattern, func(token string) string {
		m := numberTokenRegexp.FindStringSubmatch(token)
		switch {
		case m[1] == "YYYY":
			return fmt.Sprintf("%04d", year)
		case m[1] == "YY":
			return fmt.Sprintf("%02d", year%100)
		case m[2] != "":
			width, _ := strconv.Atoi(m[2])
			return fmt.Sprintf("%0*d", width, seq)
		default:
			return strconv.FormatInt(seq, 10)
		}
	})
	return prefix + body
}

// clear the previous default of the same document type (same tx as the new default)
func clearDefaultSeries(tx *gorm.DB, tenantId string, docType DocumentType, exceptId string) error {
	return tx.Model(&NumberSeries{}).
		Where("tenant_id = ? AND document_type = ? AND is_default = ? AND id <> ?", tenantId, docType, true, exceptId).
		Update("is_default", false).Error
}

func CreateNumberSeries(ctx context.Context, input *NewNumberSeries) (*NumberSeries, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, tenantId, ""); err != nil {
		return nil, err
	}

	series := NumberSeries{
		TenantId:     tenantId,
		DocumentType: input.DocumentType,
		Name:         input.Name,
		Prefix:       input.Prefix,
		Pattern:      input.Pattern,
		IsDefault:    input.IsDefault,
	}

	tx := dbFrom(ctx).Begin()
	if err := tx.Create(&series).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if series.IsDefault {
		if err := clearDefaultSeries(tx, tenantId, series.DocumentType, series.ID); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &series, nil
}

// UpdateNumberSeries changes how future numbers look. Issued numbers never change.
func UpdateNumberSeries(ctx context.Context, id string, input *NewNumberSeries) (*NumberSeries, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, tenantId, id); err != nil {
		return nil, err
	}

	tx := dbFrom(ctx).Begin()
	series, err := utils.FetchModelForUpdate[NumberSeries](tx, tenantId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if series.DocumentType != input.DocumentType {
		var used int64
		if err := tx.Model(&Invoice{}).Where("tenant_id = ? AND series_id = ?", tenantId, id).Count(&used).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if used > 0 {
			tx.Rollback()
			return nil, utils.ErrSeriesInUse.WithMessage("document type of a used number series cannot change")
		}
	}
	if err := tx.Model(series).Updates(map[string]interface{}{
		"document_type": input.DocumentType,
		"name":          input.Name,
		"prefix":        input.Prefix,
		"pattern":       input.Pattern,
		"is_default":    input.IsDefault,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if input.IsDefault {
		if err := clearDefaultSeries(tx, tenantId, input.DocumentType, id); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[NumberSeries](tenantId, id); err != nil {
		config.LogError(config.GetLogger(), "numberSeries.go", "UpdateNumberSeries", "RemoveRedisItem", id, err)
	}
	return utils.FetchModel[NumberSeries](ctx, tenantId, id)
}

func DeleteNumberSeries(ctx context.Context, id string) (*NumberSeries, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}

	tx := dbFrom(ctx).Begin()
	series, err := utils.FetchModelForUpdate[NumberSeries](tx, tenantId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	var used int64
	if err := tx.Model(&Invoice{}).Where("tenant_id = ? AND series_id = ?", tenantId, id).Count(&used).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if used > 0 {
		tx.Rollback()
		return nil, utils.ErrSeriesInUse
	}
	var templates int64
	if err := tx.Model(&RecurringTemplate{}).Where("tenant_id = ? AND series_id = ? AND is_active = ?", tenantId, id, true).Count(&templates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if templates > 0 {
		tx.Rollback()
		return nil, utils.ErrSeriesInUse.WithMessage("number series is used by an active recurring template")
	}
	if err := tx.Where("tenant_id = ? AND series_id = ?", tenantId, id).Delete(&NumberSeriesCounter{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Delete(series).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[NumberSeries](tenantId, id); err != nil {
		config.LogError(config.GetLogger(), "numberSeries.go", "DeleteNumberSeries", "RemoveRedisItem", id, err)
	}
	return series, nil
}

func GetNumberSeries(ctx context.Context, id string) (*NumberSeries, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	return utils.CachedModel(tenantId, id, func() (*NumberSeries, error) {
		return utils.FetchModel[NumberSeries](ctx, tenantId, id)
	})
}

func ListNumberSeries(ctx context.Context, docType *DocumentType) ([]*NumberSeries, error) {
	tenantId, err := utils.RequireTenantId(ctx)
	if err != nil {
		return nil, err
	}
	var results []*NumberSeries
	dbCtx := dbFrom(ctx).Where("tenant_id = ?", tenantId)
	if docType != nil {
		dbCtx = dbCtx.Where("document_type = ?", *docType)
	}
	if err := dbCtx.Order("document_type, name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
