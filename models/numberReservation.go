package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/billing_backend/config"
	"github.com/mmdatafocus/billing_backend/metrics"
	"github.com/mmdatafocus/billing_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxNumberAttempts bounds retries when a reserved number collides with an imported one.
const maxNumberAttempts = 3

type DocumentNumber struct {
	Number   string `json:"number"`
	SeriesId string `json:"series_id"`
	Year     int    `json:"year"`
	Sequence int64  `json:"sequence"`
}

// resolveSeries picks the explicit series, else the tenant's default for docType.
func resolveSeries(tx *gorm.DB, tenantId string, seriesId string, docType DocumentType) (*NumberSeries, error) {
	if seriesId != "" {
		series, err := utils.FetchModelTx[NumberSeries](tx, tenantId, seriesId)
		if err != nil {
			return nil, err
		}
		if series.DocumentType != docType {
			return nil, utils.NewValidationErrorf("number series %s is for %s documents, not %s", series.Name, series.DocumentType, docType)
		}
		return series, nil
	}

	var series NumberSeries
	err := tx.Where("tenant_id = ? AND document_type = ? AND is_default = ?", tenantId, docType, true).
		Order("created_at").
		First(&series).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrNoDefaultSeriesConfigured
		}
		return nil, err
	}
	return &series, nil
}

// ReserveNumber takes the next value of the (series, year) counter inside tx.
// The counter row stays write-locked until tx ends, which serializes concurrent
// reservations across processes; a rolled back tx gives the value back.
func ReserveNumber(tx *gorm.DB, tenantId string, seriesId string, docType DocumentType, issueDate time.Time) (*DocumentNumber, error) {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := tracer.Start(ctx, "numbering.reserve")
	defer span.End()

	series, err := resolveSeries(tx, tenantId, seriesId, docType)
	if err != nil {
		return nil, err
	}
	year := issueDate.UTC().Year()
	span.SetAttributes(attribute.String("series_id", series.ID), attribute.Int("year", year))

	counter, err := incrementCounter(tx, tenantId, series.ID, year)
	if err != nil {
		return nil, err
	}

	metrics.Billing().IncNumberReserved(string(docType))
	return &DocumentNumber{
		Number:   FormatDocumentNumber(series.Prefix, series.Pattern, year, counter.LastValue),
		SeriesId: series.ID,
		Year:     year,
		Sequence: counter.LastValue,
	}, nil
}

func incrementCounter(tx *gorm.DB, tenantId string, seriesId string, year int) (*NumberSeriesCounter, error) {
	bump := func() (int64, error) {
		res := tx.Model(&NumberSeriesCounter{}).
			Where("tenant_id = ? AND series_id = ? AND year = ?", tenantId, seriesId, year).
			UpdateColumn("last_value", gorm.Expr("last_value + ?", 1))
		return res.RowsAffected, res.Error
	}

	affected, err := bump()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// first number of the year; a concurrent creator wins the insert and we bump its row
		first := NumberSeriesCounter{TenantId: tenantId, SeriesId: seriesId, Year: year, LastValue: 0}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&first).Error; err != nil {
			return nil, err
		}
		if affected, err = bump(); err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, errors.New("number series counter could not be created")
		}
	}

	var counter NumberSeriesCounter
	if err := tx.Where("tenant_id = ? AND series_id = ? AND year = ?", tenantId, seriesId, year).
		First(&counter).Error; err != nil {
		return nil, err
	}
	return &counter, nil
}

// assignInvoiceNumber gives a draft its permanent number. A no-op when it already has one.
func assignInvoiceNumber(tx *gorm.DB, inv *Invoice) error {
	if inv.Number != nil && *inv.Number != "" {
		return nil
	}
	seriesId := ""
	if inv.SeriesId != nil {
		seriesId = *inv.SeriesId
	}

	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		num, err := ReserveNumber(tx, inv.TenantId, seriesId, inv.DocumentType, inv.IssueDate)
		if err != nil {
			return err
		}
		// the savepoint sits after the counter bump so a colliding value stays consumed
		if err := tx.SavePoint("assign_number").Error; err != nil {
			return err
		}
		err = tx.Model(inv).Updates(map[string]interface{}{
			"number":      num.Number,
			"series_id":   num.SeriesId,
			"sequence_no": num.Sequence,
			"number_year": num.Year,
		}).Error
		if err == nil {
			inv.Number = &num.Number
			inv.SeriesId = &num.SeriesId
			inv.SequenceNo = &num.Sequence
			inv.NumberYear = &num.Year
			return nil
		}
		if !IsDuplicateKeyErr(err) {
			return err
		}
		if rbErr := tx.RollbackTo("assign_number").Error; rbErr != nil {
			return rbErr
		}
		config.LogInfo(config.GetLogger(), "numberReservation.go", "assignInvoiceNumber",
			"number already taken, skipping", logrus.Fields{
				"tenant_id": inv.TenantId,
				"number":    num.Number,
				"attempt":   attempt,
			})
	}
	return utils.NewStateConflictError("could not reserve a free document number, series counter is behind imported numbers")
}

// logNumberGap records a number that will never be issued (a numbered draft deleted).
func logNumberGap(inv *Invoice) {
	if inv.Number == nil {
		return
	}
	fields := logrus.Fields{
		"tenant_id":     inv.TenantId,
		"invoice_id":    inv.ID,
		"number":        *inv.Number,
		"document_type": inv.DocumentType,
	}
	if inv.SeriesId != nil {
		fields["series_id"] = *inv.SeriesId
	}
	config.LogInfo(config.GetLogger(), "numberReservation.go", "logNumberGap", "document number gap", fields)
}
